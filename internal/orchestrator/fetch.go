package orchestrator

import (
    "context"
    "fmt"
    "net/http"
    "net/url"
    "path"

    "github.com/local/flipbook/internal/intake"
)

// fetch downloads a document by URL into memory, bounded by the intake size limit.
func (o *Orchestrator) fetch(ctx context.Context, rawURL string) (string, []byte, error) {
    u, err := url.Parse(rawURL)
    if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        return "", nil, &intake.RejectedError{Reason: intake.ReasonBadSource, Message: "Only http and https document links are supported."}
    }
    ctx, cancel := context.WithTimeout(ctx, o.deps.FetchTimeout)
    defer cancel()
    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
    resp, err := http.DefaultClient.Do(req)
    if err != nil { return "", nil, fmt.Errorf("%w: %s: %v", ErrFetch, u.Host, err) }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK { return "", nil, fmt.Errorf("%w: %s: http %d", ErrFetch, u.Host, resp.StatusCode) }

    name := path.Base(u.Path)
    if name == "" || name == "/" || name == "." { name = "download.pdf" }
    data, _, err := o.deps.Intake.Read(resp.Body, name)
    if err != nil { return "", nil, err }
    o.log.Info().Str("host", u.Host).Str("name", name).Int("bytes", len(data)).Msg("downloaded document")
    return name, data, nil
}

package orchestrator

import (
    "bytes"
    "context"
    "encoding/json"
    "image"
    _ "image/png"
    "mime/multipart"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/flipbook/internal/document/documenttest"
    "github.com/local/flipbook/internal/intake"
    "github.com/local/flipbook/internal/narration"
    "github.com/local/flipbook/internal/pagination"
    "github.com/local/flipbook/internal/render"
    "github.com/local/flipbook/internal/store"
    "github.com/local/flipbook/internal/viewport"
)

type recordingSynth struct {
    mu   sync.Mutex
    said []narration.Utterance
}

func (s *recordingSynth) Available() error { return nil }
func (s *recordingSynth) Speak(u narration.Utterance, _ narration.Callbacks) error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.said = append(s.said, u)
    return nil
}
func (s *recordingSynth) Pause() error  { return nil }
func (s *recordingSynth) Resume() error { return nil }
func (s *recordingSynth) Cancel() error { return nil }

type fixture struct {
    orch  *Orchestrator
    srv   *httptest.Server
    synth *recordingSynth
    dir   string
}

func newFixture(t *testing.T, pages int) *fixture {
    t.Helper()
    return newFixtureWith(t, pages, viewport.Instant{})
}

func newFixtureWith(t *testing.T, pages int, anim viewport.Animator) *fixture {
    t.Helper()
    checker := intake.New(1<<20, false)
    checker.CountPages = func([]byte) (int, error) { return pages, nil }
    r := render.New(render.Options{Scale: 1.5, Format: render.FormatPNG, Concurrency: 4}, nil)
    synth := &recordingSynth{}
    dir := t.TempDir()
    o := New(Dependencies{
        Engine:     &documenttest.Engine{Template: documenttest.New(pages)},
        Intake:     checker,
        Renderer:   r,
        Pagination: pagination.NewController(r, pagination.Options{Config: pagination.Config{InitialBatchSize: 10, PrefetchBatchSize: 5, PrefetchThreshold: 3}}),
        Viewport:   viewport.New(viewport.Config{}, anim),
        Narration:  narration.NewAdapter(synth, "en-US", 1),
        Prefs:      store.NewMemoryPreferences(),
        UploadDir:  dir,
    })
    ctx, cancel := context.WithCancel(context.Background())
    go o.Run(ctx)
    mux := http.NewServeMux()
    o.RegisterRoutes(mux)
    srv := httptest.NewServer(mux)
    t.Cleanup(func() { srv.Close(); cancel() })
    return &fixture{orch: o, srv: srv, synth: synth, dir: dir}
}

func (f *fixture) upload(t *testing.T, name string, data []byte) *http.Response {
    t.Helper()
    var body bytes.Buffer
    mw := multipart.NewWriter(&body)
    fw, err := mw.CreateFormFile("file", name)
    require.NoError(t, err)
    _, _ = fw.Write(data)
    require.NoError(t, mw.Close())
    resp, err := http.Post(f.srv.URL+"/documents", mw.FormDataContentType(), &body)
    require.NoError(t, err)
    return resp
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
    t.Helper()
    req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
    require.NoError(t, err)
    if body != "" { req.Header.Set("Content-Type", "application/json") }
    resp, err := http.DefaultClient.Do(req)
    require.NoError(t, err)
    defer resp.Body.Close()
    var out map[string]any
    _ = json.NewDecoder(resp.Body).Decode(&out)
    return resp, out
}

func (f *fixture) session(t *testing.T) (map[string]any, map[string]any) {
    _, out := f.do(t, http.MethodGet, "/session", "")
    s, _ := out["session"].(map[string]any)
    v, _ := out["viewport"].(map[string]any)
    return s, v
}

func (f *fixture) waitLoaded(t *testing.T, n int) {
    t.Helper()
    require.Eventually(t, func() bool {
        s, _ := f.session(t)
        return s["state"] == "ready" && s["loaded_count"] == float64(n)
    }, 3*time.Second, 10*time.Millisecond)
}

var pdf = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

func TestUploadLoadsInitialBatch(t *testing.T) {
    f := newFixture(t, 12)
    resp := f.upload(t, "book.pdf", pdf)
    defer resp.Body.Close()
    require.Equal(t, http.StatusCreated, resp.StatusCode)
    var doc documentResp
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
    assert.Equal(t, 12, doc.TotalPages)
    assert.NotEmpty(t, doc.Fingerprint)

    f.waitLoaded(t, 10)

    img, err := http.Get(f.srv.URL + "/pages/1")
    require.NoError(t, err)
    defer img.Body.Close()
    assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
    cfg, _, err := image.DecodeConfig(img.Body)
    require.NoError(t, err)
    assert.Equal(t, 150, cfg.Width)
    assert.Equal(t, 210, cfg.Height)

    missing, _ := f.do(t, http.MethodGet, "/pages/11", "")
    assert.Equal(t, http.StatusNotFound, missing.StatusCode)

    kept, err := filepath.Glob(filepath.Join(f.dir, uploadPrefix+"*_book.pdf"))
    require.NoError(t, err)
    assert.Len(t, kept, 1)
}

func TestUploadRejectedLeavesSessionAlone(t *testing.T) {
    f := newFixture(t, 12)
    resp := f.upload(t, "notes.pdf", []byte("plain text, not a pdf"))
    defer resp.Body.Close()
    assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
    var out map[string]any
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
    assert.Equal(t, string(intake.ReasonUnsupported), out["reason"])

    s, _ := f.session(t)
    assert.Equal(t, "idle", s["state"])
    assert.Equal(t, float64(0), s["generation"])
}

func TestUploadTooLarge(t *testing.T) {
    f := newFixture(t, 12)
    big := append(append([]byte{}, pdf...), bytes.Repeat([]byte{' '}, 1<<20)...)
    resp := f.upload(t, "big.pdf", big)
    defer resp.Body.Close()
    assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestFlipNearBoundaryPrefetches(t *testing.T) {
    f := newFixture(t, 12)
    f.upload(t, "book.pdf", pdf).Body.Close()
    f.waitLoaded(t, 10)

    resp, out := f.do(t, http.MethodPost, "/viewport/goto?index=8", "")
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.Equal(t, true, out["moved"])

    f.waitLoaded(t, 12)
    _, v := f.session(t)
    assert.Equal(t, float64(8), v["current_index"])
    assert.Equal(t, float64(12), v["loaded"])
}

func TestFarFlipDoesNotPrefetch(t *testing.T) {
    f := newFixture(t, 12)
    f.upload(t, "book.pdf", pdf).Body.Close()
    f.waitLoaded(t, 10)

    f.do(t, http.MethodPost, "/viewport/goto?index=2", "")
    time.Sleep(50 * time.Millisecond)
    s, _ := f.session(t)
    assert.Equal(t, float64(10), s["loaded_count"])
    assert.Equal(t, float64(10), s["highest_requested"])
}

func TestNextAtLastPage(t *testing.T) {
    f := newFixture(t, 3)
    f.upload(t, "short.pdf", pdf).Body.Close()
    f.waitLoaded(t, 3)

    f.do(t, http.MethodPost, "/viewport/goto?index=2", "")
    _, out := f.do(t, http.MethodPost, "/viewport/next", "")
    assert.Equal(t, false, out["moved"])
    vp := out["viewport"].(map[string]any)
    assert.Equal(t, float64(2), vp["current_index"])
}

func TestZoomClampsOverHTTP(t *testing.T) {
    f := newFixture(t, 3)
    var out map[string]any
    for i := 0; i < 10; i++ {
        _, out = f.do(t, http.MethodPost, "/viewport/zoom-in", "")
    }
    assert.Equal(t, 2.0, out["viewport"].(map[string]any)["zoom"])
}

func TestThumbnail(t *testing.T) {
    f := newFixture(t, 3)
    f.upload(t, "short.pdf", pdf).Body.Close()
    f.waitLoaded(t, 3)

    resp, err := http.Get(f.srv.URL + "/pages/2/thumb?width=50")
    require.NoError(t, err)
    defer resp.Body.Close()
    cfg, _, err := image.DecodeConfig(resp.Body)
    require.NoError(t, err)
    assert.Equal(t, 50, cfg.Width)
    assert.Equal(t, 70, cfg.Height)
}

func TestSpeakCurrentPage(t *testing.T) {
    f := newFixture(t, 5)
    resp, _ := f.do(t, http.MethodPost, "/narration/speak", "")
    assert.Equal(t, http.StatusNotFound, resp.StatusCode)

    f.upload(t, "book.pdf", pdf).Body.Close()
    f.waitLoaded(t, 5)
    f.do(t, http.MethodPost, "/viewport/goto?index=1", "")

    resp, out := f.do(t, http.MethodPost, "/narration/speak", "")
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.Equal(t, "speaking", out["state"])
    assert.Equal(t, float64(2), out["page"])
    require.Len(t, f.synth.said, 1)
    assert.Equal(t, "The quick brown fox jumps over the lazy dog on page 2.", f.synth.said[0].Text)

    resp, _ = f.do(t, http.MethodPost, "/narration/resume", "")
    assert.Equal(t, http.StatusConflict, resp.StatusCode)

    resp, out = f.do(t, http.MethodPost, "/narration/language", `{"tag":"xx yy"}`)
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

    _, out = f.do(t, http.MethodPost, "/narration/volume", `{"volume":4}`)
    assert.Equal(t, 1.0, out["volume"])
}

func TestThemePreference(t *testing.T) {
    f := newFixture(t, 1)
    _, out := f.do(t, http.MethodGet, "/preferences/theme", "")
    assert.Equal(t, "light", out["theme"])

    resp, _ := f.do(t, http.MethodPut, "/preferences/theme", `{"theme":"dark"}`)
    assert.Equal(t, http.StatusOK, resp.StatusCode)
    _, out = f.do(t, http.MethodGet, "/preferences/theme", "")
    assert.Equal(t, "dark", out["theme"])

    resp, _ = f.do(t, http.MethodPut, "/preferences/theme", `{"theme":"sepia"}`)
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArchiveNotConfigured(t *testing.T) {
    f := newFixture(t, 1)
    resp, _ := f.do(t, http.MethodGet, "/archive", "")
    assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCleanupTemps(t *testing.T) {
    dir := t.TempDir()
    old := filepath.Join(dir, uploadPrefix+"old.pdf")
    fresh := filepath.Join(dir, uploadPrefix+"fresh.pdf")
    other := filepath.Join(dir, "keep.txt")
    for _, p := range []string{old, fresh, other} {
        require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
    }
    past := time.Now().Add(-2 * time.Hour)
    require.NoError(t, os.Chtimes(old, past, past))
    require.NoError(t, os.Chtimes(other, past, past))

    CleanupTemps(dir, time.Hour)
    assert.NoFileExists(t, old)
    assert.FileExists(t, fresh)
    assert.FileExists(t, other)
}

func TestViewerActions(t *testing.T) {
    f := newFixture(t, 12)
    ctx := context.Background()
    require.NoError(t, f.orch.Upload(ctx, "book.pdf", bytes.NewReader(pdf)))
    f.waitLoaded(t, 10)

    require.NoError(t, f.orch.Act(ctx, "next", ""))
    require.NoError(t, f.orch.Act(ctx, "zoom-in", ""))
    require.NoError(t, f.orch.Act(ctx, "theme", "dark"))

    v, err := f.orch.View(ctx)
    require.NoError(t, err)
    assert.Equal(t, 1, v.Viewport.CurrentIndex)
    assert.Equal(t, 2, v.Viewport.CurrentPage)
    assert.Equal(t, 1.2, v.Viewport.Zoom)
    assert.Equal(t, "dark", v.Theme)
    assert.Equal(t, "ready", v.Session.State)

    assert.Error(t, f.orch.Act(ctx, "goto", "x"))
    assert.Error(t, f.orch.Act(ctx, "shuffle", ""))
    assert.ErrorIs(t, f.orch.Act(ctx, "theme", "sepia"), store.ErrInvalidTheme)

    matches, _ := filepath.Glob(filepath.Join(f.dir, uploadPrefix+"*_book.pdf"))
    assert.Len(t, matches, 1)
}

func TestDocumentSwitchDropsPendingFlip(t *testing.T) {
    f := newFixtureWith(t, 12, viewport.TimedAnimator{Duration: 150 * time.Millisecond})
    resp := f.upload(t, "first.pdf", pdf)
    resp.Body.Close()
    f.waitLoaded(t, 10)

    resp, _ = f.do(t, http.MethodPost, "/viewport/goto?index=8", "")
    require.Equal(t, http.StatusOK, resp.StatusCode)
    _, v := f.session(t)
    require.Equal(t, true, v["flipping"])

    resp = f.upload(t, "second.pdf", pdf)
    resp.Body.Close()
    require.Eventually(t, func() bool {
        s, _ := f.session(t)
        return s["generation"] == float64(2) && s["state"] == "ready"
    }, 3*time.Second, 10*time.Millisecond)

    time.Sleep(300 * time.Millisecond)
    s, v := f.session(t)
    assert.Equal(t, float64(0), v["current_index"])
    assert.Equal(t, false, v["flipping"])
    assert.Equal(t, float64(10), s["highest_requested"])
    assert.Equal(t, float64(10), s["loaded_count"])
}

func TestLoadByURLRejectsBadLinks(t *testing.T) {
    f := newFixture(t, 3)
    for _, link := range []string{"ftp://example.com/book.pdf", "file:///etc/passwd", "://nope", "http://"} {
        resp, out := f.do(t, http.MethodPost, "/documents", `{"url": "`+link+`"}`)
        assert.Equal(t, http.StatusBadRequest, resp.StatusCode, link)
        assert.Equal(t, "bad_source", out["reason"], link)
    }
    s, _ := f.session(t)
    assert.Equal(t, "idle", s["state"])
}

func TestLoadByURL(t *testing.T) {
    remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/books/remote.pdf" { http.NotFound(w, r); return }
        _, _ = w.Write(pdf)
    }))
    defer remote.Close()
    f := newFixture(t, 12)

    resp, _ := f.do(t, http.MethodPost, "/documents", `{"url": "`+remote.URL+`/missing.pdf"}`)
    assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

    resp, out := f.do(t, http.MethodPost, "/documents", `{"url": "`+remote.URL+`/books/remote.pdf"}`)
    require.Equal(t, http.StatusCreated, resp.StatusCode)
    assert.Equal(t, "remote.pdf", out["name"])
    f.waitLoaded(t, 10)
}

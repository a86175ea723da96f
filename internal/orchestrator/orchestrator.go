package orchestrator

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "github.com/local/flipbook/internal/document"
    "github.com/local/flipbook/internal/intake"
    "github.com/local/flipbook/internal/logger"
    "github.com/local/flipbook/internal/narration"
    "github.com/local/flipbook/internal/pagination"
    "github.com/local/flipbook/internal/render"
    "github.com/local/flipbook/internal/statuscheck"
    "github.com/local/flipbook/internal/storage"
    "github.com/local/flipbook/internal/store"
    "github.com/local/flipbook/internal/viewport"
)

var (
    ErrNoDocument     = errors.New("no document loaded")
    ErrNotLoaded      = errors.New("page not loaded yet")
    ErrOfficeDisabled = errors.New("office conversion disabled")
    ErrNoArchive      = errors.New("archive not configured")
    ErrFetch          = errors.New("document download failed")
)

// Converter turns office documents into PDF.
type Converter interface {
    Convert(ctx context.Context, name string, data []byte) ([]byte, error)
}

// Archive keeps sources and rendered pages outside the process.
type Archive interface {
    PutDocument(ctx context.Context, fingerprint, name string, data []byte) error
    PutPage(ctx context.Context, fingerprint string, p render.Page) error
    GetDocument(ctx context.Context, fingerprint string) ([]byte, *storage.Entry, error)
    List(ctx context.Context, limit int) ([]storage.Entry, error)
}

type HealthChecker interface {
    Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies are created by the application root and shared for the process lifetime.
type Dependencies struct {
    Engine     document.Engine
    Intake     *intake.Checker
    Renderer   *render.Renderer
    Pagination *pagination.Controller
    Viewport   *viewport.Viewport
    Narration  *narration.Adapter
    Prefs      store.Preferences
    Converter  Converter
    Archive    Archive
    Health     HealthChecker

    ThumbWidth   int
    ArchivePages bool
    UploadDir    string
    FetchTimeout time.Duration
}

type Orchestrator struct {
    deps Dependencies
    log  zerolog.Logger

    mountMu    sync.Mutex
    mountedGen uint64

    archMu   sync.Mutex
    archived map[string]map[int]bool
}

func New(deps Dependencies) *Orchestrator {
    if deps.ThumbWidth <= 0 { deps.ThumbWidth = 160 }
    if deps.UploadDir == "" { deps.UploadDir = "uploads" }
    if deps.FetchTimeout <= 0 { deps.FetchTimeout = 30 * time.Second }
    return &Orchestrator{
        deps:     deps,
        log:      logger.Component("orchestrator"),
        archived: map[string]map[int]bool{},
    }
}

// Run starts the pagination controller and the two channels between it and the viewport.
// It returns when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
    updates := o.deps.Pagination.Subscribe()
    var wg sync.WaitGroup
    wg.Add(3)
    go func() { defer wg.Done(); o.deps.Pagination.Run(ctx) }()
    go func() { defer wg.Done(); o.forwardNavigation(ctx) }()
    go func() {
        defer wg.Done()
        for u := range updates {
            o.mount(u.Status.Generation, u.Pages, u.Version)
            if o.deps.ArchivePages && o.deps.Archive != nil && u.Status.State == pagination.Ready.String() {
                o.archiveNewPages(ctx, u.Pages)
            }
        }
    }()
    wg.Wait()
    o.deps.Narration.Stop()
}

// forwardNavigation is the single consumer of viewport flip events.
func (o *Orchestrator) forwardNavigation(ctx context.Context) {
    nav := o.deps.Viewport.Navigations()
    for {
        select {
        case <-ctx.Done():
            return
        case idx := <-nav:
            if err := o.deps.Pagination.Navigate(ctx, idx); err != nil && !errors.Is(err, context.Canceled) {
                o.log.Warn().Err(err).Int("index", idx).Msg("navigation not delivered")
            }
        }
    }
}

// mount re-keys the viewport on a new store version, resetting it first when the
// generation changed.
func (o *Orchestrator) mount(gen uint64, pages *store.PageStore, version uint64) {
    if pages == nil { return }
    o.mountMu.Lock()
    defer o.mountMu.Unlock()
    if gen < o.mountedGen { return }
    if gen != o.mountedGen {
        o.deps.Viewport.Reset()
        o.deps.Narration.Stop()
        o.mountedGen = gen
    }
    o.deps.Viewport.Remount(pages.Snapshot(), version)
}

// sync pulls the controller's current state into the viewport; used before serving
// viewport requests so a dropped update never leaves it behind.
func (o *Orchestrator) sync(ctx context.Context) (pagination.Status, error) {
    st, err := o.deps.Pagination.Status(ctx)
    if err != nil { return st, err }
    pages, err := o.deps.Pagination.Pages(ctx)
    if err != nil { return st, err }
    o.mount(st.Generation, pages, pages.Version())
    return st, nil
}

// Load validates, converts if needed, opens and supplies a document. Rejections leave the
// current session untouched.
func (o *Orchestrator) Load(ctx context.Context, name string, data []byte) (*document.Handle, error) {
    info, err := o.deps.Intake.Check(name, data)
    if err != nil { return nil, err }

    if info.Kind == intake.KindOffice {
        if o.deps.Converter == nil { return nil, ErrOfficeDisabled }
        pdf, err := o.deps.Converter.Convert(ctx, name, data)
        if err != nil { return nil, fmt.Errorf("convert %s: %w", name, err) }
        data = pdf
    }

    h, err := document.Open(o.deps.Engine, name, data)
    if err != nil {
        return nil, &intake.RejectedError{Reason: intake.ReasonCorrupt, Message: "The document could not be opened."}
    }
    if err := o.deps.Pagination.Supply(ctx, h); err != nil {
        _ = h.Release()
        return nil, err
    }
    o.log.Info().Str("document_id", h.ID).Str("name", name).Str("kind", string(info.Kind)).Int("total_pages", h.TotalPages()).
        Str("fingerprint", h.Fingerprint).Msg("document loaded")

    if o.deps.Archive != nil {
        go o.archiveSource(h.Fingerprint, name, data)
    }
    return h, nil
}

func (o *Orchestrator) archiveSource(fingerprint, name string, data []byte) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
    defer cancel()
    if err := o.deps.Archive.PutDocument(ctx, fingerprint, name, data); err != nil {
        o.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("archive source failed")
    }
}

func (o *Orchestrator) archiveNewPages(ctx context.Context, pages *store.PageStore) {
    h, err := o.deps.Pagination.Document(ctx)
    if err != nil || h == nil { return }
    o.archMu.Lock()
    done := o.archived[h.Fingerprint]
    if done == nil {
        done = map[int]bool{}
        o.archived[h.Fingerprint] = done
    }
    var todo []render.Page
    for _, p := range pages.Snapshot() {
        if !done[p.Index] {
            done[p.Index] = true
            todo = append(todo, p)
        }
    }
    o.archMu.Unlock()

    for _, p := range todo {
        if err := o.deps.Archive.PutPage(ctx, h.Fingerprint, p); err != nil {
            o.log.Warn().Err(err).Int("page", p.Index).Msg("archive page failed")
        }
    }
}

// OpenArchived reloads a previously archived source by fingerprint.
func (o *Orchestrator) OpenArchived(ctx context.Context, fingerprint string) (*document.Handle, error) {
    if o.deps.Archive == nil { return nil, ErrNoArchive }
    data, entry, err := o.deps.Archive.GetDocument(ctx, fingerprint)
    if err != nil { return nil, err }
    name := entry.Name
    if name == "" { name = fingerprint + ".pdf" }
    return o.Load(ctx, name, data)
}

// current returns the active handle.
func (o *Orchestrator) current(ctx context.Context) (*document.Handle, error) {
    h, err := o.deps.Pagination.Document(ctx)
    if err != nil { return nil, err }
    if h == nil { return nil, ErrNoDocument }
    return h, nil
}

// SpeakCurrent narrates the page under the viewport.
func (o *Orchestrator) SpeakCurrent(ctx context.Context) (int, error) {
    if _, err := o.sync(ctx); err != nil { return 0, err }
    st := o.deps.Viewport.State()
    if st.CurrentPage == 0 { return 0, ErrNoDocument }
    h, err := o.current(ctx)
    if err != nil { return 0, err }
    text, err := o.deps.Renderer.Text(ctx, h, st.CurrentPage)
    if err != nil { return st.CurrentPage, err }
    return st.CurrentPage, o.deps.Narration.Speak(st.CurrentPage, text)
}

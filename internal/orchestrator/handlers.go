package orchestrator

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "strings"

    "github.com/local/flipbook/internal/converter"
    "github.com/local/flipbook/internal/intake"
    "github.com/local/flipbook/internal/metrics"
    "github.com/local/flipbook/internal/narration"
    "github.com/local/flipbook/internal/render"
    "github.com/local/flipbook/internal/store"
)

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request){ w.WriteHeader(http.StatusOK); _,_ = w.Write([]byte("ok")) })
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/status", o.handleStatus)
    mux.HandleFunc("/documents", o.handleDocuments)
    mux.HandleFunc("/archive", o.handleArchiveList)
    mux.HandleFunc("/archive/", o.handleArchiveOpen)
    mux.HandleFunc("/session", o.handleSession)
    mux.HandleFunc("/pages", o.handlePages)
    mux.HandleFunc("/pages/", o.handlePage)
    mux.HandleFunc("/viewport", o.handleViewport)
    mux.HandleFunc("/viewport/", o.handleViewportAction)
    mux.HandleFunc("/narration", o.handleNarrationStatus)
    mux.HandleFunc("/narration/", o.handleNarration)
    mux.HandleFunc("/preferences/theme", o.handleTheme)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
    writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeFailure maps domain errors to HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
    var rej *intake.RejectedError
    switch {
    case errors.As(err, &rej):
        code := http.StatusUnprocessableEntity
        switch rej.Reason {
        case intake.ReasonTooLarge:
            code = http.StatusRequestEntityTooLarge
        case intake.ReasonBadSource:
            code = http.StatusBadRequest
        }
        writeJSON(w, code, map[string]any{"success": false, "error": rej.Message, "reason": rej.Reason})
    case errors.Is(err, ErrNoDocument), errors.Is(err, ErrNotLoaded), errors.Is(err, render.ErrIndexOutOfRange):
        writeError(w, http.StatusNotFound, err.Error())
    case errors.Is(err, ErrOfficeDisabled), errors.Is(err, converter.ErrProtected):
        writeError(w, http.StatusUnprocessableEntity, err.Error())
    case errors.Is(err, ErrNoArchive), errors.Is(err, narration.ErrUnavailable):
        writeError(w, http.StatusServiceUnavailable, err.Error())
    case errors.Is(err, narration.ErrInvalidState), errors.Is(err, narration.ErrNoText):
        writeError(w, http.StatusConflict, err.Error())
    case errors.Is(err, narration.ErrInvalidLanguage), errors.Is(err, store.ErrInvalidTheme):
        writeError(w, http.StatusBadRequest, err.Error())
    case errors.Is(err, ErrFetch):
        writeError(w, http.StatusBadGateway, err.Error())
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        writeError(w, http.StatusServiceUnavailable, "request cancelled")
    default:
        writeError(w, http.StatusInternalServerError, err.Error())
    }
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if o.deps.Health == nil { writeError(w, http.StatusServiceUnavailable, "status unavailable"); return }
    writeJSON(w, http.StatusOK, o.deps.Health.Summary(r.Context()))
}

type documentResp struct {
    Success     bool   `json:"success"`
    DocumentID  string `json:"document_id"`
    Name        string `json:"name"`
    Fingerprint string `json:"fingerprint"`
    TotalPages  int    `json:"total_pages"`
    Message     string `json:"message"`
}

// handleDocuments accepts a multipart upload (field "file") or JSON {"url": "..."}.
func (o *Orchestrator) handleDocuments(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var (
        name string
        data []byte
        err  error
    )
    if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
        var req struct{ URL string `json:"url"` }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
            http.Error(w, "invalid json", http.StatusBadRequest); return
        }
        name, data, err = o.fetch(r.Context(), req.URL)
        if err != nil { writeFailure(w, err); return }
    } else {
        r.Body = http.MaxBytesReader(w, r.Body, o.deps.Intake.MaxBytes()+1<<20)
        file, hdr, ferr := r.FormFile("file")
        if ferr != nil {
            var mbe *http.MaxBytesError
            if errors.As(ferr, &mbe) {
                writeFailure(w, &intake.RejectedError{Reason: intake.ReasonTooLarge, Message: fmt.Sprintf("The file is larger than %d MB.", o.deps.Intake.MaxBytes()>>20)})
                return
            }
            http.Error(w, "missing file", http.StatusBadRequest); return
        }
        defer file.Close()
        name, data, err = o.readUpload(hdr.Filename, file)
        if err != nil { writeFailure(w, err); return }
    }

    h, err := o.Load(r.Context(), name, data)
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusCreated, documentResp{Success: true, DocumentID: h.ID, Name: h.Name, Fingerprint: h.Fingerprint,
        TotalPages: h.TotalPages(), Message: "Document loaded"})
}

func (o *Orchestrator) handleArchiveList(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if o.deps.Archive == nil { writeFailure(w, ErrNoArchive); return }
    entries, err := o.deps.Archive.List(r.Context(), 100)
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"documents": entries})
}

// handleArchiveOpen serves POST /archive/{fingerprint}/open.
func (o *Orchestrator) handleArchiveOpen(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    rest := strings.TrimPrefix(r.URL.Path, "/archive/")
    fp, action, _ := strings.Cut(rest, "/")
    if fp == "" || action != "open" { http.NotFound(w, r); return }
    h, err := o.OpenArchived(r.Context(), fp)
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusCreated, documentResp{Success: true, DocumentID: h.ID, Name: h.Name, Fingerprint: h.Fingerprint,
        TotalPages: h.TotalPages(), Message: "Archived document loaded"})
}

func (o *Orchestrator) handleSession(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    st, err := o.sync(r.Context())
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"session": st, "viewport": o.deps.Viewport.State()})
}

func (o *Orchestrator) handlePages(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pages, err := o.deps.Pagination.Pages(r.Context())
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"version": pages.Version(), "pages": pages.Snapshot()})
}

// handlePage serves /pages/{n}, /pages/{n}/thumb and /pages/{n}/text.
func (o *Orchestrator) handlePage(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    rest := strings.TrimPrefix(r.URL.Path, "/pages/")
    num, sub, _ := strings.Cut(rest, "/")
    index, err := strconv.Atoi(num)
    if err != nil || index < 1 { http.Error(w, "invalid page", http.StatusBadRequest); return }

    if sub == "text" {
        h, err := o.current(r.Context())
        if err != nil { writeFailure(w, err); return }
        text, err := o.deps.Renderer.Text(r.Context(), h, index)
        if err != nil { writeFailure(w, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"page": index, "text": text})
        return
    }

    pages, err := o.deps.Pagination.Pages(r.Context())
    if err != nil { writeFailure(w, err); return }
    p, ok := pages.Get(index)
    if !ok { writeFailure(w, fmt.Errorf("page %d: %w", index, ErrNotLoaded)); return }

    body, contentType := p.Image, p.ContentType()
    switch sub {
    case "":
    case "thumb":
        width := o.deps.ThumbWidth
        if q := r.URL.Query().Get("width"); q != "" {
            if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= p.Width { width = n }
        }
        body, err = render.Thumbnail(p, width)
        if err != nil { writeFailure(w, err); return }
    default:
        http.NotFound(w, r); return
    }
    w.Header().Set("Content-Type", contentType)
    w.Header().Set("Cache-Control", "private, max-age=3600")
    w.Header().Set("X-Page-Width", strconv.Itoa(p.Width))
    w.Header().Set("X-Page-Height", strconv.Itoa(p.Height))
    _, _ = w.Write(body)
}

func (o *Orchestrator) handleViewport(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if _, err := o.sync(r.Context()); err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusOK, o.deps.Viewport.State())
}

// handleViewportAction serves POST /viewport/{next,prev,goto,zoom-in,zoom-out}.
func (o *Orchestrator) handleViewportAction(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if _, err := o.sync(r.Context()); err != nil { writeFailure(w, err); return }
    v := o.deps.Viewport
    moved := false
    switch strings.TrimPrefix(r.URL.Path, "/viewport/") {
    case "next":
        moved = v.GoToNext()
    case "prev":
        moved = v.GoToPrevious()
    case "goto":
        idx, err := strconv.Atoi(r.URL.Query().Get("index"))
        if err != nil { http.Error(w, "invalid index", http.StatusBadRequest); return }
        moved = v.GoTo(idx)
    case "zoom-in":
        v.ZoomIn()
    case "zoom-out":
        v.ZoomOut()
    default:
        http.NotFound(w, r); return
    }
    writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "viewport": v.State()})
}

func (o *Orchestrator) handleNarrationStatus(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    writeJSON(w, http.StatusOK, o.deps.Narration.Status())
}

// handleNarration serves POST /narration/{speak,pause,resume,stop,language,volume}.
func (o *Orchestrator) handleNarration(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    n := o.deps.Narration
    var err error
    switch strings.TrimPrefix(r.URL.Path, "/narration/") {
    case "speak":
        var body struct{ Text string `json:"text"` }
        if r.ContentLength > 0 { _ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body) }
        if body.Text != "" {
            err = n.Speak(0, body.Text)
        } else {
            _, err = o.SpeakCurrent(r.Context())
        }
    case "pause":
        err = n.Pause()
    case "resume":
        err = n.Resume()
    case "stop":
        n.Stop()
    case "language":
        var body struct{ Tag string `json:"tag"`; Restart bool `json:"restart"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { http.Error(w, "invalid json", http.StatusBadRequest); return }
        err = n.SetLanguage(body.Tag, body.Restart)
    case "volume":
        var body struct{ Volume *float64 `json:"volume"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil { http.Error(w, "invalid json", http.StatusBadRequest); return }
        n.SetVolume(*body.Volume)
    default:
        http.NotFound(w, r); return
    }
    if err != nil { writeFailure(w, err); return }
    writeJSON(w, http.StatusOK, n.Status())
}

func (o *Orchestrator) handleTheme(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        theme, err := o.deps.Prefs.Theme(r.Context())
        if err != nil { writeFailure(w, err); return }
        writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
    case http.MethodPut, http.MethodPost:
        var body struct{ Theme string `json:"theme"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { http.Error(w, "invalid json", http.StatusBadRequest); return }
        if err := o.deps.Prefs.SetTheme(r.Context(), body.Theme); err != nil { writeFailure(w, err); return }
        writeJSON(w, http.StatusOK, map[string]string{"theme": body.Theme})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

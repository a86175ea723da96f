package web

import (
    "context"
    "crypto/subtle"
    "embed"
    "html/template"
    "io"
    "net/http"
    "net/url"
    "strings"

    "github.com/rs/zerolog/log"

    "github.com/local/flipbook/internal/orchestrator"
)

//go:embed templates/*.html
var templates embed.FS

// Backend is the part of the orchestrator the viewer drives.
type Backend interface {
    View(ctx context.Context) (orchestrator.View, error)
    Upload(ctx context.Context, name string, r io.Reader) error
    Act(ctx context.Context, action, arg string) error
}

type Web struct {
    tpl      *template.Template
    backend  Backend
    username string
    password string
}

func New(backend Backend, username, password string) *Web {
    tpl := template.Must(template.New("").Funcs(template.FuncMap{
        "percent": func(z float64) int { return int(z*100 + 0.5) },
    }).ParseFS(templates, "templates/*.html"))
    return &Web{tpl: tpl, backend: backend, username: username, password: password}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/web/login", w.handleLogin)
    mux.HandleFunc("/web/logout", w.handleLogout)
    mux.HandleFunc("/web/", w.requireAuth(w.handleViewer))
    mux.HandleFunc("/web/upload", w.requireAuth(w.handleUpload))
    mux.HandleFunc("/web/action/", w.requireAuth(w.handleAction))
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
    wr.Header().Set("Content-Type", "text/html; charset=utf-8")
    if err := w.tpl.ExecuteTemplate(wr, name, data); err != nil {
        log.Error().Err(err).Str("template", name).Msg("render template")
    }
}

func (w *Web) authEnabled() bool { return w.username != "" && w.password != "" }

func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
    return func(wr http.ResponseWriter, r *http.Request) {
        if !w.authEnabled() { next(wr, r); return }
        c, err := r.Cookie("auth")
        if err != nil || c.Value != "1" {
            http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
            return
        }
        next(wr, r)
    }
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        w.render(wr, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
    case http.MethodPost:
        if err := r.ParseForm(); err != nil { http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther); return }
        userOK := subtle.ConstantTimeCompare([]byte(r.Form.Get("username")), []byte(w.username)) == 1
        passOK := subtle.ConstantTimeCompare([]byte(r.Form.Get("password")), []byte(w.password)) == 1
        if w.authEnabled() && userOK && passOK {
            http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "1", Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
            http.Redirect(wr, r, "/web/", http.StatusSeeOther)
            return
        }
        http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
    default:
        wr.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
    http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
    http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

func (w *Web) handleViewer(wr http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/web/" { http.NotFound(wr, r); return }
    if r.Method != http.MethodGet { wr.WriteHeader(http.StatusMethodNotAllowed); return }
    v, err := w.backend.View(r.Context())
    if err != nil { http.Error(wr, "viewer unavailable", http.StatusServiceUnavailable); return }
    w.render(wr, "viewer.html", map[string]any{
        "View":  v,
        "Error": r.URL.Query().Get("error"),
        "Auth":  w.authEnabled(),
    })
}

func (w *Web) handleUpload(wr http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { wr.WriteHeader(http.StatusMethodNotAllowed); return }
    file, hdr, err := r.FormFile("file")
    if err != nil { back(wr, r, "choose a file to upload"); return }
    defer file.Close()
    if err := w.backend.Upload(r.Context(), hdr.Filename, file); err != nil {
        log.Warn().Err(err).Str("name", hdr.Filename).Msg("viewer upload failed")
        back(wr, r, err.Error())
        return
    }
    back(wr, r, "")
}

// handleAction maps /web/action/{name} form posts onto toolbar actions.
func (w *Web) handleAction(wr http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { wr.WriteHeader(http.StatusMethodNotAllowed); return }
    action := strings.TrimPrefix(r.URL.Path, "/web/action/")
    if err := r.ParseForm(); err != nil { back(wr, r, "invalid form"); return }
    arg := r.Form.Get("arg")
    if err := w.backend.Act(r.Context(), action, arg); err != nil {
        back(wr, r, err.Error())
        return
    }
    back(wr, r, "")
}

func back(wr http.ResponseWriter, r *http.Request, msg string) {
    target := "/web/"
    if msg != "" { target += "?error=" + url.QueryEscape(msg) }
    http.Redirect(wr, r, target, http.StatusSeeOther)
}

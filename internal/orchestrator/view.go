package orchestrator

import (
    "context"
    "fmt"
    "io"
    "strconv"

    "github.com/local/flipbook/internal/narration"
    "github.com/local/flipbook/internal/pagination"
    "github.com/local/flipbook/internal/store"
    "github.com/local/flipbook/internal/viewport"
)

// View is everything the server-rendered viewer needs for one page load.
type View struct {
    Session   pagination.Status
    Viewport  viewport.State
    Narration narration.Status
    Theme     string
}

func (o *Orchestrator) View(ctx context.Context) (View, error) {
    st, err := o.sync(ctx)
    if err != nil { return View{}, err }
    theme, err := o.deps.Prefs.Theme(ctx)
    if err != nil {
        o.log.Warn().Err(err).Msg("theme lookup failed")
        theme = store.ThemeLight
    }
    return View{Session: st, Viewport: o.deps.Viewport.State(), Narration: o.deps.Narration.Status(), Theme: theme}, nil
}

// Upload reads, keeps a copy of and loads a document from r.
func (o *Orchestrator) Upload(ctx context.Context, name string, r io.Reader) error {
    name, data, err := o.readUpload(name, r)
    if err != nil { return err }
    _, err = o.Load(ctx, name, data)
    return err
}

// Act applies a toolbar action. arg carries the index for goto and the theme for theme.
func (o *Orchestrator) Act(ctx context.Context, action, arg string) error {
    if _, err := o.sync(ctx); err != nil { return err }
    v, n := o.deps.Viewport, o.deps.Narration
    switch action {
    case "next":
        v.GoToNext()
    case "prev":
        v.GoToPrevious()
    case "goto":
        idx, err := strconv.Atoi(arg)
        if err != nil { return fmt.Errorf("invalid index %q", arg) }
        v.GoTo(idx)
    case "zoom-in":
        v.ZoomIn()
    case "zoom-out":
        v.ZoomOut()
    case "speak":
        _, err := o.SpeakCurrent(ctx)
        return err
    case "pause":
        return n.Pause()
    case "resume":
        return n.Resume()
    case "stop":
        n.Stop()
    case "theme":
        return o.deps.Prefs.SetTheme(ctx, arg)
    default:
        return fmt.Errorf("unknown action %q", action)
    }
    return nil
}

// Package narration reads page text aloud through an external speech engine.
// Failures are reported as notices and never affect pagination or the viewport.
package narration

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/local/flipbook/internal/logger"
	"github.com/local/flipbook/internal/metrics"
)

var (
	ErrUnavailable     = errors.New("narration unavailable")
	ErrInvalidState    = errors.New("invalid narration state")
	ErrInvalidLanguage = errors.New("invalid language tag")
	ErrNoText          = errors.New("nothing to narrate")
)

type State int

const (
	Stopped State = iota
	Speaking
	Paused
)

func (s State) String() string {
	switch s {
	case Speaking:
		return "speaking"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Utterance is one speak request.
type Utterance struct {
	Text     string
	Language string
	Volume   float64
}

// Callbacks report the lifecycle of one utterance. Synthesizers invoke them from their
// own goroutine, never from inside Speak, Pause, Resume or Cancel.
type Callbacks struct {
	OnStart func()
	OnEnd   func()
	OnError func(error)
}

// Synthesizer is the text-to-speech engine.
type Synthesizer interface {
	Available() error
	Speak(u Utterance, cb Callbacks) error
	Pause() error
	Resume() error
	Cancel() error
}

// Notice is a user-visible, non-fatal narration message.
type Notice struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

const maxNotices = 20

type Status struct {
	State    string   `json:"state"`
	Language string   `json:"language"`
	Volume   float64  `json:"volume"`
	Page     int      `json:"page,omitempty"`
	Notices  []Notice `json:"notices,omitempty"`
}

// Adapter drives a Synthesizer through the Stopped/Speaking/Paused state machine.
type Adapter struct {
	mu      sync.Mutex
	synth   Synthesizer
	state   State
	lang    string
	volume  float64
	text    string
	page    int
	utt     uint64
	notices []Notice
	log     zerolog.Logger
}

// NewAdapter creates an adapter. An invalid default language falls back to en-US.
func NewAdapter(synth Synthesizer, lang string, volume float64) *Adapter {
	a := &Adapter{
		synth:  synth,
		lang:   "en-US",
		volume: clampVolume(volume),
		log:    logger.Component("narration"),
	}
	if tag, err := canonical(lang); err == nil {
		a.lang = tag
	}
	return a
}

func canonical(tag string) (string, error) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, tag)
	}
	return t.String(), nil
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Speak starts narrating text for page, replacing any current utterance.
func (a *Adapter) Speak(page int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoText
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Stopped {
		a.cancelLocked()
	}
	a.text, a.page = text, page
	return a.startLocked()
}

func (a *Adapter) startLocked() error {
	if a.synth == nil {
		return a.failLocked(ErrUnavailable)
	}
	if err := a.synth.Available(); err != nil {
		return a.failLocked(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	a.utt++
	id := a.utt
	cb := Callbacks{
		OnStart: func() { metrics.IncNarration("start") },
		OnEnd:   func() { a.finished(id, nil) },
		OnError: func(err error) { a.finished(id, err) },
	}
	if err := a.synth.Speak(Utterance{Text: a.text, Language: a.lang, Volume: a.volume}, cb); err != nil {
		return a.failLocked(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	a.state = Speaking
	a.log.Debug().Int("page", a.page).Str("lang", a.lang).Int("chars", len(a.text)).Msg("narration started")
	return nil
}

// finished handles end-of-speech for utterance id; callbacks of replaced utterances are ignored.
func (a *Adapter) finished(id uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id != a.utt || a.state == Stopped {
		return
	}
	a.state = Stopped
	if err != nil {
		a.noticeLocked(fmt.Sprintf("Narration stopped: %v", err))
		metrics.IncNarration("error")
		a.log.Warn().Err(err).Int("page", a.page).Msg("narration failed")
		return
	}
	metrics.IncNarration("end")
}

func (a *Adapter) failLocked(err error) error {
	a.state = Stopped
	a.noticeLocked("Narration is not available: " + err.Error())
	metrics.IncNarration("error")
	a.log.Warn().Err(err).Msg("narration unavailable")
	return err
}

func (a *Adapter) noticeLocked(msg string) {
	a.notices = append(a.notices, Notice{Time: time.Now(), Message: msg})
	if len(a.notices) > maxNotices {
		a.notices = a.notices[len(a.notices)-maxNotices:]
	}
}

func (a *Adapter) cancelLocked() {
	a.utt++
	if err := a.synth.Cancel(); err != nil {
		a.log.Debug().Err(err).Msg("cancel speech")
	}
	a.state = Stopped
	metrics.IncNarration("stop")
}

func (a *Adapter) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Speaking {
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, a.state)
	}
	if err := a.synth.Pause(); err != nil {
		a.noticeLocked("Narration could not pause: " + err.Error())
		return err
	}
	a.state = Paused
	return nil
}

func (a *Adapter) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Paused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, a.state)
	}
	if err := a.synth.Resume(); err != nil {
		a.noticeLocked("Narration could not resume: " + err.Error())
		return err
	}
	a.state = Speaking
	return nil
}

// Stop ends narration. Stopping while already stopped does nothing.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Stopped {
		a.cancelLocked()
	}
}

// SetLanguage changes the language for subsequent utterances. An active utterance is
// stopped; with restart it begins again from the start in the new language.
func (a *Adapter) SetLanguage(tag string, restart bool) error {
	lang, err := canonical(tag)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	active := a.state != Stopped
	a.lang = lang
	if !active {
		return nil
	}
	a.cancelLocked()
	if restart {
		return a.startLocked()
	}
	return nil
}

// SetVolume clamps v to [0,1] and applies it from the next utterance.
func (a *Adapter) SetVolume(v float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = clampVolume(v)
	return a.volume
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		State:    a.state.String(),
		Language: a.lang,
		Volume:   a.volume,
		Page:     a.page,
		Notices:  append([]Notice(nil), a.notices...),
	}
}

// Package viewport holds flip navigation state over the loaded page sequence.
package viewport

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/flipbook/internal/logger"
	"github.com/local/flipbook/internal/render"
)

// Animator runs a page turn and calls done exactly once when it has finished.
type Animator interface {
	Flip(from, to int, done func())
}

// TimedAnimator completes a turn after Duration.
type TimedAnimator struct{ Duration time.Duration }

func (a TimedAnimator) Flip(_, _ int, done func()) { time.AfterFunc(a.Duration, done) }

// Instant completes every turn immediately on the calling goroutine.
type Instant struct{}

func (Instant) Flip(_, _ int, done func()) { done() }

type Config struct {
	TwoPage  bool
	ZoomStep float64
	MinZoom  float64
	MaxZoom  float64
}

func (c Config) withDefaults() Config {
	if c.ZoomStep <= 0 {
		c.ZoomStep = 0.2
	}
	if c.MinZoom <= 0 {
		c.MinZoom = 0.6
	}
	if c.MaxZoom < c.MinZoom {
		c.MaxZoom = 2.0
	}
	return c
}

// State is a point-in-time view for presentation.
type State struct {
	CurrentIndex int     `json:"current_index"`
	CurrentPage  int     `json:"current_page"`
	Visible      []int   `json:"visible_pages"`
	Zoom         float64 `json:"zoom"`
	Loaded       int     `json:"loaded"`
	TwoPage      bool    `json:"two_page"`
	Flipping     bool    `json:"flipping"`
	Version      uint64  `json:"version"`
	Mounts       int     `json:"mounts"`
	PageWidth    int     `json:"page_width"`
	PageHeight   int     `json:"page_height"`
}

// Viewport owns currentIndex and zoom. Indices are positions in the mounted snapshot.
type Viewport struct {
	mu       sync.Mutex
	cfg      Config
	anim     Animator
	pages    []render.Page
	version  uint64
	mounts   int
	current  int
	zoom     float64
	flipping bool
	// epoch changes on Reset; turns started under an older epoch are dropped.
	epoch uint64

	nav chan int
	log zerolog.Logger
}

func New(cfg Config, anim Animator) *Viewport {
	if anim == nil {
		anim = Instant{}
	}
	return &Viewport{
		cfg:  cfg.withDefaults(),
		anim: anim,
		zoom: 1.0,
		nav:  make(chan int, 16),
		log:  logger.Component("viewport"),
	}
}

// Navigations delivers the new currentIndex once per completed flip. It has a single consumer.
func (v *Viewport) Navigations() <-chan int { return v.nav }

// Remount swaps in a new snapshot when its version differs from the mounted one,
// keeping the visible page rather than resetting to the first.
func (v *Viewport) Remount(pages []render.Page, version uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if version == v.version && v.mounts > 0 {
		return false
	}
	visible := -1
	if v.current < len(v.pages) {
		visible = v.pages[v.current].Index
	}
	v.pages = pages
	v.version = version
	v.mounts++

	pos := v.current
	if visible > 0 {
		for i, p := range pages {
			if p.Index == visible {
				pos = i
				break
			}
		}
	}
	v.current = v.align(v.clamp(pos))
	v.log.Debug().Uint64("version", version).Int("pages", len(pages)).Int("current", v.current).Msg("remounted")
	return true
}

// Reset clears navigation for a new document.
func (v *Viewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pages = nil
	v.version = 0
	v.mounts = 0
	v.current = 0
	v.zoom = 1.0
	v.flipping = false
	v.epoch++
}

func (v *Viewport) last() int {
	if len(v.pages) == 0 {
		return 0
	}
	return len(v.pages) - 1
}

func (v *Viewport) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if l := v.last(); i > l {
		return l
	}
	return i
}

// align moves i to the start of its spread in two-page mode.
func (v *Viewport) align(i int) int {
	if v.cfg.TwoPage {
		return i - i%2
	}
	return i
}

func (v *Viewport) step() int {
	if v.cfg.TwoPage {
		return 2
	}
	return 1
}

// GoToNext turns forward one spread. At the last loaded page it does nothing.
func (v *Viewport) GoToNext() bool {
	v.mu.Lock()
	target := v.align(v.clamp(v.current + v.step()))
	return v.flipLocked(target)
}

// GoToPrevious turns back one spread. At the first page it does nothing.
func (v *Viewport) GoToPrevious() bool {
	v.mu.Lock()
	target := v.align(v.clamp(v.current - v.step()))
	return v.flipLocked(target)
}

// GoTo jumps to a position, clamped to the loaded range.
func (v *Viewport) GoTo(index int) bool {
	v.mu.Lock()
	return v.flipLocked(v.align(v.clamp(index)))
}

// flipLocked starts a turn to target. It is called with mu held and releases it.
func (v *Viewport) flipLocked(target int) bool {
	if v.flipping || len(v.pages) == 0 || target == v.current {
		v.mu.Unlock()
		return false
	}
	v.flipping = true
	from, epoch := v.current, v.epoch
	v.mu.Unlock()

	var once sync.Once
	v.anim.Flip(from, target, func() { once.Do(func() { v.complete(target, epoch) }) })
	return true
}

func (v *Viewport) complete(target int, epoch uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch != v.epoch {
		v.log.Debug().Int("target", target).Msg("turn from a previous document dropped")
		return
	}
	v.current = v.clamp(target)
	// Sent under mu so a concurrent Reset cannot interleave; never blocks.
	select {
	case v.nav <- v.current:
	default:
		v.log.Warn().Int("index", v.current).Msg("navigation event dropped, no consumer")
	}
	v.flipping = false
}

func (v *Viewport) ZoomIn() float64  { return v.setZoom(1) }
func (v *Viewport) ZoomOut() float64 { return v.setZoom(-1) }

func (v *Viewport) setZoom(dir float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	z := math.Round((v.zoom+dir*v.cfg.ZoomStep)*100) / 100
	v.zoom = math.Max(v.cfg.MinZoom, math.Min(v.cfg.MaxZoom, z))
	return v.zoom
}

func (v *Viewport) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := State{
		CurrentIndex: v.current,
		Zoom:         v.zoom,
		Loaded:       len(v.pages),
		TwoPage:      v.cfg.TwoPage,
		Flipping:     v.flipping,
		Version:      v.version,
		Mounts:       v.mounts,
	}
	if len(v.pages) == 0 {
		return st
	}
	st.CurrentPage = v.pages[v.current].Index
	st.PageWidth, st.PageHeight = v.pages[0].Width, v.pages[0].Height
	st.Visible = []int{st.CurrentPage}
	if v.cfg.TwoPage && v.current+1 < len(v.pages) {
		st.Visible = append(st.Visible, v.pages[v.current+1].Index)
	}
	return st
}

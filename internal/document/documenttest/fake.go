// Package documenttest provides an in-memory document for tests.
package documenttest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/local/flipbook/internal/document"
)

var ErrCorruptPage = errors.New("corrupt page data")

// Doc is a synthetic document of fixed-size pages.
type Doc struct {
	Pages  int
	Width  float64
	Height float64
	// Fail lists pages whose Render returns ErrCorruptPage.
	Fail map[int]bool
	// Delay is applied to every Render call.
	Delay time.Duration
	// Gate, when set, blocks Render until it is closed.
	Gate chan struct{}
	// GateFrom limits Gate to pages at or after it. Zero gates every page.
	GateFrom int

	mu       sync.Mutex
	rendered []int
	closed   bool
}

func New(pages int) *Doc {
	return &Doc{Pages: pages, Width: 100, Height: 140, Fail: map[int]bool{}}
}

func (d *Doc) NumPages() int { return d.Pages }

func (d *Doc) check(page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return document.ErrClosed
	}
	if d.Pages >= 0 && (page < 1 || page > d.Pages) {
		return fmt.Errorf("page %d out of range", page)
	}
	return nil
}

func (d *Doc) Bounds(page int) (float64, float64, error) {
	if err := d.check(page); err != nil {
		return 0, 0, err
	}
	return d.Width, d.Height, nil
}

func (d *Doc) Render(page int, scale float64) (image.Image, error) {
	if d.Gate != nil && page >= d.GateFrom {
		<-d.Gate
	}
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}
	if err := d.check(page); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.rendered = append(d.rendered, page)
	fail := d.Fail[page]
	d.mu.Unlock()
	if fail {
		return nil, ErrCorruptPage
	}
	w := int(d.Width*scale + 0.5)
	h := int(d.Height*scale + 0.5)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := uint8(page * 10 % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 200, B: 255 - shade, A: 255})
		}
	}
	return img, nil
}

func (d *Doc) Text(page int) (string, error) {
	if err := d.check(page); err != nil {
		return "", err
	}
	return fmt.Sprintf("Page %d\nThe quick brown fox jumps\nover the lazy dog on page %d.", page, page), nil
}

func (d *Doc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Rendered returns the pages passed to Render, in call order.
func (d *Doc) Rendered() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.rendered...)
}

// Engine opens every input as a copy of Template.
type Engine struct {
	Template *Doc
	Err      error
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Open(data []byte) (document.Document, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	d := New(e.Template.Pages)
	d.Width, d.Height = e.Template.Width, e.Template.Height
	for k, v := range e.Template.Fail {
		d.Fail[k] = v
	}
	d.Delay = e.Template.Delay
	return d, nil
}

// Handle builds a handle around a fake document.
func Handle(name string, d *Doc) *document.Handle {
	return document.NewHandle(name, []byte(name), d)
}

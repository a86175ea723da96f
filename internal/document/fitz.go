package document

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// pointsPerInch is the resolution at which go-fitz reports page bounds.
const pointsPerInch = 72.0

// FitzEngine opens documents with go-fitz (MuPDF).
type FitzEngine struct{}

func NewFitzEngine() *FitzEngine { return &FitzEngine{} }

func (FitzEngine) Name() string { return "mupdf" }

// Open opens an in-memory document.
func (FitzEngine) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return &fitzDocument{doc: doc, pages: doc.NumPage()}, nil
}

type fitzDocument struct {
	mu     sync.Mutex
	doc    *fitz.Document
	pages  int
	closed bool
}

func (d *fitzDocument) NumPages() int { return d.pages }

// index converts a 1-based page to go-fitz's 0-based index.
func (d *fitzDocument) index(page int) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if page < 1 || page > d.pages {
		return 0, fmt.Errorf("page %d out of range (document has %d pages)", page, d.pages)
	}
	return page - 1, nil
}

func (d *fitzDocument) Bounds(page int) (float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.index(page)
	if err != nil {
		return 0, 0, err
	}
	rect, err := d.doc.Bound(idx)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

func (d *fitzDocument) Render(page int, scale float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.index(page)
	if err != nil {
		return nil, err
	}
	return d.doc.ImageDPI(idx, pointsPerInch*scale)
}

func (d *fitzDocument) Text(page int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.index(page)
	if err != nil {
		return "", err
	}
	return d.doc.Text(idx)
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}

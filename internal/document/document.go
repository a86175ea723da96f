// Package document is the boundary to the external document-parsing and
// rasterising capability. Page numbers are 1-based throughout.
package document

import (
	"encoding/hex"
	"errors"
	"image"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// TotalUnknown marks a document whose page count has not been discovered yet.
const TotalUnknown = -1

var ErrClosed = errors.New("document closed")

// Engine opens raw document bytes.
type Engine interface {
	Name() string
	Open(data []byte) (Document, error)
}

// Document is an opened source document. Implementations must be safe for concurrent use.
type Document interface {
	// NumPages returns the page count or TotalUnknown.
	NumPages() int
	// Bounds returns the intrinsic page size in points (1/72 inch).
	Bounds(page int) (width, height float64, err error)
	// Render rasterises a page at scale x its intrinsic size.
	Render(page int, scale float64) (image.Image, error)
	// Text returns the page's extracted text.
	Text(page int) (string, error)
	Close() error
}

// Handle is the opaque reference to one loaded document.
type Handle struct {
	ID          string
	Name        string
	Fingerprint string
	Size        int

	doc      Document
	once     sync.Once
	closeErr error
}

// NewHandle wraps an opened document. data is only used to fingerprint it.
func NewHandle(name string, data []byte, doc Document) *Handle {
	return &Handle{
		ID:          uuid.NewString(),
		Name:        name,
		Fingerprint: Fingerprint(data),
		Size:        len(data),
		doc:         doc,
	}
}

// Open opens data with engine and returns a handle.
func Open(engine Engine, name string, data []byte) (*Handle, error) {
	doc, err := engine.Open(data)
	if err != nil {
		return nil, err
	}
	return NewHandle(name, data, doc), nil
}

// Document returns the underlying document.
func (h *Handle) Document() Document { return h.doc }

// TotalPages returns the document page count or TotalUnknown.
func (h *Handle) TotalPages() int {
	if h == nil || h.doc == nil {
		return 0
	}
	return h.doc.NumPages()
}

// Release closes the underlying document once.
func (h *Handle) Release() error {
	if h == nil || h.doc == nil {
		return nil
	}
	h.once.Do(func() { h.closeErr = h.doc.Close() })
	return h.closeErr
}

// Fingerprint is a content hash used as the cache identity of a document.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

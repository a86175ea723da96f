package render

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is returned for pages outside [1, totalPages].
	ErrIndexOutOfRange = errors.New("page index out of range")
	// ErrRenderFailure marks a single page that could not be rasterised.
	ErrRenderFailure = errors.New("render failure")
)

// Page is one rendered page. Image is immutable once produced.
type Page struct {
	Index  int    `json:"index"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Image  []byte `json:"-"`
}

// ContentType returns the MIME type of the encoded image.
func (p Page) ContentType() string {
	if p.Format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// PageError reports a failed page render. It matches ErrRenderFailure with errors.Is.
type PageError struct {
	Index int
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Index, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func (e *PageError) Is(target error) bool { return target == ErrRenderFailure }

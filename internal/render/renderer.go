package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/local/flipbook/internal/document"
	"github.com/local/flipbook/internal/logger"
	"github.com/local/flipbook/internal/metrics"
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Options controls rasterisation. Scale is fixed per process and never derived from the viewport.
type Options struct {
	Scale       float64
	Format      string
	Quality     int
	Gray        bool
	Concurrency int
}

// Cache stores encoded pages keyed by document fingerprint and render variant.
type Cache interface {
	GetPage(ctx context.Context, fingerprint, variant string, index int) (Page, bool, error)
	PutPage(ctx context.Context, fingerprint, variant string, p Page) error
}

// Renderer is the page renderer: document handle + page index -> Page.
type Renderer struct {
	opts  Options
	cache Cache
	log   zerolog.Logger
}

// New creates a renderer. cache may be nil.
func New(opts Options, cache Cache) *Renderer {
	if opts.Scale <= 0 {
		opts.Scale = 1.5
	}
	if opts.Format != FormatPNG {
		opts.Format = FormatJPEG
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Renderer{opts: opts, cache: cache, log: logger.Component("render")}
}

// Options returns the effective options.
func (r *Renderer) Options() Options { return r.opts }

// variant identifies everything besides the page that changes the encoded bytes.
func (r *Renderer) variant() string {
	color := "rgb"
	if r.opts.Gray {
		color = "gray"
	}
	return fmt.Sprintf("%s:q%d:s%.3f:%s", r.opts.Format, r.opts.Quality, r.opts.Scale, color)
}

// CheckIndex validates a 1-based page index against the handle's total.
func CheckIndex(h *document.Handle, index int) error {
	total := h.TotalPages()
	if index < 1 || (total != document.TotalUnknown && index > total) {
		return fmt.Errorf("page %d: %w", index, ErrIndexOutOfRange)
	}
	return nil
}

// Render produces one page. Per-page failures are *PageError.
func (r *Renderer) Render(ctx context.Context, h *document.Handle, index int) (Page, error) {
	if err := CheckIndex(h, index); err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	if r.cache != nil {
		if p, ok, err := r.cache.GetPage(ctx, h.Fingerprint, r.variant(), index); err == nil && ok {
			metrics.ObserveRender("cached", 0)
			return p, nil
		} else if err != nil {
			r.log.Warn().Err(err).Int("page", index).Msg("page cache lookup failed")
		}
	}

	start := time.Now()
	p, err := r.rasterise(h.Document(), index)
	if err != nil {
		metrics.ObserveRender("failed", time.Since(start))
		r.log.Warn().Err(err).Str("doc", h.ID).Int("page", index).Msg("page render failed")
		return Page{}, &PageError{Index: index, Err: err}
	}
	metrics.ObserveRender("success", time.Since(start))

	if r.cache != nil {
		if err := r.cache.PutPage(ctx, h.Fingerprint, r.variant(), p); err != nil {
			r.log.Warn().Err(err).Int("page", index).Msg("page cache store failed")
		}
	}
	return p, nil
}

func (r *Renderer) rasterise(doc document.Document, index int) (Page, error) {
	w, h, err := doc.Bounds(index)
	if err != nil {
		return Page{}, err
	}
	width := int(math.Round(w * r.opts.Scale))
	height := int(math.Round(h * r.opts.Scale))
	if width <= 0 || height <= 0 {
		return Page{}, fmt.Errorf("page has empty bounds %.1fx%.1f", w, h)
	}

	img, err := doc.Render(index, r.opts.Scale)
	if err != nil {
		return Page{}, err
	}
	// MuPDF rounds the device box; pin the raster to intrinsic size x scale.
	var final image.Image = img
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		final = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	if r.opts.Gray {
		final = imaging.Grayscale(final)
	}

	var buf bytes.Buffer
	switch r.opts.Format {
	case FormatPNG:
		err = imaging.Encode(&buf, final, imaging.PNG)
	default:
		err = imaging.Encode(&buf, final, imaging.JPEG, imaging.JPEGQuality(r.opts.Quality))
	}
	if err != nil {
		return Page{}, fmt.Errorf("encode %s: %w", r.opts.Format, err)
	}

	r.log.Debug().
		Int("page", index).
		Int("width", width).
		Int("height", height).
		Int("bytes", buf.Len()).
		Msg("rendered page")

	return Page{Index: index, Width: width, Height: height, Format: r.opts.Format, Image: buf.Bytes()}, nil
}

// BatchResult holds the pages of one batch sorted by index, plus per-page failures.
type BatchResult struct {
	Pages    []Page
	Failures []*PageError
}

// RenderBatch renders indices with bounded concurrency. A failing page never aborts its siblings.
// Only ctx cancellation stops the batch early; pages already produced are still returned.
func (r *Renderer) RenderBatch(ctx context.Context, h *document.Handle, indices []int) BatchResult {
	results := make([]Page, len(indices))
	errs := make([]error, len(indices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, idx := range indices {
		if gctx.Err() != nil {
			errs[i] = gctx.Err()
			continue
		}
		i, idx := i, idx
		g.Go(func() error {
			results[i], errs[i] = r.Render(gctx, h, idx)
			return nil
		})
	}
	_ = g.Wait()

	var out BatchResult
	for i, idx := range indices {
		if errs[i] == nil {
			out.Pages = append(out.Pages, results[i])
			continue
		}
		var pe *PageError
		if !errors.As(errs[i], &pe) {
			pe = &PageError{Index: idx, Err: errs[i]}
		}
		out.Failures = append(out.Failures, pe)
	}
	sort.Slice(out.Pages, func(a, b int) bool { return out.Pages[a].Index < out.Pages[b].Index })
	return out
}

// Thumbnail downsizes an encoded page to width pixels, keeping the aspect ratio.
func Thumbnail(p Page, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(p.Image))
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", p.Index, err)
	}
	if width <= 0 || width >= img.Bounds().Dx() {
		return p.Image, nil
	}
	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)
	var buf bytes.Buffer
	format := imaging.JPEG
	if p.Format == FormatPNG {
		format = imaging.PNG
	}
	if err := imaging.Encode(&buf, thumb, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

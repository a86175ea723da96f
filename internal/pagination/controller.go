package pagination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/flipbook/internal/document"
	"github.com/local/flipbook/internal/logger"
	"github.com/local/flipbook/internal/metrics"
	"github.com/local/flipbook/internal/render"
	"github.com/local/flipbook/internal/store"
)

var ErrStopped = errors.New("pagination controller stopped")

// BatchRenderer renders a set of pages; failures are reported per page.
type BatchRenderer interface {
	RenderBatch(ctx context.Context, h *document.Handle, indices []int) render.BatchResult
}

// StatusSink receives session status after every transition.
type StatusSink interface {
	Set(ctx context.Context, sessionID string, st store.Status) error
}

// Update is published after every state change that observers may care about.
type Update struct {
	Status  Status
	Pages   *store.PageStore
	Version uint64
}

type Options struct {
	Config
	BatchTimeout time.Duration
	Sink         StatusSink
}

type event interface{}

type supplyEvent struct{ h *document.Handle }
type navigateEvent struct{ index int }
type totalEvent struct{ total int }
type doneEvent struct {
	req Request
	res render.BatchResult
}
type queryEvent struct{ reply chan query }

type query struct {
	status Status
	pages  *store.PageStore
	handle *document.Handle
}

// Controller owns one Session and executes its batch requests. All session state is
// confined to the Run goroutine; callers talk to it through events.
type Controller struct {
	r      BatchRenderer
	opts   Options
	events chan event
	done   chan struct{}
	log    zerolog.Logger

	subMu sync.Mutex
	subs  []chan Update

	// owned by Run
	sessLog zerolog.Logger // log narrowed to the active session
	session *Session
	handle  *document.Handle
	cancel  context.CancelFunc
	started time.Time
}

func NewController(r BatchRenderer, opts Options) *Controller {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 2 * time.Minute
	}
	l := logger.Component("pagination")
	return &Controller{
		r:       r,
		opts:    opts,
		events:  make(chan event, 64),
		done:    make(chan struct{}),
		log:     l,
		sessLog: l,
		session: NewSession(opts.Config),
	}
}

// Run processes events until ctx is cancelled. The active document is released on exit.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.stopBatch()
			if c.handle != nil {
				_ = c.handle.Release()
			}
			c.subMu.Lock()
			for _, ch := range c.subs {
				close(ch)
			}
			c.subs = nil
			c.subMu.Unlock()
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Controller) send(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supply replaces the active document. The previous handle is released and any of its
// in-flight batches are discarded on arrival.
func (c *Controller) Supply(ctx context.Context, h *document.Handle) error {
	return c.send(ctx, supplyEvent{h: h})
}

// Navigate reports a completed flip to index (0-based viewport position).
func (c *Controller) Navigate(ctx context.Context, index int) error {
	return c.send(ctx, navigateEvent{index: index})
}

// DiscoverTotal reports a page count learned after supply.
func (c *Controller) DiscoverTotal(ctx context.Context, total int) error {
	return c.send(ctx, totalEvent{total: total})
}

func (c *Controller) query(ctx context.Context) (query, error) {
	reply := make(chan query, 1)
	if err := c.send(ctx, queryEvent{reply: reply}); err != nil {
		return query{}, err
	}
	select {
	case q := <-reply:
		return q, nil
	case <-c.done:
		return query{}, ErrStopped
	case <-ctx.Done():
		return query{}, ctx.Err()
	}
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	q, err := c.query(ctx)
	return q.status, err
}

// Pages returns the active session's page store. The store is safe for concurrent reads.
func (c *Controller) Pages(ctx context.Context) (*store.PageStore, error) {
	q, err := c.query(ctx)
	return q.pages, err
}

// Document returns the active handle, or nil before the first supply.
func (c *Controller) Document(ctx context.Context) (*document.Handle, error) {
	q, err := c.query(ctx)
	return q.handle, err
}

// Subscribe returns a channel of updates. Slow subscribers miss intermediate updates.
func (c *Controller) Subscribe() <-chan Update {
	ch := make(chan Update, 8)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Controller) dispatch(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case supplyEvent:
		c.stopBatch()
		if c.handle != nil && c.handle != e.h {
			_ = c.handle.Release()
		}
		c.handle = e.h
		c.started = time.Now()
		req, ok := c.session.Supply(e.h.ID, e.h.TotalPages())
		c.sessLog = logger.Session(c.log, e.h.ID, c.session.Generation())
		c.sessLog.Info().Str("name", e.h.Name).Int("total_pages", e.h.TotalPages()).Msg("document supplied")
		if !ok {
			c.sessLog.Warn().Msg("document has no pages")
		}
		c.transition(ctx)
		if ok {
			c.start(ctx, req)
		}
	case navigateEvent:
		if req, ok := c.session.Navigate(e.index); ok {
			c.transition(ctx)
			c.start(ctx, req)
		}
	case totalEvent:
		if req, ok := c.session.DiscoverTotal(e.total); ok {
			c.transition(ctx)
			c.start(ctx, req)
		} else {
			c.publish(ctx)
		}
	case doneEvent:
		merged, stale, next, ok := c.session.Complete(e.req, e.res)
		if stale {
			metrics.IncBatch(string(e.req.Kind), "stale")
			c.log.Debug().Str("batch_id", e.req.ID).Uint64("generation", e.req.Generation).Msg("discarding stale batch")
			return
		}
		c.cancel = nil
		result := "ready"
		if c.session.State() == Failed {
			result = "failed"
		}
		metrics.IncBatch(string(e.req.Kind), result)
		metrics.SetLoadedPages(c.session.Pages().Len())
		for _, f := range e.res.Failures {
			c.sessLog.Warn().Err(f.Err).Int("page", f.Index).Str("batch_id", e.req.ID).Msg("page render failed")
		}
		c.sessLog.Info().Str("batch_id", e.req.ID).Str("kind", string(e.req.Kind)).Int("requested", len(e.req.Pages)).
			Int("merged", merged).Int("failed", len(e.res.Failures)).Msg("batch complete")
		c.transition(ctx)
		if ok {
			c.start(ctx, next)
		}
	case queryEvent:
		e.reply <- query{status: c.session.Status(), pages: c.session.Pages(), handle: c.handle}
	}
}

// start runs req in its own goroutine; the result comes back through the event loop.
func (c *Controller) start(ctx context.Context, req Request) {
	bctx, cancel := context.WithTimeout(ctx, c.opts.BatchTimeout)
	c.cancel = cancel
	h := c.handle
	c.sessLog.Debug().Str("batch_id", req.ID).Str("kind", string(req.Kind)).Ints("pages", req.Pages).Msg("batch started")
	go func() {
		defer cancel()
		res := c.r.RenderBatch(bctx, h, req.Pages)
		select {
		case c.events <- doneEvent{req: req, res: res}:
		case <-c.done:
		}
	}()
}

func (c *Controller) stopBatch() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) transition(ctx context.Context) {
	st := c.session.Status()
	metrics.IncSessionState(st.State)
	if c.opts.Sink != nil && st.DocumentID != "" {
		start := c.started
		now := time.Now()
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.opts.Sink.Set(sctx, st.DocumentID, store.Status{
			State:      st.State,
			TotalPages: st.TotalPages,
			Loaded:     st.LoadedCount,
			Loading:    st.IsLoading,
			LastError:  st.LastError,
			Start:      &start,
			Updated:    &now,
			Metadata:   map[string]interface{}{"generation": st.Generation, "highest_requested": st.HighestRequested},
		})
		cancel()
		if err != nil {
			c.sessLog.Warn().Err(err).Msg("status mirror failed")
		}
	}
	c.publish(ctx)
}

func (c *Controller) publish(context.Context) {
	u := Update{Status: c.session.Status(), Pages: c.session.Pages(), Version: c.session.Pages().Version()}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

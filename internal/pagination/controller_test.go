package pagination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/flipbook/internal/document/documenttest"
	"github.com/local/flipbook/internal/render"
	"github.com/local/flipbook/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	states []string
}

func (s *recordingSink) Set(_ context.Context, _ string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st.State)
	return nil
}

func (s *recordingSink) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.states...)
}

func startController(t *testing.T, sink StatusSink) (*Controller, context.Context) {
	t.Helper()
	r := render.New(render.Options{Scale: 1.5, Format: render.FormatPNG, Concurrency: 4}, nil)
	c := NewController(r, Options{Config: cfg(), BatchTimeout: 5 * time.Second, Sink: sink})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c, ctx
}

func waitFor(t *testing.T, c *Controller, ctx context.Context, cond func(Status) bool) Status {
	t.Helper()
	var last Status
	require.Eventually(t, func() bool {
		st, err := c.Status(ctx)
		if err != nil {
			return false
		}
		last = st
		return cond(st)
	}, 3*time.Second, 5*time.Millisecond)
	return last
}

func ready(n int) func(Status) bool {
	return func(st Status) bool { return st.State == Ready.String() && st.LoadedCount == n }
}

func count(xs []int, v int) int {
	n := 0
	for _, x := range xs {
		if x == v {
			n++
		}
	}
	return n
}

func TestControllerInitialLoad(t *testing.T) {
	sink := &recordingSink{}
	c, ctx := startController(t, sink)
	doc := documenttest.New(12)
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", doc)))

	st := waitFor(t, c, ctx, ready(10))
	assert.Equal(t, 12, st.TotalPages)
	assert.False(t, st.IsLoading)

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	snap := pages.Snapshot()
	require.Len(t, snap, 10)
	for i, p := range snap {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, 150, p.Width)
		assert.Equal(t, 210, p.Height)
	}
	assert.Equal(t, []string{"initial_loading", "ready"}, sink.seen())
}

func TestControllerPrefetchNearBoundary(t *testing.T) {
	c, ctx := startController(t, nil)
	doc := documenttest.New(12)
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", doc)))
	waitFor(t, c, ctx, ready(10))

	require.NoError(t, c.Navigate(ctx, 8))
	require.NoError(t, c.Navigate(ctx, 9))
	waitFor(t, c, ctx, ready(12))

	got := doc.Rendered()
	assert.Len(t, got, 12)
	assert.Equal(t, 1, count(got, 11))
	assert.Equal(t, 1, count(got, 12))
}

func TestControllerNoPrefetchFarFromBoundary(t *testing.T) {
	c, ctx := startController(t, nil)
	doc := documenttest.New(12)
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", doc)))
	waitFor(t, c, ctx, ready(10))

	require.NoError(t, c.Navigate(ctx, 2))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready.String(), st.State)
	assert.Equal(t, 10, st.LoadedCount)
	assert.Len(t, doc.Rendered(), 10)
}

func TestControllerSkipsFailedPage(t *testing.T) {
	c, ctx := startController(t, nil)
	doc := documenttest.New(10)
	doc.Fail[4] = true
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", doc)))
	waitFor(t, c, ctx, ready(9))

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	var idx []int
	for _, p := range pages.Snapshot() {
		idx = append(idx, p.Index)
	}
	assert.Equal(t, []int{1, 2, 3, 5, 6, 7, 8, 9, 10}, idx)
}

func TestControllerAllPagesFail(t *testing.T) {
	c, ctx := startController(t, nil)
	doc := documenttest.New(2)
	doc.Fail[1], doc.Fail[2] = true, true
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", doc)))

	st := waitFor(t, c, ctx, func(st Status) bool { return st.State == Failed.String() })
	assert.Contains(t, st.LastError, ErrLoadFailure.Error())
	assert.Zero(t, st.LoadedCount)
}

func TestControllerDiscardsStaleBatch(t *testing.T) {
	c, ctx := startController(t, nil)
	a := documenttest.New(12)
	a.Gate = make(chan struct{})
	b := documenttest.New(5)
	b.Width = 50

	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", a)))
	require.NoError(t, c.Supply(ctx, documenttest.Handle("b.pdf", b)))
	waitFor(t, c, ctx, ready(5))

	close(a.Gate)
	time.Sleep(50 * time.Millisecond)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, 5, st.TotalPages)

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, pages.Len())
	for _, p := range pages.Snapshot() {
		assert.Equal(t, 75, p.Width, "page %d came from the previous document", p.Index)
	}
}

func TestControllerDiscardsStalePrefetch(t *testing.T) {
	c, ctx := startController(t, nil)
	a := documenttest.New(12)
	a.Gate = make(chan struct{})
	a.GateFrom = 11
	b := documenttest.New(5)
	b.Width = 50

	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", a)))
	waitFor(t, c, ctx, ready(10))
	require.NoError(t, c.Navigate(ctx, 8))
	waitFor(t, c, ctx, func(st Status) bool { return st.State == Prefetching.String() && st.HighestRequested == 12 })

	require.NoError(t, c.Supply(ctx, documenttest.Handle("b.pdf", b)))
	waitFor(t, c, ctx, ready(5))

	close(a.Gate)
	time.Sleep(50 * time.Millisecond)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, Ready.String(), st.State)
	assert.Equal(t, 5, st.HighestRequested)

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, pages.Len())
	assert.False(t, pages.Has(11))
	assert.False(t, pages.Has(12))
	for _, p := range pages.Snapshot() {
		assert.Equal(t, 75, p.Width, "page %d came from the previous document", p.Index)
	}
}

func TestControllerPublishesUpdates(t *testing.T) {
	c, ctx := startController(t, nil)
	updates := c.Subscribe()
	require.NoError(t, c.Supply(ctx, documenttest.Handle("a.pdf", documenttest.New(3))))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Status.State == Ready.String() {
				assert.Equal(t, 3, u.Pages.Len())
				assert.NotZero(t, u.Version)
				return
			}
		case <-deadline:
			t.Fatal("no ready update")
		}
	}
}

func TestControllerStopped(t *testing.T) {
	r := render.New(render.Options{}, nil)
	c := NewController(r, Options{Config: cfg()})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	cancel()
	require.Eventually(t, func() bool {
		_, err := c.Status(context.Background())
		return err == ErrStopped
	}, time.Second, 5*time.Millisecond)
}

package viewport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/flipbook/internal/render"
)

func pages(idx ...int) []render.Page {
	out := make([]render.Page, 0, len(idx))
	for _, i := range idx {
		out = append(out, render.Page{Index: i, Width: 150, Height: 210})
	}
	return out
}

func seq(n int) []render.Page {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i + 1
	}
	return pages(idx...)
}

func drain(v *Viewport) []int {
	var got []int
	for {
		select {
		case i := <-v.Navigations():
			got = append(got, i)
		default:
			return got
		}
	}
}

func TestGoToNextAtLastPageIsNoop(t *testing.T) {
	for _, twoPage := range []bool{false, true} {
		v := New(Config{TwoPage: twoPage}, Instant{})
		v.Remount(seq(9), 1)
		v.GoTo(8)
		drain(v)
		before := v.State().CurrentIndex

		assert.False(t, v.GoToNext())
		assert.Equal(t, before, v.State().CurrentIndex)
		assert.Empty(t, drain(v))
	}
}

func TestGoToPreviousAtFirstPageIsNoop(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(seq(5), 1)
	assert.False(t, v.GoToPrevious())
	assert.Zero(t, v.State().CurrentIndex)
}

func TestNavigationWithoutPages(t *testing.T) {
	v := New(Config{}, Instant{})
	assert.False(t, v.GoToNext())
	assert.False(t, v.GoTo(3))
	assert.Zero(t, v.State().CurrentPage)
}

func TestSinglePageStepping(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(seq(5), 1)
	require.True(t, v.GoToNext())
	require.True(t, v.GoToNext())
	require.True(t, v.GoToPrevious())
	assert.Equal(t, []int{1, 2, 1}, drain(v))
	assert.Equal(t, 2, v.State().CurrentPage)
}

func TestTwoPageSpreads(t *testing.T) {
	v := New(Config{TwoPage: true}, Instant{})
	v.Remount(seq(10), 1)
	v.GoToNext()
	v.GoToNext()
	assert.Equal(t, []int{2, 4}, drain(v))

	st := v.State()
	assert.Equal(t, []int{5, 6}, st.Visible)

	v.GoTo(7)
	assert.Equal(t, []int{6}, drain(v))
}

func TestGoToClamps(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(seq(4), 1)
	v.GoTo(40)
	assert.Equal(t, 3, v.State().CurrentIndex)
	v.GoTo(-4)
	assert.Equal(t, 0, v.State().CurrentIndex)
	assert.Equal(t, []int{3, 0}, drain(v))
}

func TestRemountKeepsVisiblePage(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(seq(10), 1)
	v.GoTo(8)

	assert.False(t, v.Remount(seq(10), 1), "same version")
	require.True(t, v.Remount(seq(12), 2))
	st := v.State()
	assert.Equal(t, 8, st.CurrentIndex)
	assert.Equal(t, 9, st.CurrentPage)
	assert.Equal(t, 12, st.Loaded)
	assert.Equal(t, 2, st.Mounts)
}

func TestRemountFollowsPageIdentity(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(pages(1, 2, 3, 5, 6), 1)
	v.GoTo(3)
	require.Equal(t, 5, v.State().CurrentPage)

	v.Remount(pages(1, 2, 3, 4, 5, 6), 2)
	assert.Equal(t, 4, v.State().CurrentIndex)
	assert.Equal(t, 5, v.State().CurrentPage)
}

func TestZoomClamps(t *testing.T) {
	v := New(Config{}, Instant{})
	var z float64
	for i := 0; i < 10; i++ {
		z = v.ZoomIn()
		assert.LessOrEqual(t, z, 2.0)
	}
	assert.Equal(t, 2.0, z)

	for i := 0; i < 10; i++ {
		z = v.ZoomOut()
	}
	assert.Equal(t, 0.6, z)
	assert.Equal(t, 0.8, v.ZoomIn())
}

func TestTimedFlipReportsOnceAfterAnimation(t *testing.T) {
	v := New(Config{}, TimedAnimator{Duration: 20 * time.Millisecond})
	v.Remount(seq(5), 1)

	require.True(t, v.GoToNext())
	assert.True(t, v.State().Flipping)
	assert.False(t, v.GoToNext(), "turn in progress")

	select {
	case i := <-v.Navigations():
		assert.Equal(t, 1, i)
	case <-time.After(time.Second):
		t.Fatal("flip never completed")
	}
	require.Eventually(t, func() bool { return !v.State().Flipping }, time.Second, time.Millisecond)
	assert.Empty(t, drain(v))
}

// heldAnimator keeps every turn pending until release is called.
type heldAnimator struct{ pending []func() }

func (h *heldAnimator) Flip(_, _ int, done func()) { h.pending = append(h.pending, done) }

func (h *heldAnimator) release() {
	for _, done := range h.pending {
		done()
	}
	h.pending = nil
}

func TestResetDropsTurnFromPreviousDocument(t *testing.T) {
	anim := &heldAnimator{}
	v := New(Config{}, anim)
	v.Remount(seq(10), 1)
	v.GoTo(8)
	anim.release()
	drain(v)

	require.True(t, v.GoToNext())
	require.True(t, v.State().Flipping)

	v.Reset()
	v.Remount(seq(12), 1)
	st := v.State()
	assert.Zero(t, st.CurrentIndex)
	assert.False(t, st.Flipping)

	stale := anim.pending
	anim.pending = nil
	for _, done := range stale {
		done()
	}
	assert.Zero(t, v.State().CurrentIndex)
	assert.Equal(t, 1, v.State().CurrentPage)
	assert.Empty(t, drain(v))

	require.True(t, v.GoToNext())
	anim.release()
	assert.Equal(t, 1, v.State().CurrentIndex)
	assert.Equal(t, []int{1}, drain(v))
}

func TestCompleteDoesNotBlockWithoutConsumer(t *testing.T) {
	v := New(Config{}, Instant{})
	v.Remount(seq(40), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 30; i++ {
			v.GoToNext()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flip blocked on a full navigation buffer")
	}
	assert.Equal(t, 30, v.State().CurrentIndex)
	assert.Len(t, drain(v), 16)
}

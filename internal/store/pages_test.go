package store

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/flipbook/internal/render"
)

func pages(idx ...int) []render.Page {
	out := make([]render.Page, 0, len(idx))
	for _, i := range idx {
		out = append(out, render.Page{Index: i, Width: 10, Height: 14, Format: render.FormatJPEG, Image: []byte{byte(i)}})
	}
	return out
}

func indices(ps []render.Page) []int {
	out := make([]int, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Index)
	}
	return out
}

func TestMergeSnapshotSortedAndUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		s := NewPageStore()
		for m := 0; m < 8; m++ {
			var batch []int
			for k := 0; k < rng.Intn(6); k++ {
				batch = append(batch, 1+rng.Intn(20))
			}
			s.Merge(pages(batch...))
		}
		snap := indices(s.Snapshot())
		for i := 1; i < len(snap); i++ {
			require.Less(t, snap[i-1], snap[i], "round %d: %v", round, snap)
		}
		assert.Equal(t, s.Len(), len(snap))
	}
}

func TestMergeExistingIndexIsNoop(t *testing.T) {
	s := NewPageStore()
	require.Equal(t, 2, s.Merge(pages(1, 2)))
	before := s.Snapshot()
	v := s.Version()

	replacement := render.Page{Index: 2, Width: 999, Image: []byte("other")}
	assert.Equal(t, 0, s.Merge([]render.Page{replacement}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, v, s.Version())
	p, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, 10, p.Width)
}

func TestSnapshotStableWithoutMerge(t *testing.T) {
	s := NewPageStore()
	s.Merge(pages(3, 1, 2))
	a := s.Snapshot()
	b := s.Snapshot()
	assert.Equal(t, a, b)
	assert.Equal(t, []int{1, 2, 3}, indices(a))
	assert.Equal(t, []int{3, 1, 2}, s.InsertionOrder())
}

func TestSparseWindows(t *testing.T) {
	s := NewPageStore()
	s.Merge(pages(1, 2, 3, 5))
	s.Merge(pages(11, 12))
	assert.True(t, s.Has(5))
	assert.False(t, s.Has(4))
	assert.Equal(t, 12, s.MaxIndex())
	assert.Equal(t, []int{1, 2, 3, 5, 11, 12}, indices(s.Snapshot()))
}

func TestEmptyStore(t *testing.T) {
	s := NewPageStore()
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 0, s.MaxIndex())
	assert.Equal(t, uint64(0), s.Version())
}

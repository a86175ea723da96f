package store

import (
	"sort"
	"sync"

	"github.com/local/flipbook/internal/render"
)

// PageStore is the ordered, sparse collection of rendered pages of one session.
// Merging an index that is already present is a no-op.
type PageStore struct {
	mu      sync.RWMutex
	byIndex map[int]render.Page
	order   []int // insertion order
	snap    []render.Page
	version uint64
}

func NewPageStore() *PageStore {
	return &PageStore{byIndex: map[int]render.Page{}}
}

// Merge inserts pages whose index is not yet stored and returns how many were added.
func (s *PageStore) Merge(pages []render.Page) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, p := range pages {
		if _, ok := s.byIndex[p.Index]; ok {
			continue
		}
		s.byIndex[p.Index] = p
		s.order = append(s.order, p.Index)
		added++
	}
	if added > 0 {
		s.rebuild()
		s.version++
	}
	return added
}

func (s *PageStore) rebuild() {
	snap := make([]render.Page, 0, len(s.byIndex))
	for _, p := range s.byIndex {
		snap = append(snap, p)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Index < snap[j].Index })
	s.snap = snap
}

func (s *PageStore) Has(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byIndex[index]
	return ok
}

// Get returns the page at index.
func (s *PageStore) Get(index int) (render.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byIndex[index]
	return p, ok
}

// Snapshot returns the pages sorted by index. The returned slice is shared and must not be
// modified; it stays identical until the next Merge that adds a page.
func (s *PageStore) Snapshot() []render.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Version changes exactly when Snapshot changes.
func (s *PageStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIndex)
}

// MaxIndex returns the highest stored page index, 0 when empty.
func (s *PageStore) MaxIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snap) == 0 {
		return 0
	}
	return s.snap[len(s.snap)-1].Index
}

// InsertionOrder returns page indices in the order they were first merged.
func (s *PageStore) InsertionOrder() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.order...)
}

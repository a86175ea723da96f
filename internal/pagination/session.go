// Package pagination decides which pages to render and when: an initial batch on
// document supply, then windowed prefetch as the viewport nears the loaded boundary.
package pagination

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/local/flipbook/internal/document"
	"github.com/local/flipbook/internal/render"
	"github.com/local/flipbook/internal/store"
)

// ErrLoadFailure means the initial batch produced no pages; the session is terminal.
var ErrLoadFailure = errors.New("document could not be loaded")

type State int

const (
	Idle State = iota
	InitialLoading
	Ready
	Prefetching
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InitialLoading:
		return "initial_loading"
	case Ready:
		return "ready"
	case Prefetching:
		return "prefetching"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Kind string

const (
	KindInitial  Kind = "initial"
	KindPrefetch Kind = "prefetch"
)

// Config is the windowed loading policy.
type Config struct {
	InitialBatchSize  int
	PrefetchBatchSize int
	PrefetchThreshold int
}

func (c Config) withDefaults() Config {
	if c.InitialBatchSize < 1 {
		c.InitialBatchSize = 10
	}
	if c.PrefetchBatchSize < 1 {
		c.PrefetchBatchSize = 5
	}
	if c.PrefetchThreshold < 0 {
		c.PrefetchThreshold = 3
	}
	return c
}

// Request is one batch the session wants rendered.
type Request struct {
	ID         string
	Generation uint64
	Kind       Kind
	Pages      []int
}

// Status is a read-only view of the load session.
type Status struct {
	Generation       uint64 `json:"generation"`
	DocumentID       string `json:"document_id,omitempty"`
	State            string `json:"state"`
	TotalPages       int    `json:"total_pages"`
	LoadedCount      int    `json:"loaded_count"`
	IsLoading        bool   `json:"is_loading"`
	LastError        string `json:"last_error,omitempty"`
	HighestRequested int    `json:"highest_requested"`
	CurrentIndex     int    `json:"current_index"`
}

// Session is the load-session state machine. It performs no I/O and is not safe for
// concurrent use; Controller serialises access to it.
type Session struct {
	cfg              Config
	gen              uint64
	docID            string
	state            State
	total            int
	highestRequested int
	current          int
	inflight         *Request
	lastError        error
	pages            *store.PageStore
}

func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg.withDefaults(), pages: store.NewPageStore()}
}

func (s *Session) State() State              { return s.state }
func (s *Session) Pages() *store.PageStore   { return s.pages }
func (s *Session) Generation() uint64        { return s.gen }
func (s *Session) InFlight() (Request, bool) {
	if s.inflight == nil {
		return Request{}, false
	}
	return *s.inflight, true
}

func (s *Session) Status() Status {
	st := Status{
		Generation:       s.gen,
		DocumentID:       s.docID,
		State:            s.state.String(),
		TotalPages:       s.total,
		LoadedCount:      s.pages.Len(),
		IsLoading:        s.inflight != nil,
		HighestRequested: s.highestRequested,
		CurrentIndex:     s.current,
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

// Supply starts a new session for a document, discarding all previous session state.
// total may be document.TotalUnknown.
func (s *Session) Supply(docID string, total int) (Request, bool) {
	s.gen++
	s.docID = docID
	s.total = total
	s.highestRequested = 0
	s.current = 0
	s.inflight = nil
	s.lastError = nil
	s.pages = store.NewPageStore()

	if total == 0 {
		s.state = Failed
		s.lastError = fmt.Errorf("%w: document has no pages", ErrLoadFailure)
		return Request{}, false
	}
	s.state = InitialLoading
	return s.issue(KindInitial, 1, s.cfg.InitialBatchSize), true
}

// issue requests count pages starting at first, clamped to a known total.
func (s *Session) issue(kind Kind, first, count int) Request {
	last := first + count - 1
	if s.total != document.TotalUnknown && last > s.total {
		last = s.total
	}
	pages := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		pages = append(pages, i)
	}
	req := Request{ID: ulid.Make().String(), Generation: s.gen, Kind: kind, Pages: pages}
	s.highestRequested = last
	s.inflight = &req
	return req
}

// Navigate records the viewport's current index and returns a prefetch request when the
// index is within the threshold of the loaded boundary and more pages remain.
func (s *Session) Navigate(index int) (Request, bool) {
	if index < 0 {
		index = 0
	}
	s.current = index
	return s.maybePrefetch()
}

// DiscoverTotal records a newly learned page count and re-checks whether more pages remain.
func (s *Session) DiscoverTotal(total int) (Request, bool) {
	if total < 0 || s.state == Idle || s.state == Failed {
		return Request{}, false
	}
	s.total = total
	return s.maybePrefetch()
}

func (s *Session) morePages() bool {
	return s.total == document.TotalUnknown || s.highestRequested < s.total
}

func (s *Session) maybePrefetch() (Request, bool) {
	if s.state != Ready || s.inflight != nil || !s.morePages() {
		return Request{}, false
	}
	// The viewport addresses loaded pages by position, so the boundary is the loaded count.
	if s.current < s.pages.Len()-s.cfg.PrefetchThreshold {
		return Request{}, false
	}
	s.state = Prefetching
	return s.issue(KindPrefetch, s.highestRequested+1, s.cfg.PrefetchBatchSize), true
}

// Complete merges a finished batch. Results for any request other than the one in flight
// for the current generation are stale and ignored. A follow-up prefetch is returned when
// the last reported index is already near the new boundary.
func (s *Session) Complete(req Request, res render.BatchResult) (merged int, stale bool, next Request, ok bool) {
	if req.Generation != s.gen || s.inflight == nil || s.inflight.ID != req.ID {
		return 0, true, Request{}, false
	}
	s.inflight = nil
	merged = s.pages.Merge(res.Pages)

	switch req.Kind {
	case KindInitial:
		if s.pages.Len() == 0 {
			s.state = Failed
			s.lastError = ErrLoadFailure
			if len(res.Failures) > 0 {
				s.lastError = fmt.Errorf("%w: %v", ErrLoadFailure, res.Failures[0])
			}
			return merged, false, Request{}, false
		}
		s.state = Ready
	case KindPrefetch:
		s.state = Ready
		if s.total == document.TotalUnknown && len(res.Pages) == 0 {
			// Nothing past the boundary rendered: treat the highest loaded page as the end.
			s.total = s.pages.MaxIndex()
		}
	}
	next, ok = s.maybePrefetch()
	return merged, false, next, ok
}

package audit

import (
	"sync"

	"github.com/mcpauth/obo-core/pkg/logger"
)

// DefaultCapacity is the default ring buffer size (spec.md §4.5).
const DefaultCapacity = 10_000

// OverflowFunc is invoked with the batch of entries about to be evicted
// when the ring buffer is full, letting a caller persist them elsewhere
// before they are lost.
type OverflowFunc func(evicted []Entry)

// Query filters Service.Query results. Zero-value fields are unfiltered.
type Query struct {
	UserID  string
	Action  string
	Success *bool
	Limit   int
}

// Service is a bounded, thread-safe audit log. The zero value is a valid
// null-object configuration: Log silently drops every entry, so the rest
// of the core can call Log unconditionally without nil checks (spec.md
// §4.5's null-object behaviour). Construct with New for real retention.
type Service struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	onOver   OverflowFunc
}

// New builds a Service retaining up to capacity entries. capacity <= 0
// falls back to DefaultCapacity. onOverflow may be nil.
func New(capacity int, onOverflow OverflowFunc) *Service {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Service{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		onOver:   onOverflow,
	}
}

// Log validates and appends entry, evicting the oldest entry (and
// invoking the overflow callback) if the ring is full. A Service
// constructed via its zero value drops every entry silently. An invalid
// entry (missing source/action) is logged at warn level and dropped —
// malformed audit entries must never crash a request path.
func (s *Service) Log(entry Entry) {
	if err := entry.Validate(); err != nil {
		logger.Warnf("audit: dropping invalid entry: %v", err)
		return
	}
	if s == nil || s.capacity == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.capacity {
		evictN := len(s.entries) - s.capacity + 1
		evicted := append([]Entry(nil), s.entries[:evictN]...)
		s.entries = s.entries[evictN:]
		if s.onOver != nil {
			s.onOver(evicted)
		}
	}
	s.entries = append(s.entries, entry)
}

// Query returns entries matching q, most recent last, truncated to
// q.Limit if positive.
func (s *Service) Query(q Query) []Entry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Entry
	for _, e := range s.entries {
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if q.Success != nil && e.Success != *q.Success {
			continue
		}
		matched = append(matched, e)
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}
	return matched
}

// Drain returns and clears all retained entries.
func (s *Service) Drain() []Entry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.entries
	s.entries = make([]Entry, 0, s.capacity)
	return out
}

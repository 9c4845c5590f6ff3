package poll

import (
	"strconv"
	"strings"
	"sync"
)

// CompareIDs orders two message ids. Purely numeric ids compare numerically;
// everything else falls back to lexicographic comparison. Returns -1, 0, or 1.
func CompareIDs(a, b string) int {
	an, aErr := strconv.ParseInt(a, 10, 64)
	bn, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// cursors tracks the forward (lastID) and backward (oldestID) pagination
// positions. The zero value means no poll has completed yet.
type cursors struct {
	mu       sync.Mutex
	lastID   string
	oldestID string
}

// observe folds one message id into both cursors and reports whether the
// forward cursor advanced.
func (c *cursors) observe(id string) (advanced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastID == "" || CompareIDs(id, c.lastID) > 0 {
		c.lastID = id
		advanced = true
	}
	if c.oldestID == "" || CompareIDs(id, c.oldestID) < 0 {
		c.oldestID = id
	}
	return advanced
}

func (c *cursors) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

func (c *cursors) oldest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oldestID
}

// seenSet is a bounded set of message ids with FIFO eviction. It is the
// authoritative dedup gate: membership is checked before any parsing work.
type seenSet struct {
	mu       sync.Mutex
	capacity int
	members  map[string]struct{}
	order    []string
	head     int
}

// DefaultSeenCapacity bounds the dedup set.
const DefaultSeenCapacity = 4096

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &seenSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// add inserts id, evicting the oldest member at capacity. Returns false if id
// was already present.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[id]; exists {
		return false
	}

	if len(s.members) >= s.capacity {
		oldest := s.order[s.head]
		delete(s.members, oldest)
		s.order[s.head] = id
		s.head = (s.head + 1) % s.capacity
	} else {
		s.order = append(s.order, id)
	}
	s.members[id] = struct{}{}
	return true
}

func (s *seenSet) contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.members[id]
	return exists
}

func (s *seenSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

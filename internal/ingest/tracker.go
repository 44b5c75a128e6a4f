package ingest

import (
	"sort"
	"sync"

	"github.com/franz/fpvscan/internal/store"
)

// Tracker records the segments committed during one run. Only successful
// inserts are added, so its size always equals the rows written.
type Tracker struct {
	mu   sync.Mutex
	keys map[store.SegmentKey]struct{}
}

// NewTracker returns an empty tracker
func NewTracker() *Tracker {
	return &Tracker{keys: make(map[store.SegmentKey]struct{})}
}

// Add records a committed segment
func (t *Tracker) Add(key store.SegmentKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[key] = struct{}{}
}

// Contains reports whether key was committed this run
func (t *Tracker) Contains(key store.SegmentKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.keys[key]
	return ok
}

// Len returns the number of committed segments
func (t *Tracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Keys returns the committed keys ordered by session, then segment number
func (t *Tracker) Keys() []store.SegmentKey {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]store.SegmentKey, 0, len(t.keys))
	for k := range t.keys {
		out = append(out, k)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].SegmentNumber < out[j].SegmentNumber
	})
	return out
}

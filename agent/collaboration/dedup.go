package collaboration

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Dedup remembers recently processed messages so a redelivered or looped
// message is handled once. It is an approximation: entries are evicted by
// age and capacity, so an old repeat is processed again.
type Dedup struct {
	window   time.Duration
	capacity int

	mu   sync.Mutex
	seen map[uint64]time.Time
}

// NewDedup creates a cache that suppresses repeats inside window and keeps
// at most capacity entries.
func NewDedup(window time.Duration, capacity int) *Dedup {
	if window <= 0 {
		window = 5 * time.Second
	}
	if capacity <= 0 {
		capacity = 50
	}
	return &Dedup{
		window:   window,
		capacity: capacity,
		seen:     make(map[uint64]time.Time, capacity+1),
	}
}

// DedupKey hashes sender, text and context, each compared case-insensitively
// with outer whitespace ignored. Fields are NUL-separated so ("ab", "c")
// and ("a", "bc") hash differently.
func DedupKey(sender, text, context string) uint64 {
	h := xxhash.New()
	for i, part := range [...]string{sender, text, context} {
		if i > 0 {
			_, _ = h.WriteString("\x00")
		}
		_, _ = h.WriteString(strings.ToLower(strings.TrimSpace(part)))
	}
	return h.Sum64()
}

// Seen reports whether the message was already processed within the window.
// A message that is not a duplicate is recorded at now. Duplicates do not
// refresh their timestamp.
func (d *Dedup) Seen(sender, text, context string, now time.Time) bool {
	key := DedupKey(sender, text, context)

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > d.capacity {
		d.evictOldest()
	}
	return false
}

// Prune drops entries older than the window.
func (d *Dedup) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
			n++
		}
	}
	return n
}

// Len returns the number of remembered messages.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) evictOldest() {
	var (
		oldestKey uint64
		oldest    time.Time
		found     bool
	)
	for k, t := range d.seen {
		if !found || t.Before(oldest) {
			oldestKey, oldest, found = k, t, true
		}
	}
	if found {
		delete(d.seen, oldestKey)
	}
}

// Package dedupe tracks which (user, item) submissions this process has already
// accepted so a double click or a retried request cannot write a second record.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/kickrate/internal/domain/model"
)

// Deduper records submission keys to ensure at-most-once writes per (user, item).
type Deduper interface {
	// SeenAndRecord atomically checks if the pair was seen and records it if not.
	// Returns true if it was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, userID, itemID string) bool

	// Unrecord forgets a pair so it can be retried. Used when the record write
	// failed after the pair was reserved.
	Unrecord(ctx context.Context, userID, itemID string)

	Size() int64
}

// inMemoryDeduper keeps keys in a map with a FIFO ring for bounded mode.
// With maxSize <= 0 nothing is evicted.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[model.SlotKey]int // key -> slot in ring, -1 in unbounded mode
	ring    []model.SlotKey       // insertion order, the zero key marks a freed slot
	next    int                   // next slot to overwrite
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[model.SlotKey]int)
	if d.maxSize > 0 {
		d.ring = make([]model.SlotKey, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, userID, itemID string) bool {
	key := model.RecordKey(userID, itemID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize <= 0 {
		d.seen[key] = -1
		d.size.Add(1)
		return false
	}

	// The oldest key loses its slot once the ring wraps.
	if old := d.ring[d.next]; old != (model.SlotKey{}) {
		delete(d.seen, old)
		d.size.Add(-1)
	}
	d.ring[d.next] = key
	d.seen[key] = d.next
	d.next = (d.next + 1) % d.maxSize
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, userID, itemID string) {
	key := model.RecordKey(userID, itemID)

	d.mu.Lock()
	defer d.mu.Unlock()

	slot, exists := d.seen[key]
	if !exists {
		return
	}
	delete(d.seen, key)
	if slot >= 0 {
		d.ring[slot] = model.SlotKey{}
	}
	d.size.Add(-1)
}

// Size returns the current number of tracked pairs.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

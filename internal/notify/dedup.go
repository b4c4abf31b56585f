package notify

import (
	"context"
	"sync"
	"time"
)

// Deduper remembers which alert keys were sent recently.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget drops key so the next Seen reports it as new.
	Forget(ctx context.Context, key string) error
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen records key until ttl from now and reports whether an unexpired
// record already existed.
func (d *MemoryDeduper) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.entries[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.entries[key] = now.Add(ttl)

	// Expired keys are swept on every write.
	for k, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, k)
		}
	}
	return false, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, key string) error {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
	return nil
}

// Len returns the number of unexpired keys.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	n := 0
	for _, exp := range d.entries {
		if now.Before(exp) {
			n++
		}
	}
	return n
}

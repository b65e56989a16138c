package snapshot

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend. It backs tests and the CLI's
// ephemeral mode, where nothing should outlive the process.
type MemoryBackend struct {
	mu       sync.Mutex
	data     []byte
	present  bool
	capacity int64
}

// NewMemoryBackend creates a MemoryBackend with the given capacity.
// Non-positive capacities get the same default as the file backend.
func NewMemoryBackend(capacity int64) *MemoryBackend {
	if capacity <= 0 {
		capacity = defaultFileCapacity
	}
	return &MemoryBackend{capacity: capacity}
}

func (b *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, nil
}

func (b *MemoryBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int64(len(data)) > b.capacity {
		return ErrQuotaExceeded
	}
	b.data = make([]byte, len(data))
	copy(b.data, data)
	b.present = true
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.present = false
	return nil
}

func (b *MemoryBackend) Usage(_ context.Context) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	used := int64(len(b.data))
	avail := b.capacity - used
	if avail < 0 {
		avail = 0
	}
	pct := 0.0
	if b.capacity > 0 {
		pct = float64(used) / float64(b.capacity) * 100
	}
	return Usage{UsedBytes: used, AvailableBytes: avail, Percentage: pct}, nil
}

var _ Backend = (*MemoryBackend)(nil)

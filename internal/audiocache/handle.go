package audiocache

import "sync"

// Handle is a revocable borrow of a cached audio buffer. The cache owns the
// underlying payload; the playback manager only borrows a Handle while a
// clip is active and must tolerate revocation at any moment. Revocation
// releases the resource exactly once — double release is a no-op and use
// after release surfaces ErrRevoked instead of stale bytes.
type Handle struct {
	mu      sync.Mutex
	buf     []byte
	revoked bool
}

func newHandle(buf []byte) *Handle {
	return &Handle{buf: buf}
}

// Bytes returns the audio payload, or ErrRevoked once the owning cache
// entry has been evicted or removed.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil, ErrRevoked
	}
	return h.buf, nil
}

// Revoked reports whether the handle has been revoked.
func (h *Handle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// revoke releases the underlying buffer. Safe to call more than once; only
// the first call has any effect.
func (h *Handle) revoke() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return
	}
	h.revoked = true
	h.buf = nil
}

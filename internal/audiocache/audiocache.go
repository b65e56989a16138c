// Package audiocache caches synthesized speech so repeated questions do not
// pay for synthesis twice. Entries are keyed by (normalized text, voice,
// model), bounded by entry count, total size and age, and evicted least
// recently accessed first. A background sweep reaps aged entries ahead of
// any space-driven eviction.
package audiocache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrRevoked is returned by Handle.Bytes after the owning entry is gone.
var ErrRevoked = errors.New("audiocache: handle revoked")

// Config holds the cache bounds.
type Config struct {
	// MaxEntries caps the number of cached clips. Default 50.
	MaxEntries int

	// MaxSizeBytes caps the total payload size. Default 10 MB. A single
	// payload larger than a quarter of this budget is rejected outright.
	MaxSizeBytes int64

	// MaxAge expires entries regardless of access. Default 30 minutes.
	MaxAge time.Duration

	// SweepInterval is how often the background sweep runs. Default 5
	// minutes.
	SweepInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    50,
		MaxSizeBytes:  10 << 20,
		MaxAge:        30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int
	TotalSize int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// entry is one cached clip. The list element order tracks recency of
// access: front = most recently accessed, back = eviction candidate.
type entry struct {
	key            string
	buf            []byte
	handle         *Handle
	size           int64
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64
}

// Cache is the LRU audio cache. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*list.Element
	order     *list.List
	totalSize int64
	hits      int64
	misses    int64
	evictions int64
	stop      chan struct{}
	done      chan struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Cache and starts its background sweep. Call Close to stop
// the sweep. If logger is nil the default slog logger is used.
func New(cfg Config, logger *slog.Logger) *Cache {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = def.MaxSizeBytes
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
	go c.sweepLoop()
	return c
}

// Key derives the stable cache key for a clip.
func Key(text, voiceID, modelID string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized + "|" + voiceID + "|" + modelID))
	return hex.EncodeToString(sum[:16])
}

// Has reports whether a non-expired entry exists. It does not refresh
// access order and touches no counters.
func (c *Cache) Has(text, voiceID, modelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[Key(text, voiceID, modelID)]
	if !ok {
		return false
	}
	return !c.expired(elem.Value.(*entry))
}

// Get returns a copy of the cached audio, or nil on miss. A hit refreshes
// the entry's access metadata.
func (c *Cache) Get(text, voiceID, modelID string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(Key(text, voiceID, modelID))
	if e == nil {
		return nil
	}
	cp := make([]byte, len(e.buf))
	copy(cp, e.buf)
	return cp
}

// PlayableHandle returns a borrowed handle to the cached audio, or nil on
// miss. The cache retains ownership: the handle is revoked when the entry
// is evicted or removed.
func (c *Cache) PlayableHandle(text, voiceID, modelID string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(Key(text, voiceID, modelID))
	if e == nil {
		return nil
	}
	return e.handle
}

// Set inserts a clip, evicting least-recently-accessed entries first until
// it fits, and returns the new entry's handle so the caller can play what
// it just stored without a counted lookup. Returns nil when the payload
// alone exceeds a quarter of the size budget and cannot be cached at all.
func (c *Cache) Set(text string, buf []byte, voiceID, modelID string) *Handle {
	size := int64(len(buf))
	if size == 0 || size > c.cfg.MaxSizeBytes/4 {
		c.logger.Debug("audiocache: payload rejected", "size", size, "budget", c.cfg.MaxSizeBytes)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(text, voiceID, modelID)
	if elem, ok := c.entries[key]; ok {
		// Replace: the old entry's handle is revoked like any eviction.
		c.removeLocked(elem)
	}

	for c.order.Len() >= c.cfg.MaxEntries || c.totalSize+size > c.cfg.MaxSizeBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)
	now := c.now()
	e := &entry{
		key:            key,
		buf:            cp,
		handle:         newHandle(cp),
		size:           size,
		createdAt:      now,
		lastAccessedAt: now,
	}
	c.entries[key] = c.order.PushFront(e)
	c.totalSize += size
	return e.handle
}

// Remove drops a single entry, revoking its handle.
func (c *Cache) Remove(text, voiceID, modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[Key(text, voiceID, modelID)]; ok {
		c.removeLocked(elem)
	}
}

// ClearAll drops every entry, revoking all handles. Counters are preserved
// so stats stay meaningful across a clear.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*entry).handle.revoke()
	}
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.totalSize = 0
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		TotalSize: c.totalSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close stops the background sweep. The cache remains usable afterwards;
// age expiry then only happens lazily on access.
func (c *Cache) Close() {
	select {
	case <-c.stop:
		return
	default:
	}
	close(c.stop)
	<-c.done
}

// lookupLocked resolves a key to a live entry, handling TTL expiry and all
// counter/recency bookkeeping. Must be called with mu held.
func (c *Cache) lookupLocked(key string) *entry {
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	e := elem.Value.(*entry)
	if c.expired(e) {
		c.removeLocked(elem)
		c.misses++
		return nil
	}
	c.order.MoveToFront(elem)
	e.lastAccessedAt = c.now()
	e.accessCount++
	c.hits++
	return e
}

// removeLocked unlinks an entry and revokes its handle. Must be called with
// mu held. Revocation is idempotent, so racing a concurrent borrower is
// safe.
func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(elem)
	c.totalSize -= e.size
	e.handle.revoke()
}

func (c *Cache) expired(e *entry) bool {
	return c.now().Sub(e.createdAt) > c.cfg.MaxAge
}

// sweepLoop reaps aged entries on a fixed interval until Close.
func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce removes every entry past MaxAge.
func (c *Cache) sweepOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	removed := 0
	for elem := c.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		if c.expired(elem.Value.(*entry)) {
			c.removeLocked(elem)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("audiocache: sweep removed aged entries", "count", removed)
	}
}

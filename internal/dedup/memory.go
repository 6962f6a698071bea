package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache bounded by capacity and entry TTL.
// Expired entries are swept opportunistically on insert, so correctness does
// not depend on eviction behavior under load.
type MemoryCache struct {
	mu        sync.Mutex
	inbound   map[string]time.Time
	outbound  map[string]fingerprint
	ttl       time.Duration
	suppress  time.Duration
	capacity  int
	now       func() time.Time
	lastSweep time.Time
}

type fingerprint struct {
	hash   string
	sentAt time.Time
}

// MemoryOptions tunes a MemoryCache.
type MemoryOptions struct {
	InboundTTL  time.Duration
	Suppression time.Duration
	Capacity    int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewMemoryCache builds an in-process cache with sane defaults.
func NewMemoryCache(opts MemoryOptions) *MemoryCache {
	if opts.InboundTTL <= 0 {
		opts.InboundTTL = 24 * time.Hour
	}
	if opts.Suppression <= 0 {
		opts.Suppression = 60 * time.Second
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 10000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		inbound:  make(map[string]time.Time),
		outbound: make(map[string]fingerprint),
		ttl:      opts.InboundTTL,
		suppress: opts.Suppression,
		capacity: opts.Capacity,
		now:      now,
	}
}

// SeenInbound implements Cache. The check and the insert happen under one
// lock so two concurrent deliveries of the same id cannot both pass.
func (c *MemoryCache) SeenInbound(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if at, ok := c.inbound[id]; ok && now.Sub(at) < c.ttl {
		return true, nil
	}
	c.inbound[id] = now
	return false, nil
}

// MayResend implements Cache.
func (c *MemoryCache) MayResend(_ context.Context, phone, content string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	hash := Fingerprint(content)
	if fp, ok := c.outbound[phone]; ok && fp.hash == hash && now.Sub(fp.sentAt) < c.suppress {
		return false, nil
	}
	c.outbound[phone] = fingerprint{hash: hash, sentAt: now}
	return true, nil
}

// Forget implements Cache.
func (c *MemoryCache) Forget(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inbound, id)
	return nil
}

// sweepLocked drops expired entries; once past capacity it drops the oldest
// expired-or-not entries until the maps fit again.
func (c *MemoryCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < time.Minute && len(c.inbound) < c.capacity && len(c.outbound) < c.capacity {
		return
	}
	c.lastSweep = now
	for id, at := range c.inbound {
		if now.Sub(at) >= c.ttl {
			delete(c.inbound, id)
		}
	}
	for phone, fp := range c.outbound {
		if now.Sub(fp.sentAt) >= c.suppress {
			delete(c.outbound, phone)
		}
	}
	for id := range c.inbound {
		if len(c.inbound) < c.capacity {
			break
		}
		delete(c.inbound, id)
	}
	for phone := range c.outbound {
		if len(c.outbound) < c.capacity {
			break
		}
		delete(c.outbound, phone)
	}
}

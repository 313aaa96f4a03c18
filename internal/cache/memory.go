package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/folio/pkg/models"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is an in-process Cache for single-process use such as the CLI.
// Expired entries are dropped lazily on access.
type MemoryCache struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryCache returns an empty MemoryCache. A nil clock means the real clock.
func NewMemoryCache(clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memEntry)}
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.incrLocked(key)
	if err != nil {
		return 0, err
	}
	c.setLocked(key, []byte(strconv.FormatInt(n, 10)), expiry)
	return n, nil
}

func (c *MemoryCache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	return c.Set(ctx, ReportJobKey(job.ID), b, ttl)
}

func (c *MemoryCache) GetJob(ctx context.Context, jobID string) (*models.Job, bool, error) {
	b, found, err := c.Get(ctx, ReportJobKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	return decodeJob(jobID, b)
}

func (c *MemoryCache) BumpJobListVersion(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := JobListVersionKey()
	n, err := c.incrLocked(key)
	if err != nil {
		return 0, err
	}
	c.setLocked(key, []byte(strconv.FormatInt(n, 10)), 0)
	return n, nil
}

func (c *MemoryCache) JobListVersion(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(JobListVersionKey())
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(string(e.value), 10, 64)
}

func (c *MemoryCache) getLocked(key string) (memEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *MemoryCache) incrLocked(key string) (int64, error) {
	e, ok := c.getLocked(key)
	if !ok {
		return 1, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
	}
	return n + 1, nil
}

var _ Cache = (*MemoryCache)(nil)

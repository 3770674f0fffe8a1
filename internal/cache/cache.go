package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Entry is a cached value stamped with the time it was fetched.
type Entry struct {
	Value     []byte    `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store persists entries. Stores never expire entries on their own schedule
// in a way that is visible to Cache: freshness is decided by Cache with its
// clock, so a store may keep stale entries around.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Cache serves entries younger than its TTL. Writes replace a key atomically;
// concurrent writers to one key are last-writer-wins.
type Cache struct {
	store Store
	clock clockwork.Clock
	ttl   time.Duration
}

func New(store Store, clock clockwork.Clock, ttl time.Duration) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{store: store, clock: clock, ttl: ttl}
}

// Key builds a cache key from a document id, an operation name and the
// parameters that change the operation's result.
func Key(docID, operation string, params ...string) string {
	parts := append([]string{docID, operation}, params...)
	return strings.Join(parts, ":")
}

// Get returns the value for key when it is present and fresh
// (now - FetchedAt < ttl). Store errors are logged and read as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		slog.DebugContext(ctx, "cache miss", "key", key)
		return nil, false
	}
	if age := c.clock.Since(entry.FetchedAt); age >= c.ttl {
		slog.DebugContext(ctx, "cache expired", "key", key, "age_ms", age.Milliseconds())
		return nil, false
	}
	slog.DebugContext(ctx, "cache hit", "key", key)
	return entry.Value, true
}

// Set stores value under key, stamped with the cache clock's current time.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.store.Set(ctx, key, Entry{Value: value, FetchedAt: c.clock.Now()})
}

// GetJSON decodes a fresh cached value into T.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.WarnContext(ctx, "cache entry undecodable, treating as miss", "key", key, "error", err)
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key.
func SetJSON[T any](ctx context.Context, c *Cache, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw)
}

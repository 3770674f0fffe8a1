package docs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/internal/cache"
	"basegraph.app/coordinator/internal/model"
)

type Operation string

const (
	OpComments  Operation = "comments"
	OpRevisions Operation = "revisions"
	OpMetadata  Operation = "metadata"
)

// Source is the raw document API, without caching or retries.
type Source interface {
	ListComments(ctx context.Context, docID string) ([]model.Comment, error)
	ListRevisions(ctx context.Context, docID string) ([]model.Revision, error)
	GetMetadata(ctx context.Context, docID string) (model.DocumentMetadata, error)
}

// Preflighter is implemented by sources that can verify their credentials
// before any fetch is attempted.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// FetchError is a recoverable, per-operation failure.
type FetchError struct {
	Op  Operation
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client fetches comments, revisions and metadata through a TTL cache with
// bounded retries. Concurrent fetches of the same key share one remote call.
type Client struct {
	source  Source
	cache   *cache.Cache
	clock   clockwork.Clock
	retry   RetryPolicy
	timeout time.Duration
	flights singleflight.Group

	mu      sync.Mutex
	waiting map[string]map[*waiter]struct{}
}

// waiter is one request blocked on a shared fetch.
type waiter struct {
	ctx context.Context
}

type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithTimeout bounds each remote attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(source Source, c *cache.Cache, opts ...Option) *Client {
	client := &Client{
		source:  source,
		cache:   c,
		clock:   clockwork.NewRealClock(),
		retry:   DefaultRetryPolicy(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Preflight checks source credentials. A failure here is fatal to the run.
func (c *Client) Preflight(ctx context.Context) error {
	if p, ok := c.source.(Preflighter); ok {
		return p.Preflight(ctx)
	}
	return nil
}

// FetchComments returns the document's unresolved comments.
func (c *Client) FetchComments(ctx context.Context, docID string, forceRefresh bool) ([]model.Comment, error) {
	key := cache.Key(docID, string(OpComments))
	return fetch(ctx, c, OpComments, key, forceRefresh, func(ctx context.Context) ([]model.Comment, error) {
		all, err := c.source.ListComments(ctx, docID)
		if err != nil {
			return nil, err
		}
		open := make([]model.Comment, 0, len(all))
		for _, cm := range all {
			if !cm.Resolved {
				open = append(open, cm)
			}
		}
		return open, nil
	})
}

// FetchRevisions returns revisions modified within the last sinceHours.
// A zero window is an empty result and costs no remote call.
func (c *Client) FetchRevisions(ctx context.Context, docID string, sinceHours int, forceRefresh bool) ([]model.Revision, error) {
	if sinceHours <= 0 {
		return []model.Revision{}, nil
	}

	key := cache.Key(docID, string(OpRevisions), strconv.Itoa(sinceHours))
	return fetch(ctx, c, OpRevisions, key, forceRefresh, func(ctx context.Context) ([]model.Revision, error) {
		all, err := c.source.ListRevisions(ctx, docID)
		if err != nil {
			return nil, err
		}
		cutoff := c.clock.Now().Add(-time.Duration(sinceHours) * time.Hour)
		recent := make([]model.Revision, 0, len(all))
		for _, r := range all {
			if r.ModifiedTime.After(cutoff) {
				recent = append(recent, r)
			}
		}
		return recent, nil
	})
}

func (c *Client) FetchMetadata(ctx context.Context, docID string, forceRefresh bool) (model.DocumentMetadata, error) {
	key := cache.Key(docID, string(OpMetadata))
	return fetch(ctx, c, OpMetadata, key, forceRefresh, func(ctx context.Context) (model.DocumentMetadata, error) {
		return c.source.GetMetadata(ctx, docID)
	})
}

// fetch serves key from cache unless forceRefresh is set, otherwise calls the
// source with retries. The remote call is shared by every request for the
// same key and does not end when one of them goes away. The cache is written
// only if some request is still waiting when the call succeeds; a failed
// forced refresh leaves the previous entry untouched.
func fetch[T any](ctx context.Context, c *Client, op Operation, key string, forceRefresh bool, call func(context.Context) (T, error)) (T, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Operation: logger.Ptr(string(op))})
	var zero T

	if !forceRefresh {
		if v, ok := cache.GetJSON[T](ctx, c.cache, key); ok {
			return v, nil
		}
	}

	flightKey := key
	if forceRefresh {
		flightKey += ":force"
	}

	leave := c.join(ctx, flightKey)
	defer leave()

	ch := c.flights.DoChan(flightKey, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		start := c.clock.Now()
		v, err := withRetry(flightCtx, c.retry, c.timeout, op, call)
		if err != nil {
			return v, err
		}
		slog.DebugContext(flightCtx, "remote fetch completed",
			"duration_ms", c.clock.Since(start).Milliseconds())

		if !c.anyLive(flightKey) {
			slog.DebugContext(flightCtx, "no request waiting, skipping cache write", "key", key)
			return v, nil
		}
		if err := cache.SetJSON(flightCtx, c.cache, key, v); err != nil {
			slog.WarnContext(flightCtx, "cache write failed", "key", key, "error", err)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		slog.DebugContext(ctx, "request left in-flight fetch", "key", key)
		return zero, &FetchError{Op: op, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			slog.DebugContext(ctx, "joined in-flight fetch", "key", key)
		}
		if err := ctx.Err(); err != nil {
			return zero, &FetchError{Op: op, Err: err}
		}
		if res.Err != nil {
			slog.ErrorContext(ctx, "remote fetch failed", "error", res.Err)
			return zero, &FetchError{Op: op, Err: res.Err}
		}
		return res.Val.(T), nil
	}
}

// join registers ctx as waiting on the shared fetch for key. The returned
// func removes it again.
func (c *Client) join(ctx context.Context, key string) func() {
	w := &waiter{ctx: ctx}

	c.mu.Lock()
	if c.waiting == nil {
		c.waiting = make(map[string]map[*waiter]struct{})
	}
	set, ok := c.waiting[key]
	if !ok {
		set = make(map[*waiter]struct{})
		c.waiting[key] = set
	}
	set[w] = struct{}{}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(set, w)
		if len(c.waiting[key]) == 0 {
			delete(c.waiting, key)
		}
	}
}

func (c *Client) anyLive(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.waiting[key] {
		if w.ctx.Err() == nil {
			return true
		}
	}
	return false
}

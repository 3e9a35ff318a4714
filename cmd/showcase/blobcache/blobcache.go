// Package blobcache fetches asset bytes once per source URL and hands out
// locally-served object URLs for them.
package blobcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/portfolio/showcase/cmd/showcase/metrics"
	"github.com/portfolio/showcase/common/cache"
)

var (
	// ErrNetworkFailure wraps any fetch error or non-OK response
	ErrNetworkFailure = errors.New("blob fetch failed")
	// ErrReleased is returned once ReleaseAll has run
	ErrReleased = errors.New("blob cache released")
	// ErrNotFound is returned by Open for unknown object ids
	ErrNotFound = errors.New("blob not found")
)

// ObjectURL is a locally playable URL for cached bytes
type ObjectURL string

// Blob is the fetched content of one source URL
type Blob struct {
	Data        []byte
	ContentType string
}

// Fetcher performs the single network request for a source URL
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*Blob, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type entry struct {
	objectID    string
	url         ObjectURL
	contentType string
	size        int
}

// Cache maps source URLs to object URLs.
// At most one entry and at most one in-flight fetch exist per source URL.
type Cache struct {
	fetcher Fetcher
	store   cache.Cache
	prefix  string
	log     Logger

	group singleflight.Group

	mu       sync.RWMutex
	entries  map[string]entry  // source URL -> entry
	objects  map[string]string // object id -> source URL
	released bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a cache whose object URLs are prefix + object id.
// store holds the bytes and is closed by ReleaseAll. Fetches run under ctx
// until ReleaseAll.
func New(ctx context.Context, fetcher Fetcher, store cache.Cache, prefix string, log Logger) *Cache {
	ctx, cancel := context.WithCancel(ctx)
	return &Cache{
		fetcher: fetcher,
		store:   store,
		prefix:  prefix,
		log:     log,
		entries: make(map[string]entry),
		objects: make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load returns the object URL for sourceURL, fetching it at most once.
// Concurrent callers share the pending fetch. A failed fetch is not cached
// and not retried; the caller gets an ErrNetworkFailure and should play
// sourceURL directly. ctx only bounds how long this caller waits.
func (c *Cache) Load(ctx context.Context, sourceURL string) (ObjectURL, error) {
	c.mu.RLock()
	if c.released {
		c.mu.RUnlock()
		return "", ErrReleased
	}
	if e, ok := c.entries[sourceURL]; ok {
		c.mu.RUnlock()
		metrics.BlobCacheHits.Inc()
		return e.url, nil
	}
	c.mu.RUnlock()

	ch := c.group.DoChan(sourceURL, func() (interface{}, error) {
		return c.fetch(sourceURL)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.BlobInflightJoins.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(ObjectURL), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fetch runs inside the singleflight group; the fetch itself is bound to the
// cache lifetime, not to any one caller.
func (c *Cache) fetch(sourceURL string) (ObjectURL, error) {
	// A fetch that finished between the caller's lookup and DoChan already stored it
	if u, ok := c.Lookup(sourceURL); ok {
		return u, nil
	}

	blob, err := c.fetcher.Fetch(c.ctx, sourceURL)
	if err != nil {
		metrics.BlobFetchesTotal.WithLabelValues("failed").Inc()
		c.log.Warn("blob fetch failed, falling back to direct playback", "source", sourceURL, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrNetworkFailure, sourceURL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return "", ErrReleased
	}

	id := uuid.NewString()
	if err := c.store.Set(c.ctx, id, blob.Data, 0); err != nil {
		metrics.BlobFetchesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: store %s: %w", ErrNetworkFailure, sourceURL, err)
	}

	e := entry{
		objectID:    id,
		url:         ObjectURL(c.prefix + id),
		contentType: blob.ContentType,
		size:        len(blob.Data),
	}
	c.entries[sourceURL] = e
	c.objects[id] = sourceURL

	metrics.BlobFetchesTotal.WithLabelValues("ok").Inc()
	c.log.Debug("blob cached", "source", sourceURL, "object", id, "bytes", e.size)

	return e.url, nil
}

// Lookup returns the object URL for sourceURL without fetching
func (c *Cache) Lookup(sourceURL string) (ObjectURL, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[sourceURL]
	return e.url, ok
}

// Resolve returns the URL to play: the object URL when the load succeeds,
// otherwise sourceURL itself (uncached direct streaming).
func (c *Cache) Resolve(ctx context.Context, sourceURL string) string {
	u, err := c.Load(ctx, sourceURL)
	if err != nil {
		c.log.Debug("playing uncached", "source", sourceURL, "reason", err)
		return sourceURL
	}
	return string(u)
}

// Open returns the bytes behind an object id
func (c *Cache) Open(ctx context.Context, objectID string) ([]byte, string, error) {
	c.mu.RLock()
	if c.released {
		c.mu.RUnlock()
		return nil, "", ErrReleased
	}
	src, ok := c.objects[objectID]
	var e entry
	if ok {
		e = c.entries[src]
	}
	c.mu.RUnlock()

	if !ok {
		return nil, "", ErrNotFound
	}

	data, found, err := c.store.Get(ctx, objectID)
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, "", ErrNotFound
	}
	return data, e.contentType, nil
}

// Retain releases every entry whose source URL is not in keep.
// It returns the number of entries released.
func (c *Cache) Retain(keep []string) int {
	wanted := make(map[string]struct{}, len(keep))
	for _, u := range keep {
		wanted[u] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for src, e := range c.entries {
		if _, ok := wanted[src]; ok {
			continue
		}
		c.store.Delete(c.ctx, e.objectID)
		delete(c.objects, e.objectID)
		delete(c.entries, src)
		released++
	}

	if released > 0 {
		c.log.Info("released stale blobs", "count", released, "remaining", len(c.entries))
	}
	return released
}

// Coverage returns the fraction of urls with a resolved entry
func (c *Cache) Coverage(urls []string) float64 {
	if len(urls) == 0 {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hit := 0
	for _, u := range urls {
		if _, ok := c.entries[u]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(urls))
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ReleaseAll revokes every object URL and aborts in-flight fetches.
// Calls after the first are no-ops.
func (c *Cache) ReleaseAll() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		c.log.Warn("blob cache already released")
		return nil
	}
	c.released = true
	count := len(c.entries)
	c.entries = make(map[string]entry)
	c.objects = make(map[string]string)
	c.mu.Unlock()

	c.cancel()
	c.log.Info("blob cache released", "entries", count)
	return c.store.Close()
}

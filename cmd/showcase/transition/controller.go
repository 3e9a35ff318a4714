// Package transition serializes next/previous navigation across the asset ring.
package transition

import (
	"context"
	"sync"
	"time"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/metrics"
	"github.com/portfolio/showcase/cmd/showcase/models"
)

// Direction is a step around the ring
type Direction int

const (
	Backward Direction = -1
	Forward  Direction = 1
)

// ParseDirection maps "next"/"previous" to a Direction
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "next", "forward":
		return Forward, true
	case "previous", "prev", "backward":
		return Backward, true
	default:
		return 0, false
	}
}

// Cache is the part of the blob cache the controller consults
type Cache interface {
	Lookup(sourceURL string) (blobcache.ObjectURL, bool)
	Load(ctx context.Context, sourceURL string) (blobcache.ObjectURL, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds the swap timing policy
type Config struct {
	ReadySwapDelay    time.Duration
	FallbackSwapDelay time.Duration
	PlayRetryDelay    time.Duration
	PlayTimeout       time.Duration
	PrepareTimeout    time.Duration
	// ReadyThreshold is the ready state at which the short swap delay applies
	ReadyThreshold media.ReadyState
}

// Option configures a Controller
type Option func(*Controller)

// WithOnCommit registers an observer for every committed transition
func WithOnCommit(fn func(prev, next int)) Option {
	return func(c *Controller) {
		c.onCommit = fn
	}
}

// Controller owns the active index of one ring. At most one transition
// runs at a time; requests arriving meanwhile fold into a single pending
// target.
type Controller struct {
	cfg      Config
	adapter  capability.Adapter
	cache    Cache
	log      Logger
	sources  []string
	handles  []media.Handle
	onCommit func(prev, next int)

	mu            sync.Mutex
	active        int
	transitioning bool
	target        int
	pending       int
	hasPending    bool
	closed        bool
	idle          chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a controller over assets. handles[i] plays assets[i].
func New(cfg Config, adapter capability.Adapter, cache Cache, assets []models.Asset, handles []media.Handle, active int, log Logger, opts ...Option) *Controller {
	sources := make([]string, len(assets))
	for i, a := range assets {
		sources[i] = adapter.SourceFor(a)
	}
	if cfg.ReadyThreshold == media.HaveNothing {
		cfg.ReadyThreshold = media.HaveFutureData
	}
	if len(assets) == 0 || active < 0 || active >= len(assets) {
		active = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	c := &Controller{
		cfg:     cfg,
		adapter: adapter,
		cache:   cache,
		log:     log,
		sources: sources,
		handles: handles,
		active:  active,
		idle:    idle,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start plays the active asset from the beginning. It runs as a
// transition onto the active index so requests arriving meanwhile coalesce.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.closed || len(c.handles) == 0 || c.transitioning {
		c.mu.Unlock()
		return
	}
	target := c.active
	c.transitioning = true
	c.target = target
	c.idle = make(chan struct{})
	c.mu.Unlock()

	go c.drive(target)
}

// Next moves one step forward
func (c *Controller) Next() {
	c.request(Forward)
}

// Previous moves one step backward
func (c *Controller) Previous() {
	c.request(Backward)
}

// Ended handles the end of playback on the asset at index. Assets never
// loop, so the end of the active asset advances the ring. Events from any
// other handle, or arriving mid-transition, are stale and ignored.
func (c *Controller) Ended(index int) {
	c.mu.Lock()
	stale := c.transitioning || index != c.active
	c.mu.Unlock()

	if stale {
		c.log.Debug("ignoring stale ended event", "index", index)
		return
	}
	c.request(Forward)
}

func (c *Controller) request(dir Direction) {
	n := len(c.handles)

	c.mu.Lock()
	if c.closed || n == 0 {
		c.mu.Unlock()
		return
	}

	if c.transitioning {
		base := c.target
		if c.hasPending {
			base = c.pending
		}
		c.pending = capability.Wrap(base+int(dir), n)
		c.hasPending = true
		c.mu.Unlock()

		metrics.CoalescedRequestsTotal.Inc()
		return
	}

	target := capability.Wrap(c.active+int(dir), n)
	c.transitioning = true
	c.target = target
	c.idle = make(chan struct{})
	c.mu.Unlock()

	go c.drive(target)
}

// drive runs transitions until no pending target remains
func (c *Controller) drive(target int) {
	for {
		c.perform(target)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if !c.hasPending || c.pending == c.active {
			c.hasPending = false
			c.transitioning = false
			close(c.idle)
			c.mu.Unlock()
			return
		}
		target = c.pending
		c.hasPending = false
		c.target = target
		c.mu.Unlock()
	}
}

// perform prepares target, waits out the swap delay and commits it
func (c *Controller) perform(target int) {
	h := c.handles[target]

	ok := c.guard(func() {
		c.useCachedSource(target)
		h.SetMuted(true)
		h.SetLoop(false)
		h.SetPreload(capability.PreloadAuto)
		h.Seek(0)
	})
	if !ok {
		return
	}

	c.play(h, target)

	delay := c.cfg.FallbackSwapDelay
	if h.ReadyState() >= c.cfg.ReadyThreshold {
		delay = c.cfg.ReadySwapDelay
	}
	if !c.sleep(delay) {
		return
	}

	var prev int
	ok = c.guard(func() {
		prev = c.active
		c.active = target

		h.SetVisible(true)
		if prev != target {
			old := c.handles[prev]
			old.Pause()
			old.SetVisible(false)
		}
		c.applyHintsLocked()
	})
	if !ok {
		return
	}

	metrics.TransitionsTotal.Inc()
	c.log.Debug("transition committed", "from", prev, "to", target, "delay_ms", delay.Milliseconds())
	if c.onCommit != nil {
		c.onCommit(prev, target)
	}
}

// useCachedSource points the handle at cached bytes when they exist and the
// handle has not already buffered its current source.
func (c *Controller) useCachedSource(index int) {
	h := c.handles[index]
	u, ok := c.cache.Lookup(c.sources[index])
	if !ok || h.Source() == string(u) || h.ReadyState() >= c.cfg.ReadyThreshold {
		return
	}
	h.SetSource(string(u))
	h.Load()
}

// play starts playback, retrying once after a rejection. A second failure
// leaves the asset paused.
func (c *Controller) play(h media.Handle, index int) bool {
	err := c.tryPlay(h)
	if err == nil {
		return true
	}

	c.log.Debug("playback rejected, retrying", "index", index, "error", err)
	if !c.sleep(c.cfg.PlayRetryDelay) {
		return false
	}

	if err = c.tryPlay(h); err == nil {
		metrics.PlayRetriesTotal.WithLabelValues("ok").Inc()
		return true
	}

	metrics.PlayRetriesTotal.WithLabelValues("failed").Inc()
	c.log.Warn("playback rejected twice, showing paused", "index", index, "error", err)
	return false
}

func (c *Controller) tryPlay(h media.Handle) error {
	if c.isClosed() {
		return context.Canceled
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.PlayTimeout)
	defer cancel()
	return h.Play(ctx)
}

// sleep waits d and reports false if the controller closed meanwhile
func (c *Controller) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !c.isClosed()
	case <-c.ctx.Done():
		return false
	}
}

// Prepare gets the neighbour in dir ready without changing the ring.
// It returns the prepared index, or -1 when there is nothing to prepare.
func (c *Controller) Prepare(ctx context.Context, dir Direction) int {
	n := len(c.handles)

	c.mu.Lock()
	if c.closed || n < 2 {
		c.mu.Unlock()
		return -1
	}
	index := capability.Wrap(c.active+int(dir), n)
	c.mu.Unlock()

	if c.cfg.PrepareTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PrepareTimeout)
		defer cancel()
	}

	if _, err := c.cache.Load(ctx, c.sources[index]); err != nil {
		c.log.Debug("prepare could not cache asset", "index", index, "error", err)
	}

	c.guard(func() {
		// the ring moved on; leave handles in flight alone
		if index == c.active || (c.transitioning && index == c.target) {
			return
		}
		c.useCachedSource(index)
		c.handles[index].SetPreload(capability.PreloadAuto)
	})
	return index
}

func (c *Controller) applyHintsLocked() {
	n := len(c.handles)
	for i, h := range c.handles {
		h.SetPreload(c.adapter.PreloadFor(i, c.active, n))
	}
}

// guard runs fn under the lock unless the controller is closed
func (c *Controller) guard(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	fn()
	return true
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Active returns the active index
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsTransitioning reports whether a transition is in flight
func (c *Controller) IsTransitioning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitioning
}

// Pending returns the coalesced target, if any
func (c *Controller) Pending() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.hasPending
}

// WaitIdle blocks until no transition is in flight
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the controller. No handle is touched once Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.hasPending = false
	if c.transitioning {
		c.transitioning = false
		close(c.idle)
	}
	c.cancel()
}

// Package orchestrator composes the capability adapter, blob cache,
// warm-up sequencer, readiness gate and transition controller into one
// instance per page lifetime.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/readiness"
	"github.com/portfolio/showcase/cmd/showcase/transition"
	"github.com/portfolio/showcase/cmd/showcase/warmup"
)

// ErrEmptyAssetList is reported by Validate for a list with no assets
var ErrEmptyAssetList = errors.New("empty asset list")

// Cache is the blob cache as seen by the orchestrator
type Cache interface {
	transition.Cache
	warmup.Loader
	Retain(keep []string) int
	Coverage(urls []string) float64
	ReleaseAll() error
}

// HandleFactory returns the media handle that plays asset at index
type HandleFactory func(index int, asset models.Asset) media.Handle

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithFonts sets the font-readiness signal
func WithFonts(sig readiness.Signal) Option {
	return func(o *Orchestrator) {
		o.fonts = sig
	}
}

// WithService sets the companion-service readiness signal
func WithService(sig readiness.Signal) Option {
	return func(o *Orchestrator) {
		o.service = sig
	}
}

// WithWarmupOptions passes options to every warm-up sequencer
func WithWarmupOptions(opts ...warmup.Option) Option {
	return func(o *Orchestrator) {
		o.warmupOpts = append(o.warmupOpts, opts...)
	}
}

// WithStateListener registers fn to receive every state change
func WithStateListener(fn func(models.ShowcaseState)) Option {
	return func(o *Orchestrator) {
		o.listeners = append(o.listeners, fn)
	}
}

// Orchestrator drives one rotating showcase. Its controls never fail;
// problems are logged and absorbed.
type Orchestrator struct {
	policy  Policy
	adapter capability.Adapter
	cache   Cache
	factory HandleFactory
	log     Logger

	fonts      readiness.Signal
	service    readiness.Signal
	warmupOpts []warmup.Option
	listeners  []func(models.ShowcaseState)

	gate *readiness.Gate
	gen  atomic.Pointer[generation]

	mu     sync.Mutex
	hash   string
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an orchestrator. Call Start to begin the loading gate and
// SetAssets to supply the list.
func New(ctx context.Context, policy Policy, adapter capability.Adapter, cache Cache, factory HandleFactory, log Logger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		policy:  policy,
		adapter: adapter,
		cache:   cache,
		factory: factory,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gate = readiness.New(policy.Readiness, o.fonts, o.service, log)
	return o
}

// Start begins the readiness gate. Later calls do nothing.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.gate.OnReady(func(reason readiness.Reason) {
			if g := o.gen.Load(); g != nil {
				g.maybeStart()
			}
			o.notify()
		})
		o.gate.Start(o.ctx)
	})
}

// SetAssets replaces the asset list. A list with the same content hash as
// the current one is ignored and SetAssets reports false; an empty list
// hashes to "" and so is ignored until a non-empty list was applied. Cached bytes for
// sources still in the new list survive, and the active asset keeps its
// place when its id is still present.
func (o *Orchestrator) SetAssets(assets []models.Asset) bool {
	hash := models.ContentHash(assets)

	o.mu.Lock()
	if o.closed || hash == o.hash {
		o.mu.Unlock()
		return false
	}
	o.hash = hash

	activeID, activeSource, wasStarted := "", "", false
	if prev := o.gen.Load(); prev != nil {
		a := prev.assets[prev.ring.Active()]
		activeID, activeSource = a.ID, o.adapter.SourceFor(a)
		wasStarted = prev.isStarted()
		prev.seq.Cancel()
		prev.ring.Close()
	}

	keep := make([]string, len(assets))
	for i, a := range assets {
		keep[i] = o.adapter.SourceFor(a)
	}
	o.cache.Retain(keep)

	if len(assets) == 0 {
		o.gen.Store(nil)
		o.mu.Unlock()
		o.log.Warn("asset list is empty, showcase idle")
		o.notify()
		return true
	}

	found := models.IndexOf(assets, activeID)
	active := max(found, 0)
	// A playing asset whose bytes are unchanged keeps playing without a new
	// primer, and navigation stays open.
	carried := wasStarted && found >= 0 && keep[active] == activeSource
	g := o.newGeneration(assets, active, carried)
	o.gen.Store(g)
	o.mu.Unlock()

	for i, h := range g.handles {
		h.SetVisible(i == active)
	}
	if carried {
		g.maybeStart()
	}

	o.log.Info("asset list applied",
		"assets", len(assets),
		"active", active,
		"carried", carried,
		"hash", hash[:12],
		"engine", o.adapter.Engine().String())

	go g.seq.Run(o.ctx, g.warmupItems(keep))
	o.notify()
	return true
}

func (o *Orchestrator) newGeneration(assets []models.Asset, active int, carried bool) *generation {
	assets = append([]models.Asset(nil), assets...)
	handles := make([]media.Handle, len(assets))
	for i, a := range assets {
		handles[i] = o.factory(i, a)
	}

	g := &generation{o: o, assets: assets, handles: handles, firstReady: carried}
	g.ring = transition.New(o.policy.Transition, o.adapter, o.cache, assets, handles, active, o.log,
		transition.WithOnCommit(func(prev, next int) { o.notify() }))

	opts := append([]warmup.Option(nil), o.warmupOpts...)
	if carried {
		opts = append(opts, warmup.WithFirstPrimed())
	}
	g.seq = warmup.New(o.policy.Warmup, o.adapter, o.cache, g, o.log, opts...)
	return g
}

// CacheCoverage reports the fraction of the current list's sources whose
// bytes are held locally
func (o *Orchestrator) CacheCoverage() float64 {
	g := o.gen.Load()
	if g == nil {
		return 0
	}
	urls := make([]string, len(g.assets))
	for i, a := range g.assets {
		urls[i] = o.adapter.SourceFor(a)
	}
	return o.cache.Coverage(urls)
}

// Next moves the ring forward once loading has finished
func (o *Orchestrator) Next() {
	if g := o.navigable(); g != nil {
		g.ring.Next()
	}
}

// Previous moves the ring backward once loading has finished
func (o *Orchestrator) Previous() {
	if g := o.navigable(); g != nil {
		g.ring.Previous()
	}
}

// Ended reports that the asset at index finished playing
func (o *Orchestrator) Ended(index int) {
	if g := o.navigable(); g != nil {
		g.ring.Ended(index)
	}
}

// Prepare readies the neighbour in dir without moving the ring.
// It returns the prepared index or -1.
func (o *Orchestrator) Prepare(ctx context.Context, dir transition.Direction) int {
	g := o.gen.Load()
	if g == nil {
		return -1
	}
	return g.ring.Prepare(ctx, dir)
}

func (o *Orchestrator) navigable() *generation {
	g := o.gen.Load()
	if g == nil {
		return nil
	}
	if !g.isStarted() {
		o.log.Debug("ignoring navigation before playback started")
		return nil
	}
	return g
}

// WaitIdle blocks until the current ring has no transition in flight
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	g := o.gen.Load()
	if g == nil {
		return nil
	}
	return g.ring.WaitIdle(ctx)
}

// State returns the UI-facing snapshot
func (o *Orchestrator) State() models.ShowcaseState {
	st := models.ShowcaseState{
		IsLoaded: o.gate.IsReady(),
		Engine:   o.adapter.Engine().String(),
		LoadedBy: string(o.gate.Reason()),
	}
	if g := o.gen.Load(); g != nil {
		st.ActiveIndex = g.ring.Active()
		st.IsTransitioning = g.ring.IsTransitioning()
		st.AssetCount = len(g.assets)
		st.WarmupProgress = g.progress()
	}
	return st
}

// Assets returns the current list
func (o *Orchestrator) Assets() []models.Asset {
	g := o.gen.Load()
	if g == nil {
		return nil
	}
	return append([]models.Asset(nil), g.assets...)
}

// Engine returns the adapter's engine class
func (o *Orchestrator) Engine() capability.EngineClass {
	return o.adapter.Engine()
}

// Ready is closed when the loading gate opens
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.gate.Ready()
}

// Readiness returns the gate's signal snapshot
func (o *Orchestrator) Readiness() readiness.State {
	return o.gate.Snapshot()
}

// Close stops every component and releases the blob cache exactly once
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		g := o.gen.Swap(nil)
		o.mu.Unlock()

		o.cancel()
		if g != nil {
			g.seq.Cancel()
			g.ring.Close()
		}
		if err = o.cache.ReleaseAll(); err != nil {
			o.log.Error("failed to release blob cache", "error", err)
		}
		o.log.Info("showcase closed")
	})
	return err
}

func (o *Orchestrator) notify() {
	if len(o.listeners) == 0 {
		return
	}
	st := o.State()
	for _, fn := range o.listeners {
		fn(st)
	}
}

// Validate checks a list before it is offered to SetAssets
func Validate(assets []models.Asset) error {
	if len(assets) == 0 {
		return ErrEmptyAssetList
	}
	seen := make(map[string]struct{}, len(assets))
	for i, a := range assets {
		if a.ID == "" {
			return fmt.Errorf("asset %d: missing id", i)
		}
		if a.Source == "" {
			return fmt.Errorf("asset %s: missing source", a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("asset %s: duplicate id", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

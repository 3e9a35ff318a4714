// Package warmup primes the first asset's decoder and then background-loads
// the rest of the ring in small batches, yielding between batches.
package warmup

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/metrics"
)

// ErrDecodeTimeout marks a primer or batch member that hit its bound.
// It is logged and counted, never returned.
var ErrDecodeTimeout = errors.New("decode timeout")

// errStopped is returned by batch members once the sequence is cancelled
var errStopped = errors.New("warm-up cancelled")

// Loader resolves a source URL to the URL that should be played
type Loader interface {
	Resolve(ctx context.Context, sourceURL string) string
}

// Sink receives warm-up progress
type Sink interface {
	FirstAssetReady()
	Progress(primed, total int)
	Complete()
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Item is one asset to warm. Source is the tier-selected URL.
type Item struct {
	Index  int
	Source string
	Handle media.Handle
}

// Config bounds every wait in the sequence
type Config struct {
	PrimeTimeout       time.Duration
	AssetTimeout       time.Duration
	SafariPrimeTimeout time.Duration
	BatchSize          int
}

// Hooks observe batch boundaries
type Hooks struct {
	BatchStarted func(batch, size int)
	Yielded      func(batch int)
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithYield replaces the between-batch yield (runtime.Gosched by default)
func WithYield(fn func()) Option {
	return func(s *Sequencer) {
		s.yield = fn
	}
}

// WithFirstPrimed marks items[0] as already primed and playing. Run reports
// it ready without touching its handle.
func WithFirstPrimed() Option {
	return func(s *Sequencer) {
		s.firstPrimed = true
	}
}

// WithHooks installs batch observers
func WithHooks(h Hooks) Option {
	return func(s *Sequencer) {
		s.hooks = h
	}
}

// Sequencer runs one warm-up pass over one asset list
type Sequencer struct {
	cfg     Config
	adapter capability.Adapter
	loader  Loader
	sink    Sink
	log     Logger
	hooks   Hooks
	yield   func()

	firstPrimed bool

	mu        sync.Mutex
	cancelled bool
	primed    int
	total     int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a sequencer
func New(cfg Config, adapter capability.Adapter, loader Loader, sink Sink, log Logger, opts ...Option) *Sequencer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	s := &Sequencer{
		cfg:     cfg,
		adapter: adapter,
		loader:  loader,
		sink:    sink,
		log:     log,
		yield:   runtime.Gosched,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Batches splits items into consecutive groups of at most size
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Run warms items in order. items[0] is the active asset and is fully primed
// before any other item is touched. Run returns when every item was
// processed or the sequence was cancelled. It must be called at most once.
func (s *Sequencer) Run(ctx context.Context, items []Item) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.mu.Lock()
	s.total = len(items)
	s.mu.Unlock()

	if len(items) == 0 {
		s.guard(s.sink.Complete)
		return
	}

	start := time.Now()
	if s.firstPrimed {
		if !s.guard(func() {
			s.sink.FirstAssetReady()
			s.markPrimedLocked("ready")
		}) {
			return
		}
	} else if !s.primeFirst(ctx, items[0], len(items)) {
		return
	}

	active := items[0].Index
	batches := Batches(items[1:], s.cfg.BatchSize)
	for i, batch := range batches {
		if s.isCancelled() {
			return
		}
		if s.hooks.BatchStarted != nil {
			s.hooks.BatchStarted(i, len(batch))
		}

		if err := s.warmBatch(ctx, batch, active, len(items)); err != nil {
			s.log.Debug("warm-up stopped", "batch", i, "error", err)
			return
		}
		if i < len(batches)-1 {
			s.yield()
			if s.hooks.Yielded != nil {
				s.hooks.Yielded(i)
			}
		}
	}

	if s.guard(s.sink.Complete) {
		s.log.Info("warm-up complete",
			"assets", len(items),
			"batches", len(batches),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// primeFirst forces the active asset's decoder to produce a frame, then
// rewinds it. It reports false when the sequence was cancelled.
func (s *Sequencer) primeFirst(ctx context.Context, it Item, n int) bool {
	h := it.Handle
	ok := s.guard(func() {
		h.SetPreload(s.adapter.PreloadFor(it.Index, it.Index, n))
		h.SetMuted(true)
		h.SetLoop(false)
		if h.Source() != it.Source {
			h.SetSource(it.Source)
		}
		h.Load()
	})
	if !ok {
		return false
	}

	// The active asset plays from its direct URL; its bytes are cached in the background.
	go s.loader.Resolve(ctx, it.Source)

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PrimeTimeout)
	defer cancel()

	err := h.Play(pctx)
	switch {
	case err == nil:
		err = h.WaitFrame(pctx)
	case errors.Is(err, media.ErrPlaybackRejected):
		// No frame will come without playback; decoded data is the next best signal
		s.log.Debug("primer playback rejected, waiting for data", "index", it.Index)
		err = h.WaitReadyState(pctx, media.HaveCurrentData)
	}

	if s.isCancelled() {
		return false
	}
	if err != nil {
		s.log.Warn("first asset primer did not finish, continuing",
			"index", it.Index,
			"error", errors.Join(ErrDecodeTimeout, err))
	}

	return s.guard(func() {
		h.Pause()
		h.Seek(0)
		s.sink.FirstAssetReady()
		s.markPrimedLocked(outcome(err))
	})
}

// warmBatch warms the members of one batch concurrently, at most BatchSize
// at a time. A member that hits its own bound still returns nil; only
// cancellation fails the batch, which stops the remaining members.
func (s *Sequencer) warmBatch(ctx context.Context, batch []Item, active, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchSize)
	for _, it := range batch {
		g.Go(func() error {
			return s.warm(gctx, it, active, n)
		})
	}
	return g.Wait()
}

// warm loads one non-active asset within the per-asset bound. The asset
// counts as primed whether or not it became ready in time.
func (s *Sequencer) warm(ctx context.Context, it Item, active, n int) error {
	if s.isCancelled() {
		return errStopped
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AssetTimeout)
	defer cancel()

	url := s.loader.Resolve(actx, it.Source)

	h := it.Handle
	ok := s.guard(func() {
		h.SetPreload(s.adapter.PreloadFor(it.Index, active, n))
		h.SetMuted(true)
		h.SetLoop(false)
		if h.Source() != url {
			h.SetSource(url)
			h.Load()
		} else if h.ReadyState() == media.HaveNothing {
			h.Load()
		}
	})
	if !ok {
		return errStopped
	}

	err := h.WaitReadyState(actx, media.HaveMetadata)
	if s.isCancelled() {
		return errStopped
	}

	if err == nil && s.adapter.NeedsDecodePriming() {
		s.primeDecoder(ctx, it)
		if s.isCancelled() {
			return errStopped
		}
	}

	if err != nil {
		s.log.Debug("asset warm-up timed out, treating as warmed",
			"index", it.Index,
			"error", errors.Join(ErrDecodeTimeout, err))
	}

	if !s.guard(func() {
		s.markPrimedLocked(outcome(err))
	}) {
		return errStopped
	}
	return nil
}

// primeDecoder runs a short silent play-then-rewind cycle
func (s *Sequencer) primeDecoder(ctx context.Context, it Item) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.SafariPrimeTimeout)
	defer cancel()

	h := it.Handle
	if err := h.Play(pctx); err == nil {
		_ = h.WaitFrame(pctx)
	} else {
		s.log.Debug("decoder priming skipped", "index", it.Index, "error", err)
	}

	s.guard(func() {
		h.Pause()
		h.Seek(0)
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ready"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDecodeTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

// guard runs fn unless the sequence was cancelled, and reports whether it ran
func (s *Sequencer) guard(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	fn()
	return true
}

func (s *Sequencer) markPrimedLocked(result string) {
	if s.primed < s.total {
		s.primed++
	}
	metrics.WarmupAssetsTotal.WithLabelValues(result).Inc()
	s.sink.Progress(s.primed, s.total)
}

func (s *Sequencer) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Cancel stops the sequence. No handle or sink call is made once Cancel
// returns. Safe to call more than once.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

// Progress returns the primed count and the total
func (s *Sequencer) Progress() (primed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primed, s.total
}

// Done is closed when Run returns
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Package readiness decides when the loading screen may be dismissed.
// The gate moves from loading to ready exactly once and never back.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/portfolio/showcase/cmd/showcase/metrics"
)

// Reason records why the gate opened
type Reason string

const (
	ReasonSignals Reason = "signals"
	ReasonHardCap Reason = "hard_cap"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds the gate's timing policy
type Config struct {
	MinDisplay        time.Duration
	MaxWait           time.Duration
	PollInterval      time.Duration
	FontTimeout       time.Duration
	ServiceTimeout    time.Duration
	CoverageThreshold float64
}

// State is a snapshot of the individual signals
type State struct {
	MinElapsed      bool    `json:"min_elapsed"`
	FontsLoaded     bool    `json:"fonts_loaded"`
	FirstAssetReady bool    `json:"first_asset_ready"`
	Coverage        float64 `json:"coverage"`
	WarmupComplete  bool    `json:"warmup_complete"`
	ServiceSettled  bool    `json:"service_settled"`
	Ready           bool    `json:"ready"`
	Reason          Reason  `json:"reason,omitempty"`
}

// Gate aggregates readiness signals. It implements warmup.Sink.
type Gate struct {
	cfg     Config
	fonts   Signal
	service Signal
	log     Logger

	mu          sync.Mutex
	state       State
	started     time.Time
	subscribers []func(Reason)

	ready chan struct{}
	nudge chan struct{}
}

// New creates a gate. A nil signal counts as already satisfied.
func New(cfg Config, fonts, service Signal, log Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		fonts:   fonts,
		service: service,
		log:     log,
		ready:   make(chan struct{}),
		nudge:   make(chan struct{}, 1),
	}
}

// Start begins the minimum-display timer, the hard cap and the signal
// waiters. It returns immediately.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	g.started = time.Now()
	g.mu.Unlock()

	g.await(ctx, g.fonts, g.cfg.FontTimeout, "fonts", func(s *State) { s.FontsLoaded = true })
	g.await(ctx, g.service, g.cfg.ServiceTimeout, "service", func(s *State) { s.ServiceSettled = true })

	go g.loop(ctx)
}

// await marks a signal satisfied once it resolves or its own timeout passes
func (g *Gate) await(ctx context.Context, sig Signal, timeout time.Duration, name string, mark func(*State)) {
	if sig == nil {
		g.update(mark)
		return
	}

	go func() {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := sig.Wait(wctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			g.log.Debug("readiness signal timed out, treating as settled", "signal", name, "error", err)
		}
		g.update(mark)
	}()
}

func (g *Gate) loop(ctx context.Context) {
	minTimer := time.NewTimer(g.cfg.MinDisplay)
	defer minTimer.Stop()
	maxTimer := time.NewTimer(g.cfg.MaxWait)
	defer maxTimer.Stop()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.ready:
			return
		case <-minTimer.C:
			g.update(func(s *State) { s.MinElapsed = true })
		case <-maxTimer.C:
			g.open(ReasonHardCap)
			return
		case <-ticker.C:
		case <-g.nudge:
		}

		if g.evaluate() {
			return
		}
	}
}

// evaluate opens the gate when every signal is satisfied
func (g *Gate) evaluate() bool {
	g.mu.Lock()
	s := g.state
	g.mu.Unlock()

	if s.Ready {
		return true
	}
	if !s.MinElapsed || !s.FontsLoaded || !s.FirstAssetReady || !s.ServiceSettled {
		return false
	}
	if s.Coverage < g.cfg.CoverageThreshold && !s.WarmupComplete {
		return false
	}
	g.open(ReasonSignals)
	return true
}

func (g *Gate) open(reason Reason) {
	g.mu.Lock()
	if g.state.Ready {
		g.mu.Unlock()
		return
	}
	g.state.Ready = true
	g.state.Reason = reason
	elapsed := time.Since(g.started)
	subs := g.subscribers
	g.subscribers = nil
	snapshot := g.state
	g.mu.Unlock()

	close(g.ready)
	metrics.ReadinessDuration.WithLabelValues(string(reason)).Observe(float64(elapsed.Milliseconds()))

	if reason == ReasonHardCap {
		g.log.Warn("loading gate forced open",
			"elapsed_ms", elapsed.Milliseconds(),
			"fonts", snapshot.FontsLoaded,
			"first_asset", snapshot.FirstAssetReady,
			"coverage", snapshot.Coverage,
			"service", snapshot.ServiceSettled)
	} else {
		g.log.Info("loading gate open", "elapsed_ms", elapsed.Milliseconds(), "coverage", snapshot.Coverage)
	}

	for _, fn := range subs {
		fn(reason)
	}
}

// update applies fn to the state and wakes the loop. Ignored once ready.
func (g *Gate) update(fn func(*State)) {
	g.mu.Lock()
	if g.state.Ready {
		g.mu.Unlock()
		return
	}
	fn(&g.state)
	g.mu.Unlock()

	select {
	case g.nudge <- struct{}{}:
	default:
	}
}

// FirstAssetReady marks the first asset decodable
func (g *Gate) FirstAssetReady() {
	g.update(func(s *State) { s.FirstAssetReady = true })
}

// Progress records warm-up progress as cache coverage
func (g *Gate) Progress(primed, total int) {
	if total <= 0 {
		return
	}
	g.update(func(s *State) { s.Coverage = float64(primed) / float64(total) })
}

// Complete marks warm-up finished
func (g *Gate) Complete() {
	g.update(func(s *State) { s.WarmupComplete = true })
}

// Ready is closed when the gate opens
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// IsReady reports whether the gate has opened
func (g *Gate) IsReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// OnReady registers fn to run once when the gate opens. If it already
// opened, fn runs immediately.
func (g *Gate) OnReady(fn func(Reason)) {
	g.mu.Lock()
	if g.state.Ready {
		reason := g.state.Reason
		g.mu.Unlock()
		fn(reason)
		return
	}
	g.subscribers = append(g.subscribers, fn)
	g.mu.Unlock()
}

// Reason returns why the gate opened, or "" while loading
func (g *Gate) Reason() Reason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Reason
}

// Snapshot returns the current signal values
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

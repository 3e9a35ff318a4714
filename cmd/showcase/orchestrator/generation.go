package orchestrator

import (
	"sync"

	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/transition"
	"github.com/portfolio/showcase/cmd/showcase/warmup"
)

// generation is everything built for one asset list. It receives the
// warm-up progress for that list and forwards it to the gate.
type generation struct {
	o       *Orchestrator
	assets  []models.Asset
	handles []media.Handle
	ring    *transition.Controller
	seq     *warmup.Sequencer

	mu         sync.Mutex
	firstReady bool
	started    bool
	primed     int
	total      int
}

// warmupItems orders the ring starting at the active asset
func (g *generation) warmupItems(sources []string) []warmup.Item {
	n := len(g.assets)
	active := g.ring.Active()
	items := make([]warmup.Item, n)
	for k := range items {
		i := capability.Wrap(active+k, n)
		items[k] = warmup.Item{Index: i, Source: sources[i], Handle: g.handles[i]}
	}
	return items
}

func (g *generation) FirstAssetReady() {
	g.o.gate.FirstAssetReady()

	g.mu.Lock()
	g.firstReady = true
	g.mu.Unlock()

	g.maybeStart()
	g.o.notify()
}

func (g *generation) Progress(primed, total int) {
	g.o.gate.Progress(primed, total)

	g.mu.Lock()
	g.primed, g.total = primed, total
	g.mu.Unlock()

	g.o.notify()
}

func (g *generation) Complete() {
	g.o.gate.Complete()
	g.o.notify()
}

// maybeStart begins playback once the gate is open and the first asset
// of this list is primed, whichever happens last.
func (g *generation) maybeStart() {
	if g.o.gen.Load() != g || !g.o.gate.IsReady() {
		return
	}

	g.mu.Lock()
	if !g.firstReady || g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	g.ring.Start()
}

func (g *generation) isStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

func (g *generation) progress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.total == 0 {
		return 0
	}
	return float64(g.primed) / float64(g.total)
}

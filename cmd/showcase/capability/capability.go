// Package capability classifies the rendering engine and derives the
// per-asset source tier and preload policy. Everything here is pure.
package capability

import (
	"fmt"
	"strings"

	"github.com/portfolio/showcase/cmd/showcase/models"
)

// EngineClass is the rendering engine family of the client
type EngineClass int

const (
	Other EngineClass = iota
	SafariLike
	ChromeLike
)

func (e EngineClass) String() string {
	switch e {
	case SafariLike:
		return "safari"
	case ChromeLike:
		return "chrome"
	default:
		return "other"
	}
}

// ParseEngine parses the String form of an EngineClass
func ParseEngine(s string) (EngineClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safari":
		return SafariLike, nil
	case "chrome":
		return ChromeLike, nil
	case "other":
		return Other, nil
	default:
		return Other, fmt.Errorf("unknown engine class %q", s)
	}
}

// Preload is the media preload attribute hint
type Preload string

const (
	PreloadAuto     Preload = "auto"
	PreloadMetadata Preload = "metadata"
)

// SelectSourceTier picks the URL to play for an asset.
// Safari-like engines get the alternate tier when the asset has one.
func SelectSourceTier(a models.Asset, engine EngineClass) string {
	if engine == SafariLike && a.AltSource != "" {
		return a.AltSource
	}
	return a.Source
}

// AdjacentSet returns the ring neighbours of active, with wraparound.
func AdjacentSet(active, n int) map[int]struct{} {
	set := make(map[int]struct{}, 2)
	if n <= 1 {
		return set
	}
	set[Wrap(active-1, n)] = struct{}{}
	set[Wrap(active+1, n)] = struct{}{}
	return set
}

// PreloadPolicyFor returns the preload hint for the asset at index.
func PreloadPolicyFor(index, active int, adjacent map[int]struct{}, engine EngineClass) Preload {
	if engine != ChromeLike {
		return PreloadAuto
	}
	if index == active {
		return PreloadAuto
	}
	if _, ok := adjacent[index]; ok {
		return PreloadAuto
	}
	return PreloadMetadata
}

// Wrap maps i into [0, n). n must be positive.
func Wrap(i, n int) int {
	return ((i % n) + n) % n
}

// Adapter is the capability policy bound to one client
type Adapter interface {
	Engine() EngineClass
	SourceFor(a models.Asset) string
	PreloadFor(index, active, n int) Preload
	// NeedsDecodePriming reports whether non-active assets need a
	// silent play/pause cycle before their first navigation.
	NeedsDecodePriming() bool
}

type fixedAdapter struct {
	engine EngineClass
}

// Fixed returns an Adapter for a known engine class
func Fixed(engine EngineClass) Adapter {
	return fixedAdapter{engine: engine}
}

// ForUserAgent classifies ua and returns the matching Adapter
func ForUserAgent(c *Classifier, ua string) Adapter {
	return Fixed(c.Classify(ua))
}

func (f fixedAdapter) Engine() EngineClass { return f.engine }

func (f fixedAdapter) SourceFor(a models.Asset) string {
	return SelectSourceTier(a, f.engine)
}

func (f fixedAdapter) PreloadFor(index, active, n int) Preload {
	return PreloadPolicyFor(index, active, AdjacentSet(active, n), f.engine)
}

func (f fixedAdapter) NeedsDecodePriming() bool {
	return f.engine == SafariLike
}

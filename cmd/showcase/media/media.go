// Package media defines the imperative control surface for one playable
// media element. The UI layer owns the element; the orchestrator only
// issues commands and attribute hints against it.
package media

import (
	"context"
	"errors"
	"time"

	"github.com/portfolio/showcase/cmd/showcase/capability"
)

// ErrPlaybackRejected is returned when the runtime refuses to start playback
// (autoplay policy, decode error).
var ErrPlaybackRejected = errors.New("playback rejected")

// ReadyState mirrors HTMLMediaElement.readyState
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (r ReadyState) String() string {
	switch r {
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	case HaveFutureData:
		return "have_future_data"
	case HaveEnoughData:
		return "have_enough_data"
	default:
		return "have_nothing"
	}
}

// Handle controls one media surface
type Handle interface {
	Source() string
	SetSource(url string)
	SetPreload(p capability.Preload)
	SetMuted(muted bool)
	SetLoop(loop bool)
	SetVisible(visible bool)

	// Load restarts resource selection; ReadyState drops to HaveNothing.
	Load()
	// Play blocks until playback started or was rejected.
	Play(ctx context.Context) error
	Pause()
	Seek(t time.Duration)

	ReadyState() ReadyState
	// WaitReadyState blocks until ReadyState() >= state.
	WaitReadyState(ctx context.Context, state ReadyState) error
	// WaitFrame blocks until a frame has been produced since the last Load.
	WaitFrame(ctx context.Context) error
}

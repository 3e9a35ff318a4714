// Package mediatest provides an in-memory media.Handle with controllable timing.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
)

// FakeHandle implements media.Handle.
// Configure the exported fields before handing the fake out.
type FakeHandle struct {
	Index int

	// LoadState is reached LoadDelay after Load. A negative delay never reaches it.
	LoadState media.ReadyState
	LoadDelay time.Duration
	// FrameDelay is the time from a successful Play to the first frame. Negative means never.
	FrameDelay time.Duration
	// PlayDelay is how long Play blocks before resolving.
	PlayDelay time.Duration

	mu         sync.Mutex
	rejections int
	source     string
	preload    capability.Preload
	muted      bool
	loop       bool
	visible    bool
	playing    bool
	position   time.Duration
	readyState media.ReadyState
	frame      bool
	loadGen    int
	changed    chan struct{}
	calls      []string
	plays      int
}

// NewFakeHandle returns a fake that becomes fully ready immediately on Load
func NewFakeHandle(index int) *FakeHandle {
	return &FakeHandle{
		Index:     index,
		LoadState: media.HaveEnoughData,
		changed:   make(chan struct{}),
	}
}

// RejectPlays makes the next n Play calls fail with media.ErrPlaybackRejected
func (f *FakeHandle) RejectPlays(n int) {
	f.mu.Lock()
	f.rejections = n
	f.mu.Unlock()
}

// SetReadyState forces the ready state, as a decoder event would
func (f *FakeHandle) SetReadyState(state media.ReadyState) {
	f.mu.Lock()
	f.readyState = state
	f.broadcastLocked()
	f.mu.Unlock()
}

func (f *FakeHandle) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *FakeHandle) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *FakeHandle) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *FakeHandle) SetSource(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = url
	f.record("source:%s", url)
}

func (f *FakeHandle) SetPreload(p capability.Preload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preload = p
}

func (f *FakeHandle) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
}

func (f *FakeHandle) SetLoop(loop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loop = loop
}

func (f *FakeHandle) SetVisible(visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = visible
	f.record("visible:%t", visible)
}

func (f *FakeHandle) Load() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("load")
	f.loadGen++
	f.readyState = media.HaveNothing
	f.frame = false
	f.playing = false
	f.broadcastLocked()

	gen, target := f.loadGen, f.LoadState
	switch {
	case f.LoadDelay == 0:
		f.readyState = target
	case f.LoadDelay > 0:
		time.AfterFunc(f.LoadDelay, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.loadGen == gen {
				f.readyState = target
				f.broadcastLocked()
			}
		})
	}
}

func (f *FakeHandle) Play(ctx context.Context) error {
	f.mu.Lock()
	f.plays++
	f.record("play")
	delay := f.PlayDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejections > 0 {
		f.rejections--
		return media.ErrPlaybackRejected
	}

	f.playing = true
	gen := f.loadGen
	switch {
	case f.FrameDelay == 0:
		f.frame = true
		f.broadcastLocked()
	case f.FrameDelay > 0:
		time.AfterFunc(f.FrameDelay, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.loadGen == gen {
				f.frame = true
				f.broadcastLocked()
			}
		})
	}
	return nil
}

func (f *FakeHandle) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.record("pause")
}

func (f *FakeHandle) Seek(t time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = t
	f.record("seek:%s", t)
}

func (f *FakeHandle) ReadyState() media.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyState
}

func (f *FakeHandle) WaitReadyState(ctx context.Context, state media.ReadyState) error {
	return f.wait(ctx, func() bool { return f.readyState >= state })
}

func (f *FakeHandle) WaitFrame(ctx context.Context) error {
	return f.wait(ctx, func() bool { return f.frame })
}

func (f *FakeHandle) wait(ctx context.Context, done func() bool) error {
	for {
		f.mu.Lock()
		if done() {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Calls returns the recorded command log
func (f *FakeHandle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Plays returns how many times Play was called
func (f *FakeHandle) Plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

// Playing reports whether the fake is currently playing
func (f *FakeHandle) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

// Visible reports the last visibility hint
func (f *FakeHandle) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// Preload reports the last preload hint
func (f *FakeHandle) Preload() capability.Preload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preload
}

// Muted reports the last muted hint
func (f *FakeHandle) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

// Loop reports the last loop hint
func (f *FakeHandle) Loop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loop
}

// Position reports the last seek target
func (f *FakeHandle) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

var _ media.Handle = (*FakeHandle)(nil)

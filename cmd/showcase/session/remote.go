package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/models"
)

// Sender delivers a message to the browser
type Sender interface {
	Send(msg models.ServerMessage) error
}

// Logger is the subset of the logger RemoteHandle needs
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
}

// RemoteHandle is a media.Handle for one media element in the browser.
// Commands go out as messages; ready-state, frame and play results come
// back through Deliver.
type RemoteHandle struct {
	index int
	out   Sender
	seq   *atomic.Uint64
	log   Logger

	mu         sync.Mutex
	source     string
	readyState media.ReadyState
	frame      bool
	changed    chan struct{}
	plays      map[uint64]chan error
}

// NewRemoteHandle creates the handle for element index. seq numbers
// commands across every handle of one session.
func NewRemoteHandle(index int, out Sender, seq *atomic.Uint64, log Logger) *RemoteHandle {
	return &RemoteHandle{
		index:   index,
		out:     out,
		seq:     seq,
		log:     log,
		changed: make(chan struct{}),
		plays:   make(map[uint64]chan error),
	}
}

func (h *RemoteHandle) command(cmd models.Command) error {
	cmd.Index = h.index
	if cmd.Seq == 0 {
		cmd.Seq = h.seq.Add(1)
	}
	return h.out.Send(models.ServerMessage{Type: models.MessageCommand, Command: &cmd})
}

// fire sends a command nothing waits on. A lost command leaves the page out
// of step, so failures are logged; the sender closes the session on overflow.
func (h *RemoteHandle) fire(cmd models.Command) {
	if err := h.command(cmd); err != nil && !errors.Is(err, ErrSessionClosed) {
		h.log.Warn("media command not delivered", "index", h.index, "op", cmd.Op, "error", err)
	}
}

func (h *RemoteHandle) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *RemoteHandle) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

func (h *RemoteHandle) SetSource(url string) {
	h.mu.Lock()
	h.source = url
	h.mu.Unlock()
	h.fire(models.Command{Op: models.OpSource, Source: url})
}

func (h *RemoteHandle) SetPreload(p capability.Preload) {
	h.fire(models.Command{Op: models.OpPreload, Preload: string(p)})
}

func (h *RemoteHandle) SetMuted(muted bool) {
	h.fire(models.Command{Op: models.OpMuted, Flag: muted})
}

func (h *RemoteHandle) SetLoop(loop bool) {
	h.fire(models.Command{Op: models.OpLoop, Flag: loop})
}

func (h *RemoteHandle) SetVisible(visible bool) {
	h.fire(models.Command{Op: models.OpVisible, Flag: visible})
}

func (h *RemoteHandle) Load() {
	h.mu.Lock()
	h.readyState = media.HaveNothing
	h.frame = false
	h.broadcastLocked()
	h.mu.Unlock()
	h.fire(models.Command{Op: models.OpLoad})
}

// Play sends a play command and waits for the browser's play_result
func (h *RemoteHandle) Play(ctx context.Context) error {
	seq := h.seq.Add(1)
	result := make(chan error, 1)

	h.mu.Lock()
	h.plays[seq] = result
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.plays, seq)
		h.mu.Unlock()
	}()

	if err := h.command(models.Command{Seq: seq, Op: models.OpPlay}); err != nil {
		return fmt.Errorf("send play: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RemoteHandle) Pause() {
	h.fire(models.Command{Op: models.OpPause})
}

func (h *RemoteHandle) Seek(t time.Duration) {
	h.fire(models.Command{Op: models.OpSeek, Time: t.Seconds()})
}

func (h *RemoteHandle) ReadyState() media.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readyState
}

func (h *RemoteHandle) WaitReadyState(ctx context.Context, state media.ReadyState) error {
	return h.wait(ctx, func() bool { return h.readyState >= state })
}

func (h *RemoteHandle) WaitFrame(ctx context.Context) error {
	return h.wait(ctx, func() bool { return h.frame })
}

func (h *RemoteHandle) wait(ctx context.Context, done func() bool) error {
	for {
		h.mu.Lock()
		if done() {
			h.mu.Unlock()
			return nil
		}
		ch := h.changed
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Deliver applies a media event reported by the browser
func (h *RemoteHandle) Deliver(msg models.ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Type {
	case models.EventReadyState:
		h.readyState = media.ReadyState(msg.ReadyState)
		h.broadcastLocked()
	case models.EventFrame:
		h.frame = true
		h.broadcastLocked()
	case models.EventPlayResult:
		result, ok := h.plays[msg.Seq]
		if !ok {
			return
		}
		delete(h.plays, msg.Seq)
		if msg.OK {
			result <- nil
		} else {
			result <- fmt.Errorf("%w: %s", media.ErrPlaybackRejected, msg.Error)
		}
	}
}

var _ media.Handle = (*RemoteHandle)(nil)

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/common/config"
	"github.com/portfolio/showcase/common/logger"
)

var testLog = logger.New("error", "json")

type recordingSender struct {
	mu   sync.Mutex
	msgs []models.ServerMessage
	sent chan models.ServerMessage
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan models.ServerMessage, 64)}
}

func (r *recordingSender) Send(msg models.ServerMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.sent <- msg
	return nil
}

func TestRemoteHandleCommands(t *testing.T) {
	out := newRecordingSender()
	var seq atomic.Uint64
	h := NewRemoteHandle(3, out, &seq, testLog)

	h.SetSource("/blobs/s/1")
	h.SetPreload(capability.PreloadMetadata)
	h.Seek(1500 * time.Millisecond)
	h.SetVisible(true)

	require.Len(t, out.msgs, 4)
	for i, msg := range out.msgs {
		assert.Equal(t, models.MessageCommand, msg.Type)
		assert.Equal(t, 3, msg.Command.Index)
		assert.Equal(t, uint64(i+1), msg.Command.Seq)
	}
	assert.Equal(t, models.OpSource, out.msgs[0].Command.Op)
	assert.Equal(t, "/blobs/s/1", out.msgs[0].Command.Source)
	assert.Equal(t, "metadata", out.msgs[1].Command.Preload)
	assert.Equal(t, 1.5, out.msgs[2].Command.Time)
	assert.True(t, out.msgs[3].Command.Flag)
	assert.Equal(t, "/blobs/s/1", h.Source())
}

func TestRemoteHandlePlayWaitsForResult(t *testing.T) {
	out := newRecordingSender()
	var seq atomic.Uint64
	h := NewRemoteHandle(0, out, &seq, testLog)

	result := make(chan error, 1)
	go func() { result <- h.Play(context.Background()) }()

	cmd := (<-out.sent).Command
	require.Equal(t, models.OpPlay, cmd.Op)

	h.Deliver(models.ClientMessage{Type: models.EventPlayResult, Seq: cmd.Seq, OK: true})
	assert.NoError(t, <-result)

	go func() { result <- h.Play(context.Background()) }()
	cmd = (<-out.sent).Command
	h.Deliver(models.ClientMessage{Type: models.EventPlayResult, Seq: cmd.Seq, Error: "NotAllowedError"})
	assert.ErrorIs(t, <-result, media.ErrPlaybackRejected)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Play(ctx), context.DeadlineExceeded)

	// a late result for an abandoned play is dropped
	h.Deliver(models.ClientMessage{Type: models.EventPlayResult, Seq: 999, OK: true})
}

func TestRemoteHandleReadyStateEvents(t *testing.T) {
	out := newRecordingSender()
	var seq atomic.Uint64
	h := NewRemoteHandle(0, out, &seq, testLog)

	h.Deliver(models.ClientMessage{Type: models.EventReadyState, ReadyState: int(media.HaveEnoughData)})
	h.Load()
	assert.Equal(t, media.HaveNothing, h.ReadyState())

	go h.Deliver(models.ClientMessage{Type: models.EventReadyState, ReadyState: int(media.HaveMetadata)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.WaitReadyState(ctx, media.HaveMetadata))

	go h.Deliver(models.ClientMessage{Type: models.EventFrame})
	require.NoError(t, h.WaitFrame(ctx))
}

type staticProvider []models.Asset

func (p staticProvider) List(ctx context.Context) ([]models.Asset, error) {
	return p, nil
}

type okFetcher struct{}

func (okFetcher) Fetch(ctx context.Context, url string) (*blobcache.Blob, error) {
	return &blobcache.Blob{Data: []byte(url), ContentType: "video/mp4"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{PublicURL: "http://localhost:8080"},
		Showcase: config.ShowcaseConfig{
			PrimeTimeout:             200 * time.Millisecond,
			BatchSize:                4,
			AssetWarmTimeout:         200 * time.Millisecond,
			SafariPrimeTimeout:       20 * time.Millisecond,
			PollInterval:             5 * time.Millisecond,
			MinDisplaySafari:         20 * time.Millisecond,
			MinDisplayDefault:        20 * time.Millisecond,
			MaxWaitSafari:            2 * time.Second,
			MaxWaitDefault:           2 * time.Second,
			CoverageThreshold:        0.8,
			FontTimeout:              2 * time.Second,
			ServiceTimeout:           2 * time.Second,
			ReadySwapDelay:           time.Millisecond,
			FallbackSwapDelaySafari:  5 * time.Millisecond,
			FallbackSwapDelayDefault: 5 * time.Millisecond,
			PlayRetryDelay:           5 * time.Millisecond,
			PlayTimeout:              200 * time.Millisecond,
		},
	}
}

func newTestManager(t *testing.T, assets []models.Asset) *Manager {
	log := logger.New("error", "json")
	classifier, err := capability.NewClassifier(capability.DefaultRules)
	require.NoError(t, err)

	catalog := provider.NewCatalog(staticProvider(assets), log)
	_, err = catalog.Refresh(context.Background())
	require.NoError(t, err)

	return NewManager(context.Background(), testConfig(), classifier, okFetcher{}, catalog, NewHub(log), log)
}

// fakeBrowser answers media commands the way a page would, recording every message
type fakeBrowser struct {
	s *Session

	mu   sync.Mutex
	msgs []models.ServerMessage
	done chan struct{}
}

func runBrowser(s *Session) *fakeBrowser {
	b := &fakeBrowser{s: s, done: make(chan struct{})}
	go b.loop()
	return b
}

func (b *fakeBrowser) loop() {
	defer close(b.done)
	for data := range b.s.send {
		var msg models.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		b.mu.Lock()
		b.msgs = append(b.msgs, msg)
		b.mu.Unlock()

		if msg.Command == nil {
			continue
		}
		cmd := msg.Command
		switch cmd.Op {
		case models.OpLoad:
			b.reply(models.ClientMessage{Type: models.EventReadyState, Index: cmd.Index, ReadyState: int(media.HaveEnoughData)})
		case models.OpPlay:
			b.reply(models.ClientMessage{Type: models.EventPlayResult, Index: cmd.Index, Seq: cmd.Seq, OK: true})
			b.reply(models.ClientMessage{Type: models.EventFrame, Index: cmd.Index})
		}
	}
}

func (b *fakeBrowser) reply(msg models.ClientMessage) {
	data, _ := json.Marshal(msg)
	go b.s.handleMessage(data)
}

func (b *fakeBrowser) messages() []models.ServerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ServerMessage(nil), b.msgs...)
}

func (b *fakeBrowser) lastState() *models.ShowcaseState {
	msgs := b.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == models.MessageState {
			return msgs[i].State
		}
	}
	return nil
}

func sampleAssets() []models.Asset {
	return []models.Asset{
		{ID: "a", Source: "https://cdn/a.mp4"},
		{ID: "b", Source: "https://cdn/b.mp4", AltSource: "https://cdn/b.hevc.mp4"},
		{ID: "c", Source: "https://cdn/c.mp4"},
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager(t, sampleAssets())
	s := m.build("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	b := runBrowser(s)
	m.start(s)

	_, ok := m.Hub().Get(s.ID())
	require.True(t, ok)

	send := func(msg models.ClientMessage) {
		data, _ := json.Marshal(msg)
		s.handleMessage(data)
	}
	send(models.ClientMessage{Type: models.EventFontsLoaded})
	send(models.ClientMessage{Type: models.EventServiceSettled})

	select {
	case <-s.Orchestrator().Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("loading gate did not open")
	}
	assert.Equal(t, "signals", string(s.Orchestrator().State().LoadedBy))

	require.Eventually(t, func() bool {
		st := b.lastState()
		return st != nil && st.IsLoaded && st.WarmupProgress == 1
	}, 2*time.Second, 5*time.Millisecond)

	hello := b.messages()[0]
	assert.Equal(t, models.MessageHello, hello.Type)
	assert.Equal(t, s.ID(), hello.Session)
	assert.Equal(t, "chrome", hello.Engine)
	assert.Len(t, hello.Assets, 3)

	require.Eventually(t, func() bool {
		_, _, err := s.Open(context.Background(), "missing")
		return errors.Is(err, blobcache.ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	// navigation is accepted once the active asset started playing
	require.Eventually(t, func() bool {
		send(models.ClientMessage{Type: models.ControlNext})
		_ = s.Orchestrator().WaitIdle(context.Background())
		return s.Orchestrator().State().ActiveIndex != 0
	}, 2*time.Second, 20*time.Millisecond)

	s.Close()
	s.Close()
	<-b.done

	_, ok = m.Hub().Get(s.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, s.Send(models.ServerMessage{Type: models.MessageState}), ErrSessionClosed)
	_, _, err := s.Open(context.Background(), "any")
	assert.ErrorIs(t, err, blobcache.ErrReleased)
}

func TestHubBroadcastHotSwapsSessions(t *testing.T) {
	m := newTestManager(t, sampleAssets())
	s := m.build("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1")
	b := runBrowser(s)
	m.start(s)
	defer func() {
		s.Close()
		<-b.done
	}()

	assert.Equal(t, capability.SafariLike, s.Orchestrator().Engine())
	assert.Equal(t, 1, m.Hub().Count())

	updated := append(sampleAssets(), models.Asset{ID: "d", Source: "https://cdn/d.mp4"})
	patch, err := provider.Diff(sampleAssets(), updated)
	require.NoError(t, err)

	m.Hub().Broadcast(provider.Change{Assets: updated, Hash: models.ContentHash(updated), Patch: patch})

	require.Eventually(t, func() bool {
		for _, msg := range b.messages() {
			if msg.Type == models.MessageAssets && len(msg.Assets) == 4 && len(msg.Patch) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Orchestrator().Assets(), 4)
}

func TestUnknownAndMalformedMessagesAreIgnored(t *testing.T) {
	m := newTestManager(t, sampleAssets())
	s := m.build("curl/8.0")
	b := runBrowser(s)
	m.start(s)
	defer func() {
		s.Close()
		<-b.done
	}()

	s.handleMessage([]byte("{broken"))
	s.handleMessage([]byte(`{"type":"dance"}`))
	s.handleMessage([]byte(`{"type":"ready_state","index":42,"ready_state":4}`))

	assert.Equal(t, capability.Other, s.Orchestrator().Engine())
}

func TestSendOverflowClosesSession(t *testing.T) {
	s := newSession(context.Background(), "slow", NewHub(testLog), testLog)
	var seq atomic.Uint64
	h := NewRemoteHandle(0, s, &seq, testLog)

	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, s.Send(models.ServerMessage{Type: models.MessageState}))
	}

	// the hide command cannot be queued; the session must not carry on without it
	h.SetVisible(false)

	require.Eventually(t, func() bool {
		return s.ctx.Err() != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Send(models.ServerMessage{Type: models.MessageState}), ErrSessionClosed)
}

func TestSendOverflowReportsBufferFull(t *testing.T) {
	s := newSession(context.Background(), "slow", NewHub(testLog), testLog)
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, s.Send(models.ServerMessage{Type: models.MessageState}))
	}

	assert.ErrorIs(t, s.Send(models.ServerMessage{Type: models.MessageState}), ErrSendBufferFull)
	require.Eventually(t, func() bool {
		return s.ctx.Err() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestSessionClosedBeforeStartStaysOffHub(t *testing.T) {
	m := newTestManager(t, sampleAssets())
	s := m.build("curl/8.0")

	// the read pump exiting straight away closes the session before start runs
	s.Close()

	assert.False(t, m.start(s))
	assert.Equal(t, 0, m.Hub().Count())
	_, ok := m.Hub().Get(s.ID())
	assert.False(t, ok)
}

func TestHubRegisterCountsOnce(t *testing.T) {
	hub := NewHub(testLog)
	s := newSession(context.Background(), "one", hub, testLog)

	require.True(t, hub.Register(s))
	assert.Equal(t, 1, hub.Count())

	s.Close()
	s.Close()
	assert.Equal(t, 0, hub.Count())
	assert.False(t, hub.Register(s))
}

func TestBroadcastDropsPatchForAnotherBase(t *testing.T) {
	m := newTestManager(t, sampleAssets())
	s := m.build("curl/8.0")
	b := runBrowser(s)
	m.start(s)
	defer func() {
		s.Close()
		<-b.done
	}()
	assert.Equal(t, "memory", s.CacheStats()["type"])

	updated := append(sampleAssets(), models.Asset{ID: "d", Source: "https://cdn/d.mp4"})
	updated[0].Camera = "X100V"
	// a base that already carries the new camera yields a patch that never sets it
	other := []models.Asset{updated[0]}
	patch, err := provider.Diff(other, updated)
	require.NoError(t, err)

	m.Hub().Broadcast(provider.Change{Assets: updated, Hash: models.ContentHash(updated), Patch: patch})

	require.Eventually(t, func() bool {
		for _, msg := range b.messages() {
			if msg.Type == models.MessageAssets && len(msg.Assets) == 4 {
				return len(msg.Patch) == 0
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

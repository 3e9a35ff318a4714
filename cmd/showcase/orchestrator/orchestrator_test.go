package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/media/mediatest"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/readiness"
	"github.com/portfolio/showcase/cmd/showcase/transition"
	"github.com/portfolio/showcase/cmd/showcase/warmup"
	"github.com/portfolio/showcase/common/cache"
	"github.com/portfolio/showcase/common/config"
	"github.com/portfolio/showcase/common/logger"
)

type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) (*blobcache.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	return &blobcache.Blob{Data: []byte(url), ContentType: "video/mp4"}, nil
}

func (f *countingFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// releaseCounter wraps the blob cache to count ReleaseAll calls
type releaseCounter struct {
	*blobcache.Cache
	releases atomic.Int32
}

func (r *releaseCounter) ReleaseAll() error {
	r.releases.Add(1)
	return r.Cache.ReleaseAll()
}

type handleRegistry struct {
	mu      sync.Mutex
	handles map[string]*mediatest.FakeHandle
}

func (r *handleRegistry) factory(index int, a models.Asset) media.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles == nil {
		r.handles = make(map[string]*mediatest.FakeHandle)
	}
	h := mediatest.NewFakeHandle(index)
	r.handles[a.ID] = h
	return h
}

func (r *handleRegistry) get(id string) *mediatest.FakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

func testPolicy() Policy {
	return Policy{
		Warmup: warmup.Config{
			PrimeTimeout:       100 * time.Millisecond,
			AssetTimeout:       100 * time.Millisecond,
			SafariPrimeTimeout: 20 * time.Millisecond,
			BatchSize:          4,
		},
		Readiness: readiness.Config{
			MinDisplay:        20 * time.Millisecond,
			MaxWait:           time.Second,
			PollInterval:      5 * time.Millisecond,
			FontTimeout:       50 * time.Millisecond,
			ServiceTimeout:    50 * time.Millisecond,
			CoverageThreshold: 0.8,
		},
		Transition: transition.Config{
			ReadySwapDelay:    time.Millisecond,
			FallbackSwapDelay: 5 * time.Millisecond,
			PlayRetryDelay:    5 * time.Millisecond,
			PlayTimeout:       100 * time.Millisecond,
			PrepareTimeout:    100 * time.Millisecond,
			ReadyThreshold:    media.HaveFutureData,
		},
	}
}

func makeAssets(ids ...string) []models.Asset {
	assets := make([]models.Asset, len(ids))
	for i, id := range ids {
		assets[i] = models.Asset{ID: id, Source: "https://cdn/" + id + ".mp4"}
	}
	return assets
}

type fixture struct {
	o        *Orchestrator
	cache    *releaseCounter
	fetcher  *countingFetcher
	registry *handleRegistry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	f := &fixture{fetcher: &countingFetcher{}, registry: &handleRegistry{}}
	store := cache.NewMemoryCache(logger.New("error", "json"))
	f.cache = &releaseCounter{Cache: blobcache.New(context.Background(), f.fetcher, store, "/blobs/t/", &testLogger{t: t})}
	f.o = New(context.Background(), testPolicy(), capability.Fixed(capability.ChromeLike), f.cache, f.registry.factory, &testLogger{t: t}, opts...)
	t.Cleanup(func() { f.o.Close() })
	return f
}

func (f *fixture) waitStarted(t *testing.T, id string) {
	t.Helper()
	select {
	case <-f.o.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not open")
	}
	require.Eventually(t, func() bool {
		g := f.o.gen.Load()
		h := f.registry.get(id)
		return g != nil && g.isStarted() && h != nil && h.Playing()
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.o.WaitIdle(context.Background()))
}

func TestLoadingGateOpensAndActivePlays(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	require.True(t, f.o.SetAssets(makeAssets("a", "b", "c", "d")))

	f.waitStarted(t, "a")

	require.Eventually(t, func() bool {
		return f.o.State().WarmupProgress == 1
	}, 2*time.Second, 5*time.Millisecond)

	st := f.o.State()
	assert.True(t, st.IsLoaded)
	assert.Equal(t, 0, st.ActiveIndex)
	assert.Equal(t, 4, st.AssetCount)
	assert.Equal(t, "chrome", st.Engine)
	assert.Equal(t, string(readiness.ReasonSignals), st.LoadedBy)

	assert.True(t, f.registry.get("a").Visible())
	assert.False(t, f.registry.get("b").Visible())
}

func TestNavigationIgnoredUntilPlaybackStarts(t *testing.T) {
	f := newFixture(t)
	f.o.SetAssets(makeAssets("a", "b", "c"))

	f.o.Next()
	f.o.Previous()
	require.NoError(t, f.o.WaitIdle(context.Background()))
	assert.Equal(t, 0, f.o.State().ActiveIndex)
	assert.False(t, f.o.State().IsLoaded)
}

func TestNextFourTimesVisitsEveryAsset(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c", "d"))
	f.waitStarted(t, "a")

	var visited []int
	for i := 0; i < 4; i++ {
		f.o.Next()
		require.NoError(t, f.o.WaitIdle(context.Background()))
		visited = append(visited, f.o.State().ActiveIndex)
	}
	assert.Equal(t, []int{1, 2, 3, 0}, visited)

	f.o.Ended(0)
	require.NoError(t, f.o.WaitIdle(context.Background()))
	assert.Equal(t, 1, f.o.State().ActiveIndex)
}

func TestSetAssetsIgnoresIdenticalContent(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.o.SetAssets(makeAssets("a", "b")))
	assert.False(t, f.o.SetAssets(makeAssets("a", "b")))

	changed := makeAssets("a", "b")
	changed[1].Camera = "X100V"
	assert.True(t, f.o.SetAssets(changed))
}

func TestHotSwapKeepsActiveAssetAndCachedBytes(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c", "d"))
	f.waitStarted(t, "a")

	for _, id := range []string{"a", "b", "c", "d"} {
		src := "https://cdn/" + id + ".mp4"
		require.Eventually(t, func() bool {
			_, ok := f.cache.Lookup(src)
			return ok
		}, 2*time.Second, 5*time.Millisecond)
	}

	f.o.Next()
	f.o.Next()
	require.NoError(t, f.o.WaitIdle(context.Background()))
	require.Equal(t, 2, f.o.State().ActiveIndex)

	require.True(t, f.o.SetAssets(makeAssets("c", "a", "e")))

	st := f.o.State()
	assert.Equal(t, 0, st.ActiveIndex)
	assert.Equal(t, 3, st.AssetCount)
	assert.True(t, st.IsLoaded)

	_, ok := f.cache.Lookup("https://cdn/b.mp4")
	assert.False(t, ok)
	_, ok = f.cache.Lookup("https://cdn/d.mp4")
	assert.False(t, ok)

	f.waitStarted(t, "c")
	require.Eventually(t, func() bool {
		_, ok := f.cache.Lookup("https://cdn/e.mp4")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.fetcher.count("https://cdn/a.mp4"))
	assert.Equal(t, 1, f.fetcher.count("https://cdn/c.mp4"))
}

func TestEmptyAssetListStaysIdle(t *testing.T) {
	f := newFixture(t)
	f.o.Start()

	assert.False(t, f.o.SetAssets(nil))
	assert.True(t, f.o.SetAssets(makeAssets("a")))
	assert.True(t, f.o.SetAssets(nil))

	f.o.Next()
	assert.Equal(t, -1, f.o.Prepare(context.Background(), transition.Forward))
	assert.Nil(t, f.o.Assets())

	st := f.o.State()
	assert.Equal(t, 0, st.AssetCount)
	assert.Equal(t, 0, st.ActiveIndex)
}

func TestPrepareLeavesRingAlone(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c"))
	f.waitStarted(t, "a")

	assert.Equal(t, 2, f.o.Prepare(context.Background(), transition.Backward))
	assert.Equal(t, 0, f.o.State().ActiveIndex)
	assert.False(t, f.o.State().IsTransitioning)
}

func TestStateListenerSeesLoadedState(t *testing.T) {
	var loaded atomic.Bool
	f := newFixture(t, WithStateListener(func(st models.ShowcaseState) {
		if st.IsLoaded {
			loaded.Store(true)
		}
	}))
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b"))
	f.waitStarted(t, "a")

	assert.True(t, loaded.Load())
}

func TestCloseReleasesCacheOnce(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b"))

	require.NoError(t, f.o.Close())
	require.NoError(t, f.o.Close())

	assert.Equal(t, int32(1), f.cache.releases.Load())
	_, err := f.cache.Load(context.Background(), "https://cdn/a.mp4")
	assert.ErrorIs(t, err, blobcache.ErrReleased)

	assert.False(t, f.o.SetAssets(makeAssets("z")))
	f.o.Next()
	assert.Equal(t, 0, f.o.State().AssetCount)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrEmptyAssetList)
	assert.NoError(t, Validate(makeAssets("a", "b")))

	dup := makeAssets("a", "a")
	assert.Error(t, Validate(dup))

	missing := makeAssets("a")
	missing[0].Source = ""
	assert.Error(t, Validate(missing))
}

func TestPolicyForEngine(t *testing.T) {
	cfg := config.ShowcaseConfig{
		MinDisplaySafari:         4 * time.Second,
		MinDisplayDefault:        3 * time.Second,
		MaxWaitSafari:            8 * time.Second,
		MaxWaitDefault:           6 * time.Second,
		FallbackSwapDelaySafari:  30 * time.Millisecond,
		FallbackSwapDelayDefault: 10 * time.Millisecond,
		BatchSize:                4,
	}

	for _, tc := range []struct {
		engine   capability.EngineClass
		min, max time.Duration
		fallback time.Duration
	}{
		{capability.SafariLike, 4 * time.Second, 8 * time.Second, 30 * time.Millisecond},
		{capability.ChromeLike, 3 * time.Second, 6 * time.Second, 10 * time.Millisecond},
		{capability.Other, 3 * time.Second, 6 * time.Second, 10 * time.Millisecond},
	} {
		t.Run(fmt.Sprint(tc.engine), func(t *testing.T) {
			p := PolicyFor(cfg, tc.engine)
			assert.Equal(t, tc.min, p.Readiness.MinDisplay)
			assert.Equal(t, tc.max, p.Readiness.MaxWait)
			assert.Equal(t, tc.fallback, p.Transition.FallbackSwapDelay)
			assert.Equal(t, 4, p.Warmup.BatchSize)
		})
	}
}

func TestMetadataEditKeepsActivePlayingAndNavigable(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c"))
	f.waitStarted(t, "a")

	edited := makeAssets("a", "b", "c")
	edited[1].Camera = "X100V"
	require.True(t, f.o.SetAssets(edited))

	// no second primer: the new list is navigable straight away
	assert.True(t, f.o.gen.Load().isStarted())

	h := f.registry.get("a")
	require.Eventually(t, h.Playing, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.o.WaitIdle(context.Background()))
	assert.NotContains(t, h.Calls(), "pause")

	f.o.Next()
	require.NoError(t, f.o.WaitIdle(context.Background()))
	assert.Equal(t, 1, f.o.State().ActiveIndex)
}

func TestChangedActiveSourceIsPrimedAgain(t *testing.T) {
	f := newFixture(t)
	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c"))
	f.waitStarted(t, "a")

	moved := makeAssets("a", "b", "c")
	moved[0].Source = "https://cdn/a-v2.mp4"
	require.True(t, f.o.SetAssets(moved))

	h := f.registry.get("a")
	require.Eventually(t, func() bool {
		for _, c := range h.Calls() {
			if c == "pause" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	f.waitStarted(t, "a")
}

func TestCacheCoverageFollowsCurrentList(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 0.0, f.o.CacheCoverage())

	f.o.Start()
	f.o.SetAssets(makeAssets("a", "b", "c", "d"))
	f.waitStarted(t, "a")

	require.Eventually(t, func() bool {
		return f.o.CacheCoverage() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

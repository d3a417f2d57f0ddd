// File: internal/pool/manager_test.go
package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
	"github.com/krellwave/pageproof/internal/driver/drivertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a mutable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPoolConfig(t *testing.T) config.PoolConfig {
	return config.PoolConfig{
		MaxBrowsers:        2,
		BrowserIdleTimeout: 5 * time.Minute,
		ContextIdleTimeout: 5 * time.Minute,
		SessionTTL:         24 * time.Hour,
		SweepInterval:      time.Minute,
		SessionDir:         t.TempDir(),
	}
}

func newTestManager(t *testing.T) (*Manager, *drivertest.FakeFactory, *fakeClock) {
	factory := &drivertest.FakeFactory{}
	clock := newFakeClock()
	m := NewManager(testPoolConfig(t), factory, zap.NewNop(), WithClock(clock.Now))
	t.Cleanup(func() {
		require.NoError(t, m.Close(context.Background()))
	})
	return m, factory, clock
}

func TestAcquireBrowserReusesLiveEntry(t *testing.T) {
	m, factory, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)
	second, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, factory.Created())
}

func TestAcquireBrowserEvictsDeadEntry(t *testing.T) {
	m, factory, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)

	factory.Browsers[0].ProbeErr = assert.AnError

	second, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, factory.Created())
	assert.True(t, factory.Browsers[0].Closed, "dead browser must be closed on eviction")
}

func TestAcquireBrowserReassignsAtCapacity(t *testing.T) {
	m, factory, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.AcquireBrowser(ctx, "a.test|anonymous")
	require.NoError(t, err)
	_, err = m.AcquireBrowser(ctx, "b.test|anonymous")
	require.NoError(t, err)

	// Third key with a pool cap of two: nothing blocks and no third
	// process launches; the oldest entry is rekeyed.
	c, err := m.AcquireBrowser(ctx, "c.test|anonymous")
	require.NoError(t, err)

	assert.Equal(t, 2, factory.Created())
	assert.Equal(t, a.ID(), c.ID())
	for _, b := range factory.Browsers {
		assert.False(t, b.Closed, "reassignment must keep processes alive")
	}

	// The old key no longer owns a browser; acquiring it reassigns again.
	again, err := m.AcquireBrowser(ctx, "a.test|anonymous")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Created())
	assert.NotEmpty(t, again.ID())
}

// gatedFactory blocks its first launch until the gate opens so tests can
// hold a browser launch in flight.
type gatedFactory struct {
	inner   *drivertest.FakeFactory
	gate    chan struct{}
	started chan struct{}
	first   sync.Once
}

var _ driver.Factory = (*gatedFactory)(nil)

func (f *gatedFactory) NewBrowser(ctx context.Context) (driver.Browser, error) {
	gated := false
	f.first.Do(func() { gated = true })
	if gated {
		close(f.started)
		<-f.gate
	}
	return f.inner.NewBrowser(ctx)
}

func TestAcquireBrowserLaunchDoesNotBlockOtherKeys(t *testing.T) {
	factory := &gatedFactory{
		inner:   &drivertest.FakeFactory{},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	m := NewManager(testPoolConfig(t), factory, zap.NewNop())
	t.Cleanup(func() {
		require.NoError(t, m.Close(context.Background()))
	})
	ctx := context.Background()

	slowDone := make(chan *BrowserHandle, 1)
	go func() {
		h, err := m.AcquireBrowser(ctx, "slow.test|anonymous")
		assert.NoError(t, err)
		slowDone <- h
	}()
	<-factory.started

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		_, err := m.AcquireBrowser(ctx, "fast.test|anonymous")
		assert.NoError(t, err)
	}()
	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition for an unrelated key stalled behind an in-flight launch")
	}

	// A same-key acquirer must wait for the launch in flight and reuse
	// its browser rather than start a second process.
	sameDone := make(chan *BrowserHandle, 1)
	go func() {
		h, err := m.AcquireBrowser(ctx, "slow.test|anonymous")
		assert.NoError(t, err)
		sameDone <- h
	}()

	close(factory.gate)
	first := <-slowDone
	second := <-sameDone
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 2, factory.inner.Created())
}

func TestAcquireContextKeyedBySessionAndViewport(t *testing.T) {
	m, factory, _ := newTestManager(t)
	ctx := context.Background()

	browser, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)

	vp := driver.Viewport{Width: 1280, Height: 800}
	first, err := m.AcquireContext(ctx, browser, vp, "example.test|alice")
	require.NoError(t, err)
	second, err := m.AcquireContext(ctx, browser, vp, "example.test|alice")
	require.NoError(t, err)
	assert.Equal(t, first.Key(), second.Key())
	assert.Len(t, factory.Browsers[0].Contexts, 1, "same key must reuse the context")

	_, err = m.AcquireContext(ctx, browser, vp, "example.test|bob")
	require.NoError(t, err)
	assert.Len(t, factory.Browsers[0].Contexts, 2, "distinct principals must not share a context")

	_, err = m.AcquireContext(ctx, browser, driver.Viewport{Width: 375, Height: 812}, "example.test|alice")
	require.NoError(t, err)
	assert.Len(t, factory.Browsers[0].Contexts, 3, "distinct viewports must not share a context")
}

func TestContextDoesNotSurviveBrowserEviction(t *testing.T) {
	m, factory, _ := newTestManager(t)
	ctx := context.Background()

	browser, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)
	vp := driver.Viewport{Width: 1280, Height: 800}
	_, err = m.AcquireContext(ctx, browser, vp, "example.test|alice")
	require.NoError(t, err)

	factory.Browsers[0].ProbeErr = assert.AnError
	replacement, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)

	_, err = m.AcquireContext(ctx, replacement, vp, "example.test|alice")
	require.NoError(t, err)
	assert.Len(t, factory.Browsers[1].Contexts, 1, "context must be recreated in the replacement browser")
}

func TestSessionCacheRoundTripAndExpiry(t *testing.T) {
	m, _, clock := newTestManager(t)

	m.CacheSession(&CachedSession{
		Domain:     "example.test",
		Principal:  "alice",
		Cookies:    []driver.Cookie{{Name: "sid", Value: "abc", Domain: "example.test"}},
		Storage:    map[string]string{"token": "xyz"},
		CapturedAt: clock.Now(),
	})

	got := m.GetCachedSession("example.test", "alice")
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Cookies[0].Value)
	assert.Equal(t, "xyz", got.Storage["token"])

	assert.Nil(t, m.GetCachedSession("example.test", "bob"))
	assert.Nil(t, m.GetCachedSession("other.test", "alice"))

	clock.Advance(25 * time.Hour)
	assert.Nil(t, m.GetCachedSession("example.test", "alice"), "expired session must be a miss")
}

func TestSessionCacheSurvivesRestart(t *testing.T) {
	cfg := testPoolConfig(t)
	clock := newFakeClock()
	factory := &drivertest.FakeFactory{}

	first := NewManager(cfg, factory, zap.NewNop(), WithClock(clock.Now))
	first.CacheSession(&CachedSession{
		Domain:     "example.test",
		Principal:  "alice",
		Cookies:    []driver.Cookie{{Name: "sid", Value: "abc"}},
		CapturedAt: clock.Now(),
	})
	require.NoError(t, first.Close(context.Background()))

	second := NewManager(cfg, factory, zap.NewNop(), WithClock(clock.Now))
	defer second.Close(context.Background())

	got := second.GetCachedSession("example.test", "alice")
	require.NotNil(t, got, "session must be reloaded from disk")
	assert.Equal(t, "abc", got.Cookies[0].Value)
}

func TestInvalidateSession(t *testing.T) {
	m, _, clock := newTestManager(t)

	m.CacheSession(&CachedSession{
		Domain: "example.test", Principal: "alice", CapturedAt: clock.Now(),
	})
	require.NotNil(t, m.GetCachedSession("example.test", "alice"))

	m.InvalidateSession("example.test", "alice")
	assert.Nil(t, m.GetCachedSession("example.test", "alice"))
}

func TestSweepEvictsIdleResources(t *testing.T) {
	m, factory, clock := newTestManager(t)
	ctx := context.Background()

	browser, err := m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)
	_, err = m.AcquireContext(ctx, browser, driver.Viewport{Width: 1280, Height: 800}, "example.test|alice")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	m.Sweep(ctx)

	assert.True(t, factory.Browsers[0].Closed, "idle browser must be swept")
	assert.True(t, factory.Browsers[0].Contexts[0].Closed, "idle context must be swept")

	// The next acquire transparently launches a fresh browser.
	_, err = m.AcquireBrowser(ctx, "example.test|alice")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Created())
}

func TestStartSweeperStopsOnClose(t *testing.T) {
	factory := &drivertest.FakeFactory{}
	cfg := testPoolConfig(t)
	cfg.SweepInterval = time.Millisecond
	m := NewManager(cfg, factory, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartSweeper(ctx)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Close(context.Background()))
}

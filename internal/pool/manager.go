// File: internal/pool/manager.go

// Package pool owns the lifetime of browser processes, browsing contexts,
// and cached authentication sessions. Requests borrow resources through
// handles; nothing a request does closes a pooled resource — only the
// background sweep or shutdown does.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
)

// Clock abstracts time so expiry behavior is deterministic in tests.
type Clock func() time.Time

// Manager is the pooled-resource owner. All methods are safe for
// concurrent use.
type Manager struct {
	cfg     config.PoolConfig
	logger  *zap.Logger
	factory driver.Factory
	clock   Clock

	mu        sync.Mutex
	browsers  map[string]*pooledBrowser // identity key -> entry
	order     []string                  // insertion order, drives round-robin reassignment
	nextEvict int
	contexts  map[string]*pooledContext // sessionKey|WxH -> entry
	launching map[string]chan struct{}  // keys with a browser launch in flight

	sessions *sessionStore

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

type pooledBrowser struct {
	id        string
	key       string
	browser   driver.Browser
	createdAt time.Time
	lastUsed  time.Time
}

type pooledContext struct {
	key       string
	browserID string
	bctx      driver.BrowsingContext
	viewport  driver.Viewport
	lastUsed  time.Time
}

// Option customizes a Manager; used by tests to inject a clock.
type Option func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a pool manager. The factory is invoked lazily; no
// browser is launched until the first acquire.
func NewManager(cfg config.PoolConfig, factory driver.Factory, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("pool"),
		factory:   factory,
		clock:     time.Now,
		browsers:  make(map[string]*pooledBrowser),
		contexts:  make(map[string]*pooledContext),
		launching: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sessions = newSessionStore(cfg.SessionDir, cfg.SessionTTL, m.clock, m.logger)
	return m
}

// BrowserHandle is a borrowed reference to a pooled browser.
type BrowserHandle struct {
	id      string
	browser driver.Browser
}

// ID returns the pooled browser's identity.
func (h *BrowserHandle) ID() string { return h.id }

// AcquireBrowser returns a live browser for the given identity key. An
// existing entry under the same key is probed and reused; a dead entry is
// evicted and recreated. At capacity the least-recently-inserted entry is
// reassigned to the new key instead of blocking — per-session isolation
// comes from contexts, not processes, so sharing a process is safe and
// exhaustion can never occur.
//
// Launches and evictions run outside m.mu: a slow Chrome start must not
// stall acquisitions for unrelated keys. A per-key in-flight marker keeps
// concurrent acquisitions of the same key from racing a second process up.
func (m *Manager) AcquireBrowser(ctx context.Context, key string) (*BrowserHandle, error) {
	for {
		m.mu.Lock()

		if ch, ok := m.launching[key]; ok {
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if entry, ok := m.browsers[key]; ok {
			id, browser := entry.id, entry.browser
			m.mu.Unlock()
			if err := browser.Probe(ctx); err == nil {
				m.mu.Lock()
				if cur, ok := m.browsers[key]; ok && cur.id == id {
					cur.lastUsed = m.clock()
				}
				m.mu.Unlock()
				return &BrowserHandle{id: id, browser: browser}, nil
			}
			m.logger.Warn("Pooled browser failed liveness probe; evicting.",
				zap.String("key", key), zap.String("browser_id", id))
			m.evictBrowser(ctx, key, id)
			continue
		}

		if len(m.browsers)+len(m.launching) < m.cfg.MaxBrowsers {
			ch := make(chan struct{})
			m.launching[key] = ch
			m.mu.Unlock()
			return m.launchBrowser(ctx, key, ch)
		}

		// At capacity: reassign an existing entry round-robin.
		victimKey := m.order[m.nextEvict%len(m.order)]
		m.nextEvict++
		victim := m.browsers[victimKey]
		m.mu.Unlock()

		if err := victim.browser.Probe(ctx); err != nil {
			m.logger.Warn("Reassignment victim failed liveness probe; recreating.",
				zap.String("key", victimKey), zap.Error(err))
			m.evictBrowser(ctx, victimKey, victim.id)
			continue
		}

		m.mu.Lock()
		if m.browsers[victimKey] != victim {
			// Lost a race against another acquisition or the sweeper.
			m.mu.Unlock()
			continue
		}
		delete(m.browsers, victimKey)
		victim.key = key
		victim.lastUsed = m.clock()
		m.browsers[key] = victim
		for i, k := range m.order {
			if k == victimKey {
				m.order[i] = key
				break
			}
		}
		handle := &BrowserHandle{id: victim.id, browser: victim.browser}
		m.mu.Unlock()
		m.logger.Debug("Reassigned pooled browser.",
			zap.String("from", victimKey), zap.String("to", key), zap.String("browser_id", handle.id))
		return handle, nil
	}
}

// launchBrowser starts a browser for key without holding m.mu. The
// in-flight marker is cleared and its waiters released on every path.
func (m *Manager) launchBrowser(ctx context.Context, key string, ch chan struct{}) (*BrowserHandle, error) {
	defer func() {
		m.mu.Lock()
		delete(m.launching, key)
		m.mu.Unlock()
		close(ch)
	}()

	browser, err := m.factory.NewBrowser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser for key %q: %w", key, err)
	}

	m.mu.Lock()
	now := m.clock()
	entry := &pooledBrowser{
		id:        uuid.New().String(),
		key:       key,
		browser:   browser,
		createdAt: now,
		lastUsed:  now,
	}
	m.browsers[key] = entry
	m.order = append(m.order, key)
	size := len(m.browsers)
	m.mu.Unlock()

	m.logger.Info("Launched pooled browser.",
		zap.String("key", key), zap.String("browser_id", entry.id), zap.Int("pool_size", size))
	return &BrowserHandle{id: entry.id, browser: entry.browser}, nil
}

// evictBrowser removes the (key, id) entry if it is still pooled and
// closes its process outside the lock.
func (m *Manager) evictBrowser(ctx context.Context, key, id string) {
	m.mu.Lock()
	entry, ok := m.browsers[key]
	if !ok || entry.id != id {
		m.mu.Unlock()
		return
	}
	m.removeBrowserLocked(entry)
	m.mu.Unlock()

	if err := entry.browser.Close(ctx); err != nil {
		m.logger.Debug("Error closing evicted browser.", zap.String("browser_id", entry.id), zap.Error(err))
	}
}

// removeBrowserLocked drops a browser entry and every context that lived
// inside it. Caller holds m.mu and closes the process itself.
func (m *Manager) removeBrowserLocked(entry *pooledBrowser) {
	for key, pc := range m.contexts {
		if pc.browserID == entry.id {
			delete(m.contexts, key)
		}
	}
	delete(m.browsers, entry.key)
	for i, k := range m.order {
		if k == entry.key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ContextHandle is a borrowed reference to a pooled browsing context.
type ContextHandle struct {
	key  string
	bctx driver.BrowsingContext
}

// Key returns the context's pool key (sessionKey|WxH).
func (h *ContextHandle) Key() string { return h.key }

// NewPage opens a fresh tab inside the pooled context. Pages are
// request-scoped: the caller must close what it opens.
func (h *ContextHandle) NewPage(ctx context.Context) (driver.Page, error) {
	return h.bctx.NewPage(ctx)
}

// AcquireContext returns the browsing context for (sessionKey, viewport),
// creating it inside the given browser on first use. One context exists per
// key at a time; unrelated keys never contend for the same entry.
func (m *Manager) AcquireContext(ctx context.Context, browser *BrowserHandle, vp driver.Viewport, sessionKey string) (*ContextHandle, error) {
	key := sessionKey + "|" + vp.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.contexts[key]; ok {
		// The context only survives while its owning browser is pooled.
		if m.browserPooledLocked(entry.browserID) {
			entry.lastUsed = m.clock()
			return &ContextHandle{key: key, bctx: entry.bctx}, nil
		}
		delete(m.contexts, key)
	}

	bctx, err := browser.browser.NewContext(ctx, vp)
	if err != nil {
		return nil, fmt.Errorf("failed to create browsing context for key %q: %w", key, err)
	}
	m.contexts[key] = &pooledContext{
		key:       key,
		browserID: browser.id,
		bctx:      bctx,
		viewport:  vp,
		lastUsed:  m.clock(),
	}
	m.logger.Debug("Created pooled browsing context.", zap.String("key", key), zap.String("browser_id", browser.id))
	return &ContextHandle{key: key, bctx: bctx}, nil
}

func (m *Manager) browserPooledLocked(browserID string) bool {
	for _, b := range m.browsers {
		if b.id == browserID {
			return true
		}
	}
	return false
}

// GetCachedSession returns the cached, unexpired session artifacts for
// (domain, principal), or nil when there is no usable entry.
func (m *Manager) GetCachedSession(domain, principal string) *CachedSession {
	return m.sessions.Get(domain, principal)
}

// CacheSession stores session artifacts for (domain, principal), both in
// memory and on disk so they survive process restarts.
func (m *Manager) CacheSession(session *CachedSession) {
	m.sessions.Put(session)
}

// InvalidateSession drops a cached session, e.g. after a failed restore.
func (m *Manager) InvalidateSession(domain, principal string) {
	m.sessions.Invalidate(domain, principal)
}

// Sweep evicts expired sessions and idle browsers/contexts. It runs
// periodically from StartSweeper and may be called directly in tests.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock()
	m.sessions.sweep(now)

	m.mu.Lock()

	for key, pc := range m.contexts {
		if now.Sub(pc.lastUsed) > m.cfg.ContextIdleTimeout {
			delete(m.contexts, key)
			if err := pc.bctx.Close(ctx); err != nil {
				m.logger.Debug("Error closing idle context.", zap.String("key", key), zap.Error(err))
			}
			m.logger.Debug("Swept idle browsing context.", zap.String("key", key))
		}
	}

	var idle []*pooledBrowser
	for _, entry := range m.browserEntriesLocked() {
		if now.Sub(entry.lastUsed) > m.cfg.BrowserIdleTimeout {
			m.logger.Info("Sweeping idle browser.", zap.String("key", entry.key), zap.String("browser_id", entry.id))
			m.removeBrowserLocked(entry)
			idle = append(idle, entry)
		}
	}
	m.mu.Unlock()

	for _, entry := range idle {
		if err := entry.browser.Close(ctx); err != nil {
			m.logger.Debug("Error closing swept browser.", zap.String("browser_id", entry.id), zap.Error(err))
		}
	}
}

func (m *Manager) browserEntriesLocked() []*pooledBrowser {
	entries := make([]*pooledBrowser, 0, len(m.browsers))
	for _, b := range m.browsers {
		entries = append(entries, b)
	}
	return entries
}

// StartSweeper launches the periodic sweep goroutine.
func (m *Manager) StartSweeper(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})

	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				m.Sweep(sweepCtx)
			}
		}
	}()
}

// Close stops the sweeper and tears down every pooled resource.
func (m *Manager) Close(ctx context.Context) error {
	if m.sweepCancel != nil {
		m.sweepCancel()
		select {
		case <-m.sweepDone:
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, pc := range m.contexts {
		delete(m.contexts, key)
		if err := pc.bctx.Close(ctx); err != nil {
			m.logger.Debug("Error closing context during shutdown.", zap.String("key", key), zap.Error(err))
		}
	}
	for _, entry := range m.browserEntriesLocked() {
		delete(m.browsers, entry.key)
		if err := entry.browser.Close(ctx); err != nil {
			m.logger.Debug("Error closing browser during shutdown.", zap.String("browser_id", entry.id), zap.Error(err))
		}
	}
	m.order = nil
	m.logger.Info("Pool manager shut down.")
	return nil
}

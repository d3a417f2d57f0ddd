// File: internal/pool/sessions.go
package pool

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CachedSession holds the artifacts of an authenticated browser session:
// cookies plus localStorage, keyed by target domain and principal.
type CachedSession struct {
	Domain     string            `json:"domain"`
	Principal  string            `json:"principal"`
	Cookies    []driver.Cookie   `json:"cookies"`
	Storage    map[string]string `json:"storage,omitempty"`
	CapturedAt time.Time         `json:"capturedAt"`
}

// sessionStore keeps sessions in memory with a disk mirror so a restart
// does not force re-authentication. Entries older than the TTL are treated
// as misses and removed.
type sessionStore struct {
	dir    string
	ttl    time.Duration
	clock  Clock
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*CachedSession
}

func newSessionStore(dir string, ttl time.Duration, clock Clock, logger *zap.Logger) *sessionStore {
	return &sessionStore{
		dir:      dir,
		ttl:      ttl,
		clock:    clock,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*CachedSession),
	}
}

func sessionKey(domain, principal string) string {
	return domain + "|" + principal
}

// Get returns a live cached session or nil. Expired and corrupt entries
// are evicted on the way out.
func (s *sessionStore) Get(domain, principal string) *CachedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(domain, principal)
	session, ok := s.sessions[key]
	if !ok {
		session = s.loadLocked(domain, principal)
		if session == nil {
			return nil
		}
		s.sessions[key] = session
	}

	if s.clock().Sub(session.CapturedAt) >= s.ttl {
		s.logger.Debug("Cached session expired.",
			zap.String("domain", domain), zap.String("principal", principal))
		s.evictLocked(key)
		return nil
	}
	return session
}

// Put stores the session in memory and mirrors it to disk.
func (s *sessionStore) Put(session *CachedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(session.Domain, session.Principal)
	s.sessions[key] = session

	if s.dir == "" {
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Warn("Failed to create session dir; session kept in memory only.", zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		s.logger.Warn("Failed to serialize session.", zap.Error(err))
		return
	}
	path := s.path(session.Domain, session.Principal)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Warn("Failed to persist session.", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("Cached authenticated session.",
		zap.String("domain", session.Domain), zap.String("principal", session.Principal))
}

// Invalidate removes a session from memory and disk.
func (s *sessionStore) Invalidate(domain, principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(sessionKey(domain, principal))
}

func (s *sessionStore) evictLocked(key string) {
	session, ok := s.sessions[key]
	delete(s.sessions, key)
	if ok && s.dir != "" {
		os.Remove(s.path(session.Domain, session.Principal))
	}
}

// loadLocked reads a session snapshot from disk. A missing or unreadable
// file is simply a cache miss.
func (s *sessionStore) loadLocked(domain, principal string) *CachedSession {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.path(domain, principal))
	if err != nil {
		return nil
	}
	var session CachedSession
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("Corrupt session file; treating as miss.",
			zap.String("domain", domain), zap.Error(err))
		os.Remove(s.path(domain, principal))
		return nil
	}
	return &session
}

// sweep drops every expired in-memory entry.
func (s *sessionStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, session := range s.sessions {
		if now.Sub(session.CapturedAt) >= s.ttl {
			s.evictLocked(key)
		}
	}
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func (s *sessionStore) path(domain, principal string) string {
	name := unsafeFilename.ReplaceAllString(domain+"_"+principal, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "session"
	}
	return filepath.Join(s.dir, name+".json")
}

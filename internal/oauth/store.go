package oauth

import (
	"sync"
	"time"

	"toolgate/pkg/logging"
)

// CredentialStoreConfig bounds the two credential collections. Zero values
// fall back to the defaults below.
type CredentialStoreConfig struct {
	MaxCodes        int
	MaxSessions     int
	CleanupInterval time.Duration
}

const (
	defaultMaxCodes        = 1000
	defaultMaxSessions     = 10000
	defaultCleanupInterval = time.Minute
)

// CredentialStore holds pending authorization codes and active sessions in
// process memory. Both collections are TTL-aware and hard-bounded: when a
// collection is full the oldest entry (by creation order) is evicted to make
// room. The bound is a resource guarantee, not an optimization — unlimited
// credential requests must not exhaust memory.
//
// All mutation is serialized behind a single mutex; callers never lock.
type CredentialStore struct {
	mu sync.Mutex

	codes     map[string]*AuthorizationCode
	codeOrder []string // creation order; stale keys are skipped lazily

	sessions     map[string]*Session
	sessionOrder []string

	maxCodes    int
	maxSessions int

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewCredentialStore creates a bounded store and starts its background
// expiry sweep.
func NewCredentialStore(cfg CredentialStoreConfig) *CredentialStore {
	if cfg.MaxCodes <= 0 {
		cfg.MaxCodes = defaultMaxCodes
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	cs := &CredentialStore{
		codes:           make(map[string]*AuthorizationCode),
		sessions:        make(map[string]*Session),
		maxCodes:        cfg.MaxCodes,
		maxSessions:     cfg.MaxSessions,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go cs.cleanupLoop()

	return cs
}

// Stop stops the background sweep goroutine.
func (cs *CredentialStore) Stop() {
	cs.stopOnce.Do(func() { close(cs.stopCleanup) })
}

// PutCode stores a pending authorization code, evicting the oldest code if
// the collection is full.
func (cs *CredentialStore) PutCode(code *AuthorizationCode) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for len(cs.codes) >= cs.maxCodes {
		cs.evictOldestCodeLocked()
	}

	cs.codes[code.Code] = code
	cs.codeOrder = append(cs.codeOrder, code.Code)
	logging.Debug("CredentialStore", "Stored authorization code %s for client %s (expires %v)",
		logging.TruncateToken(code.Code), code.ClientID, code.ExpiresAt)
}

// RedeemCode atomically looks up and deletes an authorization code. Returns
// nil if the code is unknown or expired; in both cases the code is gone
// afterwards, so a second redemption attempt always fails.
func (cs *CredentialStore) RedeemCode(code string) *AuthorizationCode {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ac, ok := cs.codes[code]
	if !ok {
		return nil
	}
	delete(cs.codes, code)

	if ac.Expired(time.Now()) {
		logging.Debug("CredentialStore", "Rejected expired authorization code %s", logging.TruncateToken(code))
		return nil
	}
	return ac
}

// PutSession stores an issued session, evicting the oldest session if the
// collection is full.
func (cs *CredentialStore) PutSession(s *Session) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for len(cs.sessions) >= cs.maxSessions {
		cs.evictOldestSessionLocked()
	}

	cs.sessions[s.AccessToken] = s
	cs.sessionOrder = append(cs.sessionOrder, s.AccessToken)
	logging.Debug("CredentialStore", "Stored session %s for client %s (expires %v)",
		logging.TruncateToken(s.AccessToken), s.ClientID, s.ExpiresAt)
}

// GetSession returns the session for an access token, or nil if the token is
// unknown or past its expiry.
func (cs *CredentialStore) GetSession(accessToken string) *Session {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	s, ok := cs.sessions[accessToken]
	if !ok || s.Expired(time.Now()) {
		return nil
	}
	return s
}

// GetSessionByRefreshToken returns the session holding the given refresh
// token. A linear scan is fine at the documented scale; sessions whose
// refresh token was superseded by rotation hold an empty RefreshToken and
// never match.
func (cs *CredentialStore) GetSessionByRefreshToken(refreshToken string) *Session {
	if refreshToken == "" {
		return nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, s := range cs.sessions {
		if s.RefreshToken == refreshToken {
			return s
		}
	}
	return nil
}

// RotateSession issues a successor session for the one holding refreshToken.
// The refresh token moves to the successor; the predecessor keeps its access
// token alive until its original expiry (refresh does not force-revoke), but
// can no longer be refreshed. Returns nil if no live session holds the token.
func (cs *CredentialStore) RotateSession(refreshToken, newAccessToken string, expiresAt time.Time) *Session {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var old *Session
	for _, s := range cs.sessions {
		if s.RefreshToken == refreshToken {
			old = s
			break
		}
	}
	if old == nil {
		return nil
	}

	old.RefreshToken = ""

	now := time.Now()
	next := &Session{
		AccessToken:  newAccessToken,
		RefreshToken: refreshToken,
		ClientID:     old.ClientID,
		Scopes:       old.Scopes,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	for len(cs.sessions) >= cs.maxSessions {
		cs.evictOldestSessionLocked()
	}
	cs.sessions[next.AccessToken] = next
	cs.sessionOrder = append(cs.sessionOrder, next.AccessToken)

	logging.Debug("CredentialStore", "Rotated session for client %s (new token %s)",
		next.ClientID, logging.TruncateToken(next.AccessToken))
	return next
}

// DeleteSession removes a session by access token.
func (cs *CredentialStore) DeleteSession(accessToken string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.sessions, accessToken)
}

// Counts returns the number of live codes and sessions, for diagnostics.
func (cs *CredentialStore) Counts() (codes, sessions int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.codes), len(cs.sessions)
}

// evictOldestCodeLocked drops the oldest code still present. Order entries
// whose key was already redeemed or swept are skipped.
func (cs *CredentialStore) evictOldestCodeLocked() {
	for len(cs.codeOrder) > 0 {
		key := cs.codeOrder[0]
		cs.codeOrder = cs.codeOrder[1:]
		if _, ok := cs.codes[key]; ok {
			delete(cs.codes, key)
			logging.Warn("CredentialStore", "Code store full, evicted oldest code %s", logging.TruncateToken(key))
			return
		}
	}
	// Order list exhausted but map non-empty: rebuild is not worth it, drop
	// an arbitrary entry. Should not happen in practice.
	for key := range cs.codes {
		delete(cs.codes, key)
		return
	}
}

func (cs *CredentialStore) evictOldestSessionLocked() {
	for len(cs.sessionOrder) > 0 {
		key := cs.sessionOrder[0]
		cs.sessionOrder = cs.sessionOrder[1:]
		if _, ok := cs.sessions[key]; ok {
			delete(cs.sessions, key)
			logging.Warn("CredentialStore", "Session store full, evicted oldest session %s", logging.TruncateToken(key))
			return
		}
	}
	for key := range cs.sessions {
		delete(cs.sessions, key)
		return
	}
}

// cleanupLoop periodically removes expired entries.
func (cs *CredentialStore) cleanupLoop() {
	ticker := time.NewTicker(cs.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.cleanup()
		case <-cs.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired codes and sessions.
func (cs *CredentialStore) cleanup() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	count := 0

	for key, code := range cs.codes {
		if code.Expired(now) {
			delete(cs.codes, key)
			count++
		}
	}
	for key, s := range cs.sessions {
		if s.Expired(now) {
			delete(cs.sessions, key)
			count++
		}
	}

	cs.compactOrderLocked()

	if count > 0 {
		logging.Debug("CredentialStore", "Cleaned up %d expired credentials", count)
	}
}

// compactOrderLocked drops order entries whose keys are gone so the order
// slices cannot grow without bound across many insert/expire cycles.
func (cs *CredentialStore) compactOrderLocked() {
	if len(cs.codeOrder) > 2*len(cs.codes) {
		keep := cs.codeOrder[:0]
		for _, key := range cs.codeOrder {
			if _, ok := cs.codes[key]; ok {
				keep = append(keep, key)
			}
		}
		cs.codeOrder = keep
	}
	if len(cs.sessionOrder) > 2*len(cs.sessions) {
		keep := cs.sessionOrder[:0]
		for _, key := range cs.sessionOrder {
			if _, ok := cs.sessions[key]; ok {
				keep = append(keep, key)
			}
		}
		cs.sessionOrder = keep
	}
}

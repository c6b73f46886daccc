// Package auth implements the relay's single-API-key Auth Manager:
// raw-key validation, ephemeral session token minting, and Bearer header
// validation, grounded on the session-store idiom of a crypto/rand opaque
// token plus a sync.Map-backed expiry sweep, generalized from one
// long-lived browser session to many concurrent gateway sessions.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the live metadata behind a minted session token.
type Session struct {
	Token       string
	ClientID    string
	ClientType  string
	ConnectedAt time.Time
	ExpiresAt   time.Time

	mu            sync.Mutex
	subscriptions map[string]struct{}
}

// Subscriptions returns a snapshot of the session's subscription patterns.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for p := range s.subscriptions {
		out = append(out, p)
	}
	return out
}

// Subscribe unions patterns into the session's subscription set.
func (s *Session) Subscribe(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions == nil {
		s.subscriptions = map[string]struct{}{}
	}
	for _, p := range patterns {
		s.subscriptions[p] = struct{}{}
	}
}

// Manager validates the configured API key, mints session tokens, and
// validates Bearer headers. Empty configured key means "open mode": any
// key (or no key) is accepted.
type Manager struct {
	apiKey        string
	sessionExpiry time.Duration
	signingKey    []byte

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager. signingKey may be empty — it only
// changes the token's form (an HS256-signed JWT wrapping the opaque value
// instead of the bare value); ValidateBearer never parses the JWT, and the
// sessions map lookup decides every validation and revocation.
func NewManager(apiKey string, sessionExpiry time.Duration, signingKey string) *Manager {
	if sessionExpiry <= 0 {
		sessionExpiry = 24 * time.Hour
	}
	return &Manager{
		apiKey:        apiKey,
		sessionExpiry: sessionExpiry,
		signingKey:    []byte(signingKey),
		sessions:      map[string]*Session{},
	}
}

// OpenMode reports whether the manager was configured with no API key.
func (m *Manager) OpenMode() bool { return m.apiKey == "" }

// ValidateAPIKey checks key (exact match unless in open mode) and, on
// success, mints a new opaque session token.
func (m *Manager) ValidateAPIKey(key, clientID, clientType string) (*Session, bool) {
	if !m.OpenMode() && key != m.apiKey {
		return nil, false
	}
	token := m.mintToken()
	now := time.Now()
	session := &Session{
		Token:       token,
		ClientID:    clientID,
		ClientType:  clientType,
		ConnectedAt: now,
		ExpiresAt:   now.Add(m.sessionExpiry),
	}
	m.mu.Lock()
	m.sessions[token] = session
	m.mu.Unlock()
	return session, true
}

func (m *Manager) mintToken() string {
	raw := make([]byte, 32) // >= 128 bits of entropy, well over
	_, _ = rand.Read(raw)
	opaque := hex.EncodeToString(raw)
	if len(m.signingKey) == 0 {
		return opaque
	}
	// Wrap the opaque token in a signed JWT. The JWT is not parsed back:
	// ValidateBearer and ValidateSession look the whole token up in the
	// sessions map.
	claims := jwt.MapClaims{"tok": opaque, "exp": time.Now().Add(m.sessionExpiry).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return opaque
	}
	return signed
}

// ValidateSession looks up a live, unexpired session by token.
func (m *Manager) ValidateSession(token string) (*Session, bool) {
	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(session.ExpiresAt) {
		m.RemoveSession(token)
		return nil, false
	}
	return session, true
}

// ValidateBearer accepts an "Authorization" header value: the raw
// configured key, or "Bearer <token>" (case-insensitive scheme) for a live
// session. In open mode, a missing/empty header is accepted to match
// local-only deployments.
func (m *Manager) ValidateBearer(headerValue string) bool {
	if headerValue == "" {
		return m.OpenMode()
	}
	token := headerValue
	if len(headerValue) > 7 && strings.EqualFold(headerValue[:7], "bearer ") {
		token = strings.TrimSpace(headerValue[7:])
	}
	if !m.OpenMode() && token == m.apiKey {
		return true
	}
	_, ok := m.ValidateSession(token)
	return ok
}

// RemoveSession invalidates a session immediately. Idempotent.
func (m *Manager) RemoveSession(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Sweep removes expired sessions; intended to run on a periodic ticker.
func (m *Manager) Sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
}

// StartSweeper runs Sweep on a ticker until stop is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

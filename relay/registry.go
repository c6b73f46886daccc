// Package relay implements the Gateway: the WebSocket protocol state
// machine, REST router, Client Registry, and the job/chat/command/system
// handlers, built around a client-map-plus-broadcast-channel server loop
// generalized to subscription-pattern fan-out.
package relay

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agenthq/relay/relay/auth"
)

// Inbound frames per session are token-bucket limited so one misbehaving
// or compromised client can't starve the gateway for everyone else.
const (
	framesPerSecond = 20
	frameBurst      = 40
)

// Sender is the minimal capability handlers need against a live client —
// just enough to reply, never the full Registry. This breaks the cyclic
// ownership between handlers (which call Send) and the Registry (which
// owns the sockets that invoke handlers).
type Sender interface {
	Send(payload any) error
}

// Client is one live WebSocket session: its connection, its auth session,
// the outbound channel its write pump drains, and its inbound rate limiter.
type Client struct {
	Session *auth.Session
	conn    Conn
	send    chan any
	limiter *rate.Limiter
}

// Allow reports whether another inbound frame from this client may be
// processed now, consuming one token if so.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// Conn abstracts the wire transport so handlers and the registry are
// testable without a real socket, grounded on the symmetric Conn
// interface used to wrap gorilla/websocket for peer-to-peer testing.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Send enqueues payload on the client's write pump. Best-effort: a full
// buffer drops this payload rather than blocking the caller, matching
// the registry's "per-session send failures are dropped silently"
// contract.
func (c *Client) Send(payload any) error {
	select {
	case c.send <- payload:
	default:
		// Buffer full: drop this send rather than block the caller.
	}
	return nil
}

// Registry tracks live sessions and provides broadcast, targeted send, and
// pattern-matched broadcast. All mutation is serialized under mu; every
// broadcast iterates a snapshot so a concurrent add/remove never corrupts
// an in-flight broadcast.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client // keyed by session token
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Add registers a client under its session token.
func (r *Registry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.Session.Token] = client
	r.mu.Unlock()
}

// Remove unregisters a client by session token.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	delete(r.clients, token)
	r.mu.Unlock()
}

// Get returns the client for a session token, if live.
func (r *Registry) Get(token string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[token]
	return c, ok
}

// Size returns the number of live sessions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the current client set for lock-free iteration.
func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload to every live session; per-session failures are
// dropped silently (Send never returns a hard error to the caller).
func (r *Registry) Broadcast(payload any) {
	for _, c := range r.snapshot() {
		_ = c.Send(payload)
	}
}

// SendTo sends payload to a single session by token. Returns whether a
// matching live session existed.
func (r *Registry) SendTo(token string, payload any) bool {
	r.mu.RLock()
	c, ok := r.clients[token]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	_ = c.Send(payload)
	return true
}

// Subscribe unions patterns into a session's subscription set.
func (r *Registry) Subscribe(token string, patterns []string) {
	if c, ok := r.Get(token); ok {
		c.Session.Subscribe(patterns)
	}
}

// BroadcastEvent sends payload only to sessions whose pattern set matches
// eventKind.
func (r *Registry) BroadcastEvent(eventKind string, payload any) {
	for _, c := range r.snapshot() {
		if matchesAny(c.Session.Subscriptions(), eventKind) {
			_ = c.Send(payload)
		}
	}
}

// matchesAny reports whether any pattern in patterns matches kind:
// "*" global wildcard, "prefix:*" prefix wildcard, or exact equality.
func matchesAny(patterns []string, kind string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(kind, strings.TrimSuffix(p, "*")) {
			return true
		}
		if p == kind {
			return true
		}
	}
	return false
}

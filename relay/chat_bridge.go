package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/errors"
	"github.com/agenthq/relay/logger"
)

const (
	bridgeConnectTimeout = 3 * time.Second
	bridgeReconnectDelay = 5 * time.Second
)

// errNotConnected is returned by SendChat/AbortChat when the bridge has no
// live upstream connection; callers should fall back to the HTTP path.
var errNotConnected = errors.New("upstream bridge: not connected")

// bridgeRequest is the outbound {"type":"req",...} frame.
type bridgeRequest struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// bridgeEvent is the inbound {"type":"event",...} frame.
type bridgeEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// pendingChat tracks one in-flight upstream chat request awaiting delta/
// final/error events keyed by correlation id.
type pendingChat struct {
	sessionToken string
	requestID    string
	threadID     string
	deadline     time.Time
	onEvent      func(bridgeEvent)
}

// UpstreamBridge holds a single reconnecting WebSocket connection to an
// upstream chat backend. It is the preferred path for chat:send; the Chat
// Handler falls back to a synchronous HTTP call when the bridge is absent
// or not currently connected.
type UpstreamBridge struct {
	url  string
	bus  *changebus.Bus

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]*pendingChat

	done chan struct{}
}

// NewUpstreamBridge constructs a bridge targeting url. Call Start to begin
// the reconnect loop; an empty url means no upstream is configured, and
// Start becomes a no-op (Connected always reports false).
func NewUpstreamBridge(url string, bus *changebus.Bus) *UpstreamBridge {
	return &UpstreamBridge{url: url, bus: bus, pending: map[string]*pendingChat{}, done: make(chan struct{})}
}

// Connected reports whether the bridge currently has a live connection.
func (b *UpstreamBridge) Connected() bool {
	if b == nil || b.url == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Start runs the connect/reconnect loop in the background. It returns
// immediately; call Stop to shut it down.
func (b *UpstreamBridge) Start() {
	if b == nil || b.url == "" {
		return
	}
	go b.run()
}

// Stop closes the current connection and ends the reconnect loop.
func (b *UpstreamBridge) Stop() {
	if b == nil || b.url == "" {
		return
	}
	close(b.done)
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
}

func (b *UpstreamBridge) run() {
	for {
		select {
		case <-b.done:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), bridgeConnectTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
		cancel()
		if err != nil {
			logger.ChatInfow("upstream bridge connect failed", "url", b.url, "error", err)
			select {
			case <-time.After(bridgeReconnectDelay):
			case <-b.done:
				return
			}
			continue
		}

		b.mu.Lock()
		b.conn = conn
		b.connected = true
		b.mu.Unlock()
		logger.ChatInfow("upstream bridge connected", "url", b.url)

		b.readLoop(conn)

		b.mu.Lock()
		b.conn = nil
		b.connected = false
		b.mu.Unlock()

		select {
		case <-time.After(bridgeReconnectDelay):
		case <-b.done:
			return
		}
	}
}

func (b *UpstreamBridge) readLoop(conn *websocket.Conn) {
	for {
		var ev bridgeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			logger.ChatInfow("upstream bridge read ended", "error", err)
			return
		}
		b.dispatch(ev)
	}
}

func (b *UpstreamBridge) dispatch(ev bridgeEvent) {
	if ev.Event == "trace.progress" {
		var data map[string]string
		_ = json.Unmarshal(ev.Payload, &data)
		if b.bus != nil {
			b.bus.Publish("trace:progress", data, "")
		}
		return
	}

	b.mu.Lock()
	p := b.pending[ev.ID]
	if p != nil && (ev.Event == "chat.final" || ev.Event == "chat.error") {
		delete(b.pending, ev.ID)
	}
	b.mu.Unlock()
	if p == nil {
		return
	}
	p.onEvent(ev)
}

// SendChat issues a chat.send request upstream and registers onEvent to
// receive chat.delta/chat.tool/chat.final/chat.error for this correlation
// id. It returns immediately; replies arrive asynchronously via onEvent.
func (b *UpstreamBridge) SendChat(sessionToken, threadID, content, modelOverride string, deadline time.Duration, onEvent func(bridgeEvent)) (string, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return "", errNotConnected
	}

	id := uuid.NewString()
	p := &pendingChat{sessionToken: sessionToken, requestID: id, threadID: threadID, deadline: time.Now().Add(deadline), onEvent: onEvent}
	b.mu.Lock()
	b.pending[id] = p
	b.mu.Unlock()

	req := bridgeRequest{
		Type:   "req",
		ID:     id,
		Method: "chat.send",
		Params: map[string]string{"threadId": threadID, "content": content, "modelOverride": modelOverride},
	}
	if err := conn.WriteJSON(req); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return "", err
	}
	return id, nil
}

// AbortChat issues a chat.abort request for a previously sent correlation id.
func (b *UpstreamBridge) AbortChat(id string) error {
	b.mu.Lock()
	conn := b.conn
	delete(b.pending, id)
	b.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(bridgeRequest{Type: "req", ID: uuid.NewString(), Method: "chat.abort", Params: map[string]string{"id": id}})
}

// ReleaseSession drops any pending requests tied to a disconnected client
// session, so a slow upstream reply doesn't try to deliver to a dead socket.
func (b *UpstreamBridge) ReleaseSession(sessionToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pending {
		if p.sessionToken == sessionToken {
			delete(b.pending, id)
		}
	}
}

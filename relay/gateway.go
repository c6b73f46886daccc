package relay

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/logger"
	"github.com/agenthq/relay/relay/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20

	commandReplyTimeout = 9 * time.Second
	armingTimeout       = 30 * time.Second
)

// ServerVersion is reported in auth-ack frames.
const ServerVersion = "relay-1.0"

// Gateway is the single process that accepts WebSocket upgrades and REST
// calls, runs the protocol state machine, and dispatches to handlers.
type Gateway struct {
	Auth     *auth.Manager
	Registry *Registry
	Vault    *facade.Facade
	Bus      *changebus.Bus
	Bridge   *UpstreamBridge

	startedAt time.Time

	jobHandler     *JobHandler
	chatHandler    *ChatHandler
	commandHandler *CommandHandler
	systemHandler  *SystemHandler
}

// New constructs a Gateway wired to its collaborators. Bridge may be nil
// if no upstream chat backend is configured — the Chat Handler then always
// uses the fallback path.
func New(mgr *auth.Manager, vault *facade.Facade, bus *changebus.Bus, bridge *UpstreamBridge, chatCfg ChatConfig) *Gateway {
	registry := NewRegistry()
	g := &Gateway{
		Auth:      mgr,
		Registry:  registry,
		Vault:     vault,
		Bus:       bus,
		Bridge:    bridge,
		startedAt: time.Now(),
	}
	g.jobHandler = NewJobHandler(vault, registry)
	g.chatHandler = NewChatHandler(vault, bridge, chatCfg)
	g.commandHandler = NewCommandHandler(vault)
	g.systemHandler = NewSystemHandler(vault, registry)

	if bus != nil {
		g.wireEventForwarder()
	}
	return g
}

// wireEventForwarder subscribes to the change bus and fans events out to
// the registry and the job handler's watch-set broadcaster, grounded on
// the Event Forwarder's role: translate bus events into outbound frames.
func (g *Gateway) wireEventForwarder() {
	events := g.Bus.Subscribe("*")
	go func() {
		for ev := range events {
			g.jobHandler.OnBusEvent(ev)
			g.Registry.BroadcastEvent(ev.Kind, systemEventFrame{Type: "system:event", Kind: ev.Kind, Data: ev.Data})
		}
	}()
}

// connSession tracks per-socket protocol state across Dispatch calls. The
// send channel exists from construction, before authentication, so a
// writer goroutine can pump it uniformly across the whole socket lifetime.
type connSession struct {
	mu      sync.Mutex
	state   connState
	session *auth.Session
	client  *Client
	send    chan any
}

// NewConn returns a per-socket dispatcher bound to conn. Call Dispatch for
// every inbound frame; call OnClose when the socket disconnects.
func (g *Gateway) NewConn(conn Conn) *connSession {
	return &connSession{state: stateNew, send: make(chan any, 64)}
}

// Dispatch decodes and routes one inbound frame, returning the reply
// payload(s) to send back on this socket (handlers may also use
// conn.client to send asynchronously, e.g. streaming chat deltas).
func (g *Gateway) Dispatch(cs *connSession, conn Conn, raw []byte) any {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return newError(ErrInvalidJSON, err.Error(), "")
	}
	env.Raw = raw

	cs.mu.Lock()
	state := cs.state
	cs.mu.Unlock()

	if state == stateNew {
		if env.Type != msgAuth {
			return newError(ErrNotAuthenticated, "", env.RequestID)
		}
		return g.handleAuth(cs, conn, env)
	}

	cs.mu.Lock()
	client := cs.client
	cs.mu.Unlock()
	if client != nil && env.Type != msgPing && !client.Allow() {
		// Over the per-session inbound rate: drop the frame rather than
		// invent an error kind outside the closed taxonomy.
		return nil
	}

	switch env.Type {
	case msgPing:
		return PongFrame{Type: "pong", Timestamp: time.Now().Unix()}
	case msgJobSubmit:
		return g.jobHandler.Submit(cs.session, env)
	case msgJobCancel:
		return g.jobHandler.Cancel(env)
	case msgChatSend:
		go g.chatHandler.Send(cs.client, env)
		return nil
	case msgChatAbort:
		return g.chatHandler.Abort(env)
	case msgSystemStatus:
		return g.systemHandler.Status(env)
	case msgSystemSubscribe:
		return g.systemHandler.Subscribe(cs.session.Token, env)
	case msgCmdExecute:
		return g.commandHandler.Execute(cs.session, env)
	case msgTraceStatus, msgTraceCancelTask:
		return newError(ErrTraceStatusFailed, "trace subsystem not configured", env.RequestID)
	default:
		return newError(ErrUnknownMessageType, env.Type, env.RequestID)
	}
}

func (g *Gateway) handleAuth(cs *connSession, conn Conn, env Envelope) any {
	var af authFrame
	if err := json.Unmarshal(env.Raw, &af); err != nil {
		return newError(ErrInvalidJSON, err.Error(), "")
	}
	session, ok := g.Auth.ValidateAPIKey(af.APIKey, af.ClientID, af.ClientType)
	if !ok {
		return AuthAckFrame{Type: "auth-ack", Success: false, ServerVersion: ServerVersion, Error: "invalid api key"}
	}
	client := &Client{Session: session, conn: conn, send: cs.send, limiter: rate.NewLimiter(rate.Limit(framesPerSecond), frameBurst)}
	g.Registry.Add(client)

	cs.mu.Lock()
	cs.state = stateAuthenticated
	cs.session = session
	cs.client = client
	cs.mu.Unlock()

	logger.GatewayInfow("session authenticated", "client_id", af.ClientID, "client_type", af.ClientType)
	return AuthAckFrame{Type: "auth-ack", Success: true, SessionToken: session.Token, ServerVersion: ServerVersion}
}

// OnClose tears down a disconnected socket: removes it from the registry
// and invalidates its session token.
func (g *Gateway) OnClose(cs *connSession) {
	cs.mu.Lock()
	session := cs.session
	cs.state = stateClosed
	cs.mu.Unlock()
	if session == nil {
		return
	}
	g.Registry.Remove(session.Token)
	g.Auth.RemoveSession(session.Token)
	g.chatHandler.OnSessionDisconnect(session.Token)
}

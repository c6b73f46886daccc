package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agenthq/relay/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// gorillaConn adapts *websocket.Conn to the Conn interface Clients depend on.
type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) WriteJSON(v any) error { return c.conn.WriteJSON(v) }
func (c *gorillaConn) Close() error          { return c.conn.Close() }

// ServeWS upgrades the HTTP request to a WebSocket and runs the connection
// until it closes, driving Dispatch for every inbound frame and flushing
// outbound frames (replies plus anything pushed to the client's send
// channel) from a single writer goroutine per socket.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.GatewayInfow("websocket upgrade failed", "error", err)
		return
	}
	gc := &gorillaConn{conn: conn}
	cs := g.NewConn(gc)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeDone := make(chan struct{})
	go g.writePump(cs, conn, writeDone)

	g.readPump(cs, conn, gc)

	g.OnClose(cs)
	<-writeDone
}

func (g *Gateway) readPump(cs *connSession, conn *websocket.Conn, gc *gorillaConn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if reply := g.Dispatch(cs, gc, raw); reply != nil {
			select {
			case cs.send <- reply:
			default:
			}
		}
	}
}

func (g *Gateway) writePump(cs *connSession, conn *websocket.Conn, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case payload, ok := <-cs.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

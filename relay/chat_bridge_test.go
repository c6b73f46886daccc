package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newEchoUpstream starts a fake upstream that accepts one connection,
// replies to a chat.send request with a chat.final event carrying the
// content back uppercased, and exits its handler when the conn closes.
func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var req bridgeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "chat.send":
				params, _ := json.Marshal(req.Params)
				var p struct {
					Content string `json:"content"`
				}
				_ = json.Unmarshal(params, &p)
				payload, _ := json.Marshal(map[string]string{"content": strings.ToUpper(p.Content)})
				_ = conn.WriteJSON(bridgeEvent{Type: "event", Event: "chat.final", ID: req.ID, Payload: payload})
			case "chat.abort":
				// no-op
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestUpstreamBridge_ConnectsAndRoutesChat(t *testing.T) {
	srv := newEchoUpstream(t)
	defer srv.Close()

	bridge := NewUpstreamBridge(wsURL(srv.URL), nil)
	bridge.Start()
	defer bridge.Stop()

	require.Eventually(t, bridge.Connected, time.Second, 10*time.Millisecond)

	received := make(chan bridgeEvent, 1)
	_, err := bridge.SendChat("sess-1", "thread-1", "hello", "", 5*time.Second, func(ev bridgeEvent) {
		received <- ev
	})
	require.NoError(t, err)

	select {
	case ev := <-received:
		require.Equal(t, "chat.final", ev.Event)
		var p struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		require.Equal(t, "HELLO", p.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat.final")
	}
}

func TestUpstreamBridge_NotConnectedWithoutServer(t *testing.T) {
	bridge := NewUpstreamBridge("ws://127.0.0.1:1/no-such-port", nil)
	require.False(t, bridge.Connected())

	_, err := bridge.SendChat("sess-1", "thread-1", "hello", "", time.Second, func(bridgeEvent) {})
	require.ErrorIs(t, err, errNotConnected)
}

func TestUpstreamBridge_EmptyURLNeverConnects(t *testing.T) {
	bridge := NewUpstreamBridge("", nil)
	bridge.Start()
	defer bridge.Stop()
	require.False(t, bridge.Connected())
}

func TestUpstreamBridge_ReleaseSessionDropsPending(t *testing.T) {
	bridge := NewUpstreamBridge("", nil)
	bridge.pending["id-1"] = &pendingChat{sessionToken: "sess-1"}
	bridge.pending["id-2"] = &pendingChat{sessionToken: "sess-2"}

	bridge.ReleaseSession("sess-1")

	require.Len(t, bridge.pending, 1)
	_, ok := bridge.pending["id-2"]
	require.True(t, ok)
}

package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestWSServer(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(srv.Close)
	return gw, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWS_RejectsNonAuthFirstFrame(t *testing.T) {
	_, srv := newTestWSServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var reply ErrorFrame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, ErrNotAuthenticated, reply.Code)
}

func TestServeWS_AuthThenPing(t *testing.T) {
	_, srv := newTestWSServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "apiKey": "test-key", "clientId": "c1", "clientType": "mobile"}))

	var ack AuthAckFrame
	require.NoError(t, conn.ReadJSON(&ack))
	require.True(t, ack.Success)
	require.NotEmpty(t, ack.SessionToken)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong PongFrame
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong.Type)
}

func TestServeWS_RejectsWrongAPIKey(t *testing.T) {
	_, srv := newTestWSServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "apiKey": "wrong-key"}))

	var ack AuthAckFrame
	require.NoError(t, conn.ReadJSON(&ack))
	require.False(t, ack.Success)
}

func TestServeWS_RegistryReflectsLiveAuthedSession(t *testing.T) {
	gw, srv := newTestWSServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "apiKey": "test-key"}))
	var ack AuthAckFrame
	require.NoError(t, conn.ReadJSON(&ack))

	require.Eventually(t, func() bool { return gw.Registry.Size() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return gw.Registry.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewConn_StartsInStateNew(t *testing.T) {
	gw, _ := newTestGateway(t)
	cs := gw.NewConn(fakeConn{})
	require.Equal(t, stateNew, cs.state)
	require.NotNil(t, cs.send)
}

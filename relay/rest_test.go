package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

func newTestGateway(t *testing.T) (*Gateway, *facade.Facade) {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	f := facade.New(store, nil)
	mgr := auth.NewManager("test-key", time.Hour, "")
	gw := New(mgr, f, nil, nil, ChatConfig{})
	return gw, f
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_APIRequiresBearer(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_CreateAndFetchJob(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body, _ := json.Marshal(createJobRequest{Instruction: "do a thing", Priority: 1})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created["jobId"])

	getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/jobs/"+created["jobId"], nil)
	getReq.Header.Set("Authorization", "Bearer test-key")
	getResp, err := http.DefaultClient.Do(getReq)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestRouter_GetUnknownJobIs404(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/jobs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ChatWithoutAPIKeyReturns503(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body, _ := json.Marshal(chatRequest{Content: "hello"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_SearchAndThreads(t *testing.T) {
	gw, f := newTestGateway(t)
	require.NoError(t, f.CreateNote("n1", "My Note", "hello world"))
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/notes/search?q=hello", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hits []vault.Note
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hits))
	require.Len(t, hits, 1)
}

func TestChatSink_DrainCollectsFinalAndError(t *testing.T) {
	sink := newChatSink()
	client := &Client{Session: &auth.Session{Token: "t"}, conn: sink, send: sink.ch}
	go sink.drain(client)

	sink.ch <- chatFinalFrame{Type: "chat:final", Content: "done"}
	close(sink.ch)
	<-sink.done

	require.Equal(t, "done", sink.final)
	require.Nil(t, sink.errFrame)
}

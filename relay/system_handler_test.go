package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/vault"
)

func newTestSystemHandler(t *testing.T) (*SystemHandler, *facade.Facade, *Registry) {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	f := facade.New(store, nil)
	r := NewRegistry()
	return NewSystemHandler(f, r), f, r
}

func TestSystemHandler_StatusReflectsJobsAndClients(t *testing.T) {
	h, f, r := newTestSystemHandler(t)
	r.Add(newTestClient("tok-1"))

	_, err := f.CreateJob("do a thing", 1, "")
	require.NoError(t, err)

	got := h.Status(Envelope{RequestID: "r1"}).(systemStatusResponseFrame)
	require.Equal(t, 1, got.PendingJobs)
	require.Equal(t, 0, got.RunningJobs)
	require.Equal(t, 1, got.ConnectedClients)
	require.Equal(t, "r1", got.RequestID)
}

func TestSystemHandler_SubscribeUnionsPatterns(t *testing.T) {
	h, _, r := newTestSystemHandler(t)
	client := newTestClient("tok-1")
	r.Add(client)

	raw, _ := json.Marshal(systemSubscribeFrame{RequestID: "r1", Events: []string{"job:*"}})
	reply := h.Subscribe("tok-1", Envelope{Raw: raw}).(cmdResultFrame)
	require.True(t, reply.Success)
	require.Contains(t, client.Session.Subscriptions(), "job:*")
}

func TestSystemHandler_SubscribeInvalidJSON(t *testing.T) {
	h, _, _ := newTestSystemHandler(t)
	reply := h.Subscribe("tok-1", Envelope{Raw: []byte("not json")})
	require.IsType(t, ErrorFrame{}, reply)
}

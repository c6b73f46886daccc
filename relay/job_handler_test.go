package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

func newTestJobHandler(t *testing.T) (*JobHandler, *Registry) {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	f := facade.New(store, nil)
	r := NewRegistry()
	return NewJobHandler(f, r), r
}

func TestJobHandler_SubmitRequiresInstruction(t *testing.T) {
	h, _ := newTestJobHandler(t)
	session := &auth.Session{Token: "tok-1"}

	raw, _ := json.Marshal(jobSubmitFrame{RequestID: "r1"})
	reply := h.Submit(session, Envelope{Raw: raw}).(ErrorFrame)
	require.Equal(t, ErrJobSubmitFailed, reply.Code)
}

func TestJobHandler_SubmitAndBusNotification(t *testing.T) {
	h, r := newTestJobHandler(t)
	client := newTestClient("tok-1")
	r.Add(client)
	session := &auth.Session{Token: "tok-1"}

	raw, _ := json.Marshal(jobSubmitFrame{RequestID: "r1", Instruction: "do a thing", Priority: 1})
	submitted := h.Submit(session, Envelope{Raw: raw}).(jobSubmittedFrame)
	require.NotEmpty(t, submitted.JobID)
	require.Equal(t, "pending", submitted.Status)

	h.OnBusEvent(changebus.Event{Kind: "job:claimed", Data: map[string]string{"jobId": submitted.JobID}})
	require.Len(t, client.send, 1)
	status := (<-client.send).(jobStatusFrame)
	require.Equal(t, "running", status.Status)

	h.OnBusEvent(changebus.Event{Kind: "job:completed", Data: map[string]string{"jobId": submitted.JobID}})
	require.Len(t, client.send, 1)
	complete := (<-client.send).(jobCompleteFrame)
	require.Equal(t, "done", complete.Status)

	// Watch set cleared on terminal status: a further event for the same
	// job notifies nobody.
	h.OnBusEvent(changebus.Event{Kind: "job:failed", Data: map[string]string{"jobId": submitted.JobID}})
	require.Len(t, client.send, 0)
}

func TestJobHandler_CancelIsBestEffort(t *testing.T) {
	h, _ := newTestJobHandler(t)
	raw, _ := json.Marshal(jobCancelFrame{RequestID: "r1", JobID: "job-1"})
	reply := h.Cancel(Envelope{Raw: raw}).(jobCompleteFrame)
	require.Equal(t, "job-1", reply.JobID)
	require.Equal(t, "failed", reply.Status)
}

func TestJobHandler_OnBusEventIgnoresMissingJobID(t *testing.T) {
	h, _ := newTestJobHandler(t)
	require.NotPanics(t, func() {
		h.OnBusEvent(changebus.Event{Kind: "job:claimed", Data: map[string]string{}})
	})
}

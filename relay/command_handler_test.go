package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

func newTestCommandHandler(t *testing.T) (*CommandHandler, *facade.Facade) {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	f := facade.New(store, nil)
	return NewCommandHandler(f), f
}

func execRaw(h *CommandHandler, session *auth.Session, command, args string) cmdResultFrame {
	raw, _ := json.Marshal(cmdExecuteFrame{RequestID: "r1", Command: command, Args: args})
	return h.Execute(session, Envelope{Type: msgCmdExecute, RequestID: "r1", Raw: raw}).(cmdResultFrame)
}

func TestCommandHandler_ModelRoundTrip(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "model", "")
	require.True(t, got.Success)
	require.Contains(t, got.Output, "active model:")

	got = execRaw(h, session, "model", "gpt-4o")
	require.True(t, got.Success)

	got = execRaw(h, session, "model", "")
	require.Equal(t, "active model: gpt-4o", got.Output)
}

func TestCommandHandler_ResetClearsSettings(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	execRaw(h, session, "model", "gpt-4o")
	execRaw(h, session, "reset", "")

	got := execRaw(h, session, "model", "")
	require.Equal(t, "active model: ", got.Output)
}

func TestCommandHandler_ThreadGeneratesAndPersistsID(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	first := execRaw(h, session, "thread", "")
	require.True(t, first.Success)
	require.NotEmpty(t, first.Output)

	second := execRaw(h, session, "thread", "")
	require.Equal(t, first.Output, second.Output)
}

func TestCommandHandler_SettingsAreIsolatedPerSession(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	a := &auth.Session{Token: "a"}
	b := &auth.Session{Token: "b"}

	execRaw(h, a, "model", "model-a")
	got := execRaw(h, b, "model", "")
	require.Equal(t, "active model: ", got.Output)
}

func TestCommandHandler_SearchRequiresQuery(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "search", "  ")
	require.False(t, got.Success)
}

func TestCommandHandler_DelegateRequiresTask(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "delegate", "")
	require.False(t, got.Success)

	got = execRaw(h, session, "delegate", "do the thing, claude-code")
	require.True(t, got.Success)
	require.NotEmpty(t, got.Output)
}

func TestCommandHandler_TaskResultPendingSentinel(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "task-result", "does-not-exist")
	require.True(t, got.Success)
	require.Equal(t, pendingResultSentinel, got.Output)
}

func TestCommandHandler_UnknownCommand(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "frobnicate", "")
	require.False(t, got.Success)
	require.Contains(t, got.Output, "unknown command")
}

func TestCommandHandler_HelpListsVocabulary(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	got := execRaw(h, session, "help", "")
	require.True(t, got.Success)
	require.Contains(t, got.Output, "delegate")
}

func TestCommandHandler_StatusCountsJobs(t *testing.T) {
	h, f := newTestCommandHandler(t)
	session := &auth.Session{Token: "tok-1"}

	_, err := f.CreateJob("do a thing", 1, "")
	require.NoError(t, err)

	got := execRaw(h, session, "status", "")
	require.True(t, got.Success)
	require.Contains(t, got.Output, "pending=1")
}

func TestFormatHits(t *testing.T) {
	require.Equal(t, "no matches", formatHits(nil))

	out := formatHits([]vault.Note{{Title: "n1", Body: "short body"}})
	require.Contains(t, out, "n1: short body")
}

package relay

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

func newTestChatHandler(t *testing.T) (*ChatHandler, *facade.Facade) {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	f := facade.New(store, nil)
	return NewChatHandler(f, nil, ChatConfig{}), f
}

func newTestChatClient(token string) *Client {
	return &Client{
		Session: &auth.Session{Token: token, ClientType: "mobile"},
		conn:    fakeConn{},
		send:    make(chan any, 16),
	}
}

func drainOne(t *testing.T, c *Client) any {
	t.Helper()
	select {
	case v := <-c.send:
		return v
	default:
		t.Fatal("expected a queued send, found none")
		return nil
	}
}

func TestChatHandler_SendWithoutAPIKeyErrors(t *testing.T) {
	h, _ := newTestChatHandler(t)
	client := newTestChatClient("tok-1")

	raw, _ := json.Marshal(chatSendFrame{RequestID: "r1", Content: "hi"})
	h.Send(client, Envelope{Type: msgChatSend, RequestID: "r1", Raw: raw})

	got := drainOne(t, client).(ErrorFrame)
	require.Equal(t, ErrNoAPIKey, got.Code)
}

func TestChatHandler_SendNilClientIsNoop(t *testing.T) {
	h, _ := newTestChatHandler(t)
	raw, _ := json.Marshal(chatSendFrame{RequestID: "r1", Content: "hi"})
	require.NotPanics(t, func() {
		h.Send(nil, Envelope{Type: msgChatSend, RequestID: "r1", Raw: raw})
	})
}

func TestChatHandler_AbortMarksRequestAndEchoes(t *testing.T) {
	h, _ := newTestChatHandler(t)
	raw, _ := json.Marshal(chatAbortFrame{RequestID: "r1"})

	reply := h.Abort(Envelope{Type: msgChatAbort, RequestID: "r1", Raw: raw})
	require.True(t, h.isAborted("r1"))
	require.Equal(t, map[string]string{"type": "chat:abort", "requestId": "r1"}, reply)
}

func TestChatHandler_OnSessionDisconnectIsSafeWithNilBridge(t *testing.T) {
	h, _ := newTestChatHandler(t)
	require.NotPanics(t, func() { h.OnSessionDisconnect("tok-1") })
}

func TestChatHandler_BuildSystemPromptIncludesMemoryAndClientType(t *testing.T) {
	h, f := newTestChatHandler(t)
	require.NoError(t, f.AppendMemoryFact("the sky is blue"))

	client := newTestChatClient("tok-1")
	prompt := h.buildSystemPrompt(client, chatSendFrame{Content: "what color is the sky"})

	require.Contains(t, prompt, "mobile client")
	require.Contains(t, prompt, "the sky is blue")
	require.Contains(t, prompt, memoryInstructionBlock)
}

func TestChatHandler_ProcessMemoryTagsStripsValidTags(t *testing.T) {
	h, f := newTestChatHandler(t)

	out := h.processMemoryTags("Sure thing. [REMEMBER: the user prefers dark mode] Anything else?")
	require.NotContains(t, out, "REMEMBER")
	require.Equal(t, "Sure thing. Anything else?", out)

	mem, err := f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, mem, "the user prefers dark mode")
}

func TestChatHandler_ProcessMemoryTagsLeavesNoOrphanedWhitespace(t *testing.T) {
	h, _ := newTestChatHandler(t)

	out := h.processMemoryTags("Sure! [REMEMBER: the user prefers dark mode]\nHere you go. [GOAL: ship the release]")
	require.Equal(t, "Sure!\nHere you go.", out)
}

func TestChatHandler_ProcessMemoryTagsIsExactTrimForTagFreeBody(t *testing.T) {
	h, _ := newTestChatHandler(t)

	out := h.processMemoryTags("  no tags here, just text  \n")
	require.Equal(t, strings.TrimSpace("  no tags here, just text  \n"), out)
}

func TestChatHandler_ProcessMemoryTagsLeavesInvalidBodiesIntact(t *testing.T) {
	h, _ := newTestChatHandler(t)

	out := h.processMemoryTags("[REMEMBER: ok]")
	require.Equal(t, "[REMEMBER: ok]", out)
}

func TestChatHandler_ProcessMemoryTagsHandlesGoalAndDone(t *testing.T) {
	h, f := newTestChatHandler(t)

	h.processMemoryTags("[GOAL: ship the release | DEADLINE: friday]")
	mem, err := f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, mem, "ship the release")

	done, err := f.MarkGoalDone("ship the release")
	require.NoError(t, err)
	require.True(t, done)
}

func TestValidTagBody(t *testing.T) {
	require.True(t, validTagBody("the user likes tea", 5))
	require.False(t, validTagBody("hi", 5))
	require.False(t, validTagBody("12345", 5))    // no alphabetic content
	require.False(t, validTagBody("ok done:", 3)) // reserved trailing punctuation
}

func TestSplitGoalDeadline(t *testing.T) {
	goal, deadline := splitGoalDeadline("ship it | DEADLINE: friday")
	require.Equal(t, "ship it", goal)
	require.Equal(t, "friday", deadline)

	goal, deadline = splitGoalDeadline("ship it")
	require.Equal(t, "ship it", goal)
	require.Empty(t, deadline)
}

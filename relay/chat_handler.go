package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/internal/httpclient"
	"github.com/agenthq/relay/logger"
)

const chatEndToEndTimeout = 10 * time.Minute

// ChatConfig is the subset of configuration the Chat Handler needs:
// where to reach the fallback chat completion endpoint and which model to
// default to when a request doesn't override one.
type ChatConfig struct {
	Endpoint     string
	APIKey       string
	DefaultModel string
}

// ChatHandler implements chat:send/chat:abort: prefer the Upstream Chat
// Bridge, arm a 30s fallback timer, and fall back to a synchronous
// streaming HTTP call if the bridge doesn't finish in time (or isn't
// connected at all).
type ChatHandler struct {
	vault  *facade.Facade
	bridge *UpstreamBridge
	cfg    ChatConfig
	client *httpclient.SaferClient

	mu      sync.Mutex
	aborted map[string]bool // requestId -> aborted
}

// NewChatHandler constructs a ChatHandler. bridge may be nil.
func NewChatHandler(v *facade.Facade, bridge *UpstreamBridge, cfg ChatConfig) *ChatHandler {
	return &ChatHandler{
		vault:   v,
		bridge:  bridge,
		cfg:     cfg,
		client:  httpclient.NewSaferClient(chatEndToEndTimeout),
		aborted: map[string]bool{},
	}
}

// Send runs the two-tier chat:send contract. It is expected to run in its
// own goroutine — deltas and the final frame are pushed to client.Send
// asynchronously, there is no synchronous reply to Dispatch.
func (h *ChatHandler) Send(client *Client, env Envelope) {
	var f chatSendFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		client.Send(newError(ErrInvalidJSON, err.Error(), env.RequestID))
		return
	}
	if client == nil {
		return
	}

	if h.bridge.Connected() {
		if h.sendViaBridge(client, f) {
			return
		}
	}
	h.sendViaFallback(client, f)
}

// sendViaBridge routes through the Upstream Chat Bridge and arms a 30s
// timer; true means a terminal upstream frame arrived before the timer
// fired (the fallback path must not also run).
func (h *ChatHandler) sendViaBridge(client *Client, f chatSendFrame) bool {
	done := make(chan bool, 1)
	armed := time.NewTimer(armingTimeout)
	defer armed.Stop()

	index := 0
	onEvent := func(ev bridgeEvent) {
		switch ev.Event {
		case "chat.delta":
			var payload struct {
				Delta string `json:"delta"`
			}
			_ = json.Unmarshal(ev.Payload, &payload)
			client.Send(chatDeltaFrame{Type: "chat:delta", RequestID: f.RequestID, Index: index, Delta: payload.Delta})
			index++
		case "chat.tool":
			client.Send(map[string]any{"type": "chat:tool", "requestId": f.RequestID, "raw": json.RawMessage(ev.Payload)})
		case "chat.final":
			var payload struct {
				Content string `json:"content"`
			}
			_ = json.Unmarshal(ev.Payload, &payload)
			cleaned := h.processMemoryTags(payload.Content)
			h.appendThread(f.ThreadID, cleaned)
			client.Send(chatFinalFrame{Type: "chat:final", RequestID: f.RequestID, Content: cleaned})
			select {
			case done <- true:
			default:
			}
		case "chat.error":
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(ev.Payload, &payload)
			client.Send(newError(ErrChatError, payload.Message, f.RequestID))
			select {
			case done <- true:
			default:
			}
		}
	}

	_, err := h.bridge.SendChat(client.Session.Token, f.ThreadID, f.Content, f.ModelOverride, chatEndToEndTimeout, onEvent)
	if err != nil {
		logger.ChatInfow("bridge send failed, falling back", "requestId", f.RequestID, "error", err)
		return false
	}

	select {
	case <-done:
		return true
	case <-armed.C:
		logger.ChatInfow("upstream arming timer fired, falling back", "requestId", f.RequestID)
		return false
	}
}

// sendViaFallback builds the enriched system prompt, streams from the
// configured chat completion endpoint, and emits chat:delta/chat:final.
func (h *ChatHandler) sendViaFallback(client *Client, f chatSendFrame) {
	if h.cfg.APIKey == "" {
		client.Send(newError(ErrNoAPIKey, "no chat completion credential configured", f.RequestID))
		return
	}

	prompt := h.buildSystemPrompt(client, f)
	model := f.ModelOverride
	if model == "" {
		model = h.cfg.DefaultModel
	}

	ctx, cancel := context.WithTimeout(context.Background(), chatEndToEndTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"model":  model,
		"stream": true,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": f.Content},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		client.Send(newError(ErrChatTimeout, err.Error(), f.RequestID))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		client.Send(newError(ErrChatTimeout, err.Error(), f.RequestID))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		client.Send(newError(ErrChatError, fmt.Sprintf("upstream returned %d", resp.StatusCode), f.RequestID))
		return
	}

	var full strings.Builder
	index := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if h.isAborted(f.RequestID) {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			client.Send(chatDeltaFrame{Type: "chat:delta", RequestID: f.RequestID, Index: index, Delta: c.Delta.Content})
			index++
		}
	}

	cleaned := h.processMemoryTags(full.String())
	h.appendThread(f.ThreadID, cleaned)
	client.Send(chatFinalFrame{Type: "chat:final", RequestID: f.RequestID, Content: cleaned})
	h.clearAborted(f.RequestID)
}

// Abort instructs the Upstream Chat Bridge to abort (if routed there) and
// marks the request id aborted for the fallback streaming loop, then
// echoes chat:abort. Safe to call when no stream is active.
func (h *ChatHandler) Abort(env Envelope) any {
	var f chatAbortFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		return newError(ErrInvalidJSON, err.Error(), env.RequestID)
	}
	h.mu.Lock()
	h.aborted[f.RequestID] = true
	h.mu.Unlock()
	if h.bridge != nil {
		_ = h.bridge.AbortChat(f.RequestID)
	}
	return map[string]string{"type": "chat:abort", "requestId": f.RequestID}
}

// OnSessionDisconnect drops pending upstream correlation entries owned by
// the disconnected session; it does not cancel the upstream chat job
// itself, which is a separate resource with its own ownership.
func (h *ChatHandler) OnSessionDisconnect(sessionToken string) {
	if h.bridge != nil {
		h.bridge.ReleaseSession(sessionToken)
	}
}

func (h *ChatHandler) isAborted(requestID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted[requestID]
}

func (h *ChatHandler) clearAborted(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.aborted, requestID)
}

func (h *ChatHandler) appendThread(threadID, content string) {
	if threadID == "" {
		return
	}
	_ = h.vault.AppendThreadMessage(threadID, "Assistant", content)
}

// --- Context injection (fallback path) ---

const memoryInstructionBlock = "To remember something for later, include [REMEMBER: <fact>] in your reply. " +
	"To record a goal, include [GOAL: <goal>] or [GOAL: <goal> | DEADLINE: <date>]. " +
	"To mark a goal done, include [DONE: <search text>]. These tags are stripped before the user sees your reply."

func (h *ChatHandler) buildSystemPrompt(client *Client, f chatSendFrame) string {
	var sections []string
	sections = append(sections, "You are the AgentHQ relay assistant, speaking with a "+client.Session.ClientType+" client.")
	sections = append(sections, "Current time: "+time.Now().Format(time.RFC1123))

	if soul, err := h.vault.GetSystemRecord("SOUL"); err == nil && soul != "" {
		sections = append(sections, soul)
	}
	if prefs, err := h.vault.GetSystemRecord("PREFERENCES"); err == nil && prefs != "" {
		sections = append(sections, prefs)
	}

	if hits, err := h.vault.SearchNotes(f.Content, 5); err == nil && len(hits) > 0 {
		var b strings.Builder
		b.WriteString("Relevant notes:\n")
		for _, n := range hits {
			fmt.Fprintf(&b, "- %s: %s\n", n.Title, truncate(n.Body, 300))
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if mem, err := h.vault.GetSystemRecord("MEMORY"); err == nil && mem != "" {
		sections = append(sections, truncate(mem, 2048))
	}

	sections = append(sections, memoryInstructionBlock)
	return strings.Join(sections, "\n\n")
}

// --- Memory tag processing ---

// memoryTagPattern also consumes one run of horizontal whitespace
// immediately *before* the tag, so stripping it never leaves an orphaned
// space behind: "Sure! [REMEMBER: x]\nok" strips to "Sure!\nok", not
// "Sure! \nok". Only the leading side is consumed — a tag with a word on
// each side ("thing. [GOAL: x] more") still leaves the single space that
// was on the *other* side of the tag to separate the two words. An invalid
// tag is returned byte-for-byte via the full match (leading whitespace
// included), so nothing is lost when a tag is left in place.
var memoryTagPattern = regexp.MustCompile(`[ \t]*\[(REMEMBER|GOAL|DONE):\s*([^\]]*)\]`)

// processMemoryTags scans text for REMEMBER/GOAL/DONE tags, applies each to
// the memory record, and returns the text with matched tags stripped. A
// tag-free body is returned exactly as strings.TrimSpace would render it.
func (h *ChatHandler) processMemoryTags(text string) string {
	stripped := memoryTagPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := memoryTagPattern.FindStringSubmatch(match)
		kind, body := groups[1], strings.TrimSpace(groups[2])
		if !validTagBody(body, minBodyLen(kind)) {
			return match
		}
		switch kind {
		case "REMEMBER":
			_ = h.vault.AppendMemoryFact(body)
		case "GOAL":
			goal, deadline := splitGoalDeadline(body)
			_ = h.vault.AppendMemoryGoal(goal, deadline)
		case "DONE":
			_, _ = h.vault.MarkGoalDone(body)
		}
		return ""
	})
	return strings.TrimSpace(stripped)
}

func minBodyLen(kind string) int {
	if kind == "DONE" {
		return 3
	}
	return 5
}

// validTagBody rejects bodies shorter than min, lacking three alphabetic
// characters, or whose endpoints are tag-syntax-reserved punctuation.
func validTagBody(body string, min int) bool {
	if len(body) < min {
		return false
	}
	alpha := 0
	for _, r := range body {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	if alpha < 3 {
		return false
	}
	if isReservedEdge(rune(body[0])) || isReservedEdge(rune(body[len(body)-1])) {
		return false
	}
	return true
}

func isReservedEdge(r rune) bool {
	switch r {
	case ']', '|', '{', '}', ':':
		return true
	}
	return false
}

func splitGoalDeadline(body string) (goal, deadline string) {
	parts := strings.SplitN(body, "|", 2)
	goal = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		d := strings.TrimSpace(parts[1])
		deadline = strings.TrimSpace(strings.TrimPrefix(d, "DEADLINE:"))
	}
	return goal, deadline
}

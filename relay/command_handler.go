package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/queue"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

const helpText = "Commands: reset/new, session, model [name], thread [id], " +
	"status/hq/hq-status, memory, threads, search {query}, " +
	"delegate {task,targetHarness?}, task-result {taskId}, job-result {jobId}, help/commands."

const pendingResultSentinel = "__pending__"

// CommandHandler implements cmd:execute against a closed command
// vocabulary and a per-session key-value settings map.
type CommandHandler struct {
	vault *facade.Facade

	mu       sync.Mutex
	settings map[string]map[string]string // sessionToken -> settings
}

// NewCommandHandler constructs a CommandHandler.
func NewCommandHandler(v *facade.Facade) *CommandHandler {
	return &CommandHandler{vault: v, settings: map[string]map[string]string{}}
}

func (h *CommandHandler) sessionSettings(token string) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settings[token] == nil {
		h.settings[token] = map[string]string{}
	}
	return h.settings[token]
}

// Execute dispatches one cmd:execute frame against the closed vocabulary.
func (h *CommandHandler) Execute(session *auth.Session, env Envelope) any {
	var f cmdExecuteFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		return newError(ErrInvalidJSON, err.Error(), env.RequestID)
	}
	settings := h.sessionSettings(session.Token)

	switch strings.ToLower(f.Command) {
	case "reset", "new":
		h.mu.Lock()
		h.settings[session.Token] = map[string]string{}
		h.mu.Unlock()
		return result(f.RequestID, true, "session reset")

	case "session":
		return result(f.RequestID, true, fmt.Sprintf("%v", settings))

	case "model":
		if f.Args == "" {
			return result(f.RequestID, true, "active model: "+settings["model"])
		}
		settings["model"] = f.Args
		return result(f.RequestID, true, "model set to "+f.Args)

	case "thread":
		if f.Args == "" {
			if settings["threadId"] == "" {
				settings["threadId"] = uuid.NewString()
			}
			return result(f.RequestID, true, settings["threadId"])
		}
		settings["threadId"] = f.Args
		return result(f.RequestID, true, "thread set to "+f.Args)

	case "status", "hq", "hq-status":
		return h.status(f.RequestID)

	case "memory":
		body, err := h.vault.GetSystemRecord("MEMORY")
		if err != nil {
			return result(f.RequestID, true, "(no memory record yet)")
		}
		return result(f.RequestID, true, truncate(body, 1536))

	case "threads":
		ids, err := h.vault.ListThreads()
		if err != nil {
			return result(f.RequestID, false, err.Error())
		}
		if len(ids) > 10 {
			ids = ids[:10]
		}
		return result(f.RequestID, true, strings.Join(ids, "\n"))

	case "search":
		if strings.TrimSpace(f.Args) == "" {
			return result(f.RequestID, false, "search requires a query")
		}
		hits, err := h.vault.SearchNotes(f.Args, 5)
		if err != nil {
			return result(f.RequestID, false, err.Error())
		}
		return result(f.RequestID, true, formatHits(hits))

	case "delegate":
		return h.delegate(f.RequestID, f.Args)

	case "task-result":
		return h.taskResult(f.RequestID, f.Args)

	case "job-result":
		return h.jobResult(f.RequestID, f.Args)

	case "help", "commands":
		return result(f.RequestID, true, helpText)

	default:
		return result(f.RequestID, false, "unknown command: "+f.Command)
	}
}

func (h *CommandHandler) status(requestID string) any {
	pending, _ := h.vault.Store.List(vault.JobsPending)
	running, _ := h.vault.Store.List(vault.JobsProcessing)
	return result(requestID, true, fmt.Sprintf("pending=%d running=%d", len(pending), len(running)))
}

func (h *CommandHandler) delegate(requestID, args string) any {
	parts := strings.SplitN(args, ",", 2)
	task := strings.TrimSpace(parts[0])
	if task == "" {
		return result(requestID, false, "delegate requires a task description")
	}
	harness := "any"
	if len(parts) == 2 {
		harness = strings.TrimSpace(parts[1])
	}
	ids, err := h.vault.CreateDelegatedTasks("", []facade.TaskSpec{{Instruction: task, TargetHarnessType: harness}})
	if err != nil {
		return result(requestID, false, err.Error())
	}
	return result(requestID, true, ids[0])
}

func (h *CommandHandler) taskResult(requestID, taskID string) any {
	taskID = strings.TrimSpace(taskID)
	rec, err := h.vault.Store.Read(vault.DelegationDone + "/" + taskID + ".md")
	if err != nil {
		return result(requestID, true, pendingResultSentinel)
	}
	task := queue.DelegatedTaskFromRecord(rec)
	if task == nil {
		return result(requestID, true, pendingResultSentinel)
	}
	return result(requestID, true, task.Result)
}

func (h *CommandHandler) jobResult(requestID, jobID string) any {
	jobID = strings.TrimSpace(jobID)
	rec, err := h.vault.Store.Read(vault.JobsDone + "/" + jobID + ".md")
	if err != nil {
		return result(requestID, true, pendingResultSentinel)
	}
	job := queue.JobFromRecord(rec)
	if job == nil {
		return result(requestID, true, pendingResultSentinel)
	}
	return result(requestID, true, job.Result)
}

func result(requestID string, success bool, output string) cmdResultFrame {
	return cmdResultFrame{Type: "cmd:result", RequestID: requestID, Success: success, Output: output}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatHits(notes []vault.Note) string {
	if len(notes) == 0 {
		return "no matches"
	}
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "%s: %s\n", n.Title, truncate(n.Body, 120))
	}
	return strings.TrimRight(b.String(), "\n")
}

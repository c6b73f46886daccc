package relay

import (
	"encoding/json"
	"sync"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/queue"
	"github.com/agenthq/relay/relay/auth"
)

// JobHandler implements job:submit/job:cancel and the event-driven
// broadcasting that turns Change Bus job events into job:status/
// job:complete frames for every watching session.
type JobHandler struct {
	vault    *facade.Facade
	registry *Registry

	mu        sync.Mutex
	watchSet  map[string]map[string]struct{} // jobId -> sessionTokens
}

// NewJobHandler constructs a JobHandler.
func NewJobHandler(v *facade.Facade, r *Registry) *JobHandler {
	return &JobHandler{vault: v, registry: r, watchSet: map[string]map[string]struct{}{}}
}

// Submit enqueues a new job via the Facade, registers the submitting
// session in WatchSet[jobId], and replies job:submitted.
func (h *JobHandler) Submit(session *auth.Session, env Envelope) any {
	var f jobSubmitFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		return newError(ErrJobSubmitFailed, err.Error(), env.RequestID)
	}
	if f.Instruction == "" {
		return newError(ErrJobSubmitFailed, "instruction is required", f.RequestID)
	}
	jobID, err := h.vault.CreateJob(f.Instruction, f.Priority, f.Type)
	if err != nil {
		return newError(ErrJobSubmitFailed, err.Error(), f.RequestID)
	}
	h.watch(jobID, session.Token)
	return jobSubmittedFrame{Type: "job:submitted", JobID: jobID, RequestID: f.RequestID, Status: string(queue.StatusPending)}
}

// Cancel replies job:complete with status failed and result "cancelled by
// client". It does not read or rewrite the stored job record.
func (h *JobHandler) Cancel(env Envelope) any {
	var f jobCancelFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		return newError(ErrJobCancelFailed, err.Error(), env.RequestID)
	}
	// The job's record keeps its stored status; a worker holding the job
	// is not told of the cancellation.
	return jobCompleteFrame{Type: "job:complete", JobID: f.JobID, Status: string(queue.StatusFailed), Result: "cancelled by client"}
}

func (h *JobHandler) watch(jobID, sessionToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchSet[jobID] == nil {
		h.watchSet[jobID] = map[string]struct{}{}
	}
	h.watchSet[jobID][sessionToken] = struct{}{}
}

// OnBusEvent handles job:completed/job:failed/job:claimed Change Bus
// events: takes the job id from the event's data (the job record itself is
// not read), sends job:complete (terminal) or job:status to every watching
// session, and clears the watch set on terminal states.
func (h *JobHandler) OnBusEvent(ev changebus.Event) {
	jobID := ev.Data["jobId"]
	if jobID == "" {
		return
	}
	switch ev.Kind {
	case "job:claimed":
		h.notify(jobID, jobStatusFrame{Type: "job:status", JobID: jobID, Status: string(queue.StatusRunning)})
	case "job:completed":
		h.notify(jobID, jobCompleteFrame{Type: "job:complete", JobID: jobID, Status: string(queue.StatusDone)})
		h.clearWatch(jobID)
	case "job:failed":
		h.notify(jobID, jobCompleteFrame{Type: "job:complete", JobID: jobID, Status: string(queue.StatusFailed)})
		h.clearWatch(jobID)
	}
}

func (h *JobHandler) notify(jobID string, payload any) {
	h.mu.Lock()
	tokens := make([]string, 0, len(h.watchSet[jobID]))
	for t := range h.watchSet[jobID] {
		tokens = append(tokens, t)
	}
	h.mu.Unlock()
	for _, t := range tokens {
		h.registry.SendTo(t, payload)
	}
}

func (h *JobHandler) clearWatch(jobID string) {
	h.mu.Lock()
	delete(h.watchSet, jobID)
	h.mu.Unlock()
}

package queue

import (
	"time"

	"github.com/agenthq/relay/vault"
)

// TaskQueue is the delegated-task counterpart of PQ: pending -> processing
// -> done, with an additional harness-type filter on dequeue.
type TaskQueue struct {
	e *engine
}

// NewTaskQueue opens the delegated-task queue over _fbmq/delegation.
func NewTaskQueue(store *vault.Store) *TaskQueue {
	return &TaskQueue{e: newEngine(store, vault.DelegationPending, vault.DelegationProcessing, vault.DelegationDone)}
}

func taskFileName(taskID string) string { return taskID + ".md" }

// Enqueue writes a new task directly into the main pending directory. The
// staging decision (empty vs non-empty DependsOn) is made by the caller —
// see Staged.CreateOrStage.
func (q *TaskQueue) Enqueue(t *DelegatedTask) error {
	if err := q.e.enqueue(taskFileName(t.TaskID), t.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return err
	}
	q.e.notify()
	return nil
}

// DequeueForHarness claims the highest-priority pending task whose target
// harness matches harnessType ("any" targets match every filter), moving
// it to the processing directory. Returns nil, nil if none match.
func (q *TaskQueue) DequeueForHarness(harnessType string) (*DelegatedTask, error) {
	rec, name, err := q.e.claimFirstMatching(func(rec *vault.Record) bool {
		target := rec.Header["targetHarnessType"]
		return target == harnessType || target == "any"
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	task := DelegatedTaskFromRecord(rec)
	if task == nil {
		return nil, nil
	}
	task.claimLocation = name
	q.e.notify()
	return task, nil
}

// Claim binds a dequeued task to relayID. Only succeeds for a task
// instance returned from this process's own DequeueForHarness call.
func (q *TaskQueue) Claim(task *DelegatedTask, relayID string) (bool, error) {
	if task.claimLocation == "" {
		return false, nil
	}
	task.Status = StatusRunning
	task.ClaimedBy = relayID
	task.ClaimedAt = time.Now()
	task.UpdatedAt = time.Now()
	task.Version++
	if err := q.e.writeProcessing(task.claimLocation, task.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return false, err
	}
	q.e.notify()
	return true, nil
}

// UpdateStatus rewrites a task's status/result/error in its processing
// location and acks to done on terminal status.
func (q *TaskQueue) UpdateStatus(task *DelegatedTask, status Status, result, errMsg string) error {
	task.Status = status
	if result != "" {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	task.UpdatedAt = time.Now()
	task.Version++

	if task.claimLocation == "" {
		return nil
	}
	if err := q.e.writeProcessing(task.claimLocation, task.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return err
	}
	if IsTerminal(status) {
		if err := q.e.ack(task.claimLocation); err != nil {
			return err
		}
	}
	q.e.notify()
	return nil
}

// Subscribe returns a best-effort change notification channel.
func (q *TaskQueue) Subscribe() <-chan struct{} { return q.e.Subscribe() }

package queue

import (
	"time"

	"github.com/agenthq/relay/vault"
)

// PQ is the priority file-backed job queue: pending -> processing -> done,
// with strict priority-descending, FIFO-within-bucket dequeue order.
type PQ struct {
	e *engine
}

// NewPQ opens the job queue over the vault's canonical _fbmq/jobs subtree.
func NewPQ(store *vault.Store) *PQ {
	return &PQ{e: newEngine(store, vault.JobsPending, vault.JobsProcessing, vault.JobsDone)}
}

func jobFileName(jobID string) string { return jobID + ".md" }

// Enqueue writes a new job into the pending directory.
func (q *PQ) Enqueue(job *Job) error {
	if err := q.e.enqueue(jobFileName(job.JobID), job.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return err
	}
	q.e.notify()
	return nil
}

// Dequeue claims the highest-priority pending job for workerID, moving its
// record to the processing directory. Returns nil, nil if the queue is
// empty.
func (q *PQ) Dequeue(workerID string) (*Job, error) {
	rec, name, err := q.e.claimFirstMatching(func(*vault.Record) bool { return true })
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	job := JobFromRecord(rec)
	if job == nil {
		return nil, nil // corrupt record: skip, as if the queue were empty for this call
	}
	job.location = name
	job.WorkerID = workerID
	q.e.notify()
	return job, nil
}

// Claim marks a dequeued job as running under workerID. It only succeeds
// for a job instance returned from this process's own Dequeue call (it
// operates on job.location, which is unset on any other Job value).
func (q *PQ) Claim(job *Job, workerID string) (bool, error) {
	if job.location == "" {
		return false, nil
	}
	job.Status = StatusRunning
	job.WorkerID = workerID
	job.UpdatedAt = time.Now()
	job.Version++
	if err := q.e.writeProcessing(job.location, job.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return false, err
	}
	q.e.notify()
	return true, nil
}

// UpdateStatus rewrites a job's status (and optional result/streaming
// text) in its processing location, then acks it to the done directory if
// the new status is terminal.
func (q *PQ) UpdateStatus(job *Job, status Status, result, streamingText string) error {
	job.Status = status
	if result != "" {
		job.Result = result
	}
	if streamingText != "" {
		job.StreamingText = streamingText
	}
	job.UpdatedAt = time.Now()
	job.Version++

	if job.location == "" {
		return nil // job wasn't dequeued in this process; nothing to rewrite
	}
	if err := q.e.writeProcessing(job.location, job.ToRecord(), vault.DefaultHeaderOrder); err != nil {
		return err
	}
	if IsTerminal(status) {
		if err := q.e.ack(job.location); err != nil {
			return err
		}
	}
	q.e.notify()
	return nil
}

// Subscribe returns a best-effort change notification channel.
func (q *PQ) Subscribe() <-chan struct{} { return q.e.Subscribe() }

// Package queue implements the file-backed priority job/task queue: atomic
// claim via rename-or-fail, priority-bucketed FIFO dequeue, and staged
// dependency promotion. It sits directly on top of package vault's Store
// and Record primitives.
package queue

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthq/relay/vault"
)

// Status is a job/task's application-level lifecycle status. Status is
// monotonic along pending -> running -> terminal; it never implies which
// queue directory the record currently lives in (that's the job's queue
// *location*, tracked separately by the PQ).
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusWaitingForUser Status = "waiting_for_user"
	StatusDone           Status = "done"
	StatusCompleted      Status = "completed" // used by delegated tasks as the dependency-satisfying terminal status
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether status ends a job/task's lifecycle.
func IsTerminal(s Status) bool {
	switch s {
	case StatusDone, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Bucket is the named priority band used for dequeue ordering.
type Bucket int

const (
	BucketLow Bucket = iota
	BucketNormal
	BucketHigh
	BucketCritical
)

// BucketOf maps a 0-99 priority integer to its named band.
func BucketOf(priority int) Bucket {
	switch {
	case priority >= 90:
		return BucketCritical
	case priority >= 70:
		return BucketHigh
	case priority >= 30:
		return BucketNormal
	default:
		return BucketLow
	}
}

// Job is the queue's record for a top-level submitted job.
type Job struct {
	JobID           string
	Type            string // background | rpc | interactive
	Status          Status
	Priority        int
	SecurityProfile string
	ModelOverride   string
	ThinkingLevel   string
	WorkerID        string
	ThreadID        string
	Instruction     string
	Result          string
	StreamingText   string
	TraceID         string
	SpanID          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int

	// location is the basename this job's record currently lives under
	// within its queue directory; it is what Claim/Ack operate on.
	location string
}

// NewJob creates a pending job from a submit spec. Priority is clamped to
// 0-99.
func NewJob(instruction string, priority int, jobType string) *Job {
	if priority < 0 {
		priority = 0
	}
	if priority > 99 {
		priority = 99
	}
	if jobType == "" {
		jobType = "background"
	}
	now := time.Now()
	return &Job{
		JobID:       uuid.NewString(),
		Type:        jobType,
		Status:      StatusPending,
		Priority:    priority,
		Instruction: instruction,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// ToRecord serializes the job into a vault record. Empty optional fields
// are omitted from the header.
func (j *Job) ToRecord() *vault.Record {
	h := map[string]string{
		"jobId":     j.JobID,
		"type":      j.Type,
		"status":    string(j.Status),
		"priority":  strconv.Itoa(j.Priority),
		"createdAt": j.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": j.UpdatedAt.Format(time.RFC3339Nano),
		"version":   strconv.Itoa(j.Version),
	}
	setIfNonEmpty(h, "securityProfile", j.SecurityProfile)
	setIfNonEmpty(h, "modelOverride", j.ModelOverride)
	setIfNonEmpty(h, "thinkingLevel", j.ThinkingLevel)
	setIfNonEmpty(h, "workerId", j.WorkerID)
	setIfNonEmpty(h, "threadId", j.ThreadID)
	return &vault.Record{Header: h, Body: jobBody(j)}
}

func jobBody(j *Job) string {
	var b strings.Builder
	b.WriteString(j.Instruction)
	if j.Result != "" {
		b.WriteString("\n\n---result---\n")
		b.WriteString(j.Result)
	}
	if j.StreamingText != "" {
		b.WriteString("\n\n---streaming---\n")
		b.WriteString(j.StreamingText)
	}
	if j.TraceID != "" {
		b.WriteString("\n\ntraceId: " + j.TraceID)
	}
	if j.SpanID != "" {
		b.WriteString("\nspanId: " + j.SpanID)
	}
	return b.String()
}

// JobFromRecord parses a stored record back into a Job. Returns nil if the
// record is missing required fields (treated as corrupt: caller skips it).
func JobFromRecord(r *vault.Record) *Job {
	id := r.Header["jobId"]
	if id == "" {
		return nil
	}
	j := &Job{
		JobID:           id,
		Type:            r.Header["type"],
		Status:          Status(r.Header["status"]),
		SecurityProfile: r.Header["securityProfile"],
		ModelOverride:   r.Header["modelOverride"],
		ThinkingLevel:   r.Header["thinkingLevel"],
		WorkerID:        r.Header["workerId"],
		ThreadID:        r.Header["threadId"],
	}
	j.Priority, _ = strconv.Atoi(r.Header["priority"])
	j.Version, _ = strconv.Atoi(r.Header["version"])
	j.CreatedAt = parseTime(r.Header["createdAt"])
	j.UpdatedAt = parseTime(r.Header["updatedAt"])
	j.Instruction = bodyBefore(r.Body, "\n\n---result---\n")
	if idx := strings.Index(r.Body, "\n\n---result---\n"); idx >= 0 {
		rest := r.Body[idx+len("\n\n---result---\n"):]
		if streamIdx := strings.Index(rest, "\n\n---streaming---\n"); streamIdx >= 0 {
			j.Result = rest[:streamIdx]
		} else {
			j.Result = rest
		}
	}
	return j
}

func bodyBefore(body, sep string) string {
	if idx := strings.Index(body, sep); idx >= 0 {
		return body[:idx]
	}
	return body
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func setIfNonEmpty(h map[string]string, key, val string) {
	if val != "" {
		h[key] = val
	}
}

// DelegatedTask is a sub-unit of a parent job, routed to a specific
// harness type, optionally gated on other tasks' completion.
type DelegatedTask struct {
	TaskID            string
	JobID             string
	TargetHarnessType string // claude-code | opencode | gemini-cli | any
	Status            Status
	Priority          int
	DependsOn         []string
	Instruction       string
	Result            string
	Error             string
	ClaimedBy         string
	ClaimedAt         time.Time
	DeadlineMs        int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int

	// claimLocation is the basename this task's record currently lives
	// under within the processing directory; set only by this process's
	// own DequeueForHarness call, mirroring Job.location.
	claimLocation string
}

// NewDelegatedTask creates a pending task for the given parent job.
func NewDelegatedTask(jobID, instruction, harnessType string, priority int, dependsOn []string) *DelegatedTask {
	if harnessType == "" {
		harnessType = "any"
	}
	now := time.Now()
	return &DelegatedTask{
		TaskID:            uuid.NewString(),
		JobID:             jobID,
		TargetHarnessType: harnessType,
		Status:            StatusPending,
		Priority:          priority,
		DependsOn:         dependsOn,
		Instruction:       instruction,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

// ToRecord serializes the task into a vault record.
func (t *DelegatedTask) ToRecord() *vault.Record {
	h := map[string]string{
		"taskId":            t.TaskID,
		"jobId":             t.JobID,
		"targetHarnessType": t.TargetHarnessType,
		"status":            string(t.Status),
		"priority":          strconv.Itoa(t.Priority),
		"createdAt":         t.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":         t.UpdatedAt.Format(time.RFC3339Nano),
		"version":           strconv.Itoa(t.Version),
	}
	if len(t.DependsOn) > 0 {
		h["dependsOn"] = strings.Join(t.DependsOn, ",")
	}
	setIfNonEmpty(h, "claimedBy", t.ClaimedBy)
	if !t.ClaimedAt.IsZero() {
		h["claimedAt"] = t.ClaimedAt.Format(time.RFC3339Nano)
	}
	body := t.Instruction
	if t.Result != "" {
		body += "\n\n---result---\n" + t.Result
	}
	if t.Error != "" {
		body += "\n\n---error---\n" + t.Error
	}
	return &vault.Record{Header: h, Body: body}
}

// DelegatedTaskFromRecord parses a stored record back into a task.
func DelegatedTaskFromRecord(r *vault.Record) *DelegatedTask {
	id := r.Header["taskId"]
	if id == "" {
		return nil
	}
	t := &DelegatedTask{
		TaskID:            id,
		JobID:             r.Header["jobId"],
		TargetHarnessType: r.Header["targetHarnessType"],
		Status:            Status(r.Header["status"]),
		ClaimedBy:         r.Header["claimedBy"],
	}
	t.Priority, _ = strconv.Atoi(r.Header["priority"])
	t.Version, _ = strconv.Atoi(r.Header["version"])
	t.CreatedAt = parseTime(r.Header["createdAt"])
	t.UpdatedAt = parseTime(r.Header["updatedAt"])
	t.ClaimedAt = parseTime(r.Header["claimedAt"])
	if deps := r.Header["dependsOn"]; deps != "" {
		t.DependsOn = strings.Split(deps, ",")
	}
	body := r.Body
	if idx := strings.Index(body, "\n\n---result---\n"); idx >= 0 {
		rest := body[idx+len("\n\n---result---\n"):]
		body = body[:idx]
		if errIdx := strings.Index(rest, "\n\n---error---\n"); errIdx >= 0 {
			t.Result = rest[:errIdx]
			t.Error = rest[errIdx+len("\n\n---error---\n"):]
		} else {
			t.Result = rest
		}
	}
	t.Instruction = body
	return t
}

// Package facade wires package vault, package queue, and package changebus
// behind the single typed API spec'd for the Vault Facade: jobs, delegated
// tasks, live task output, and (via the embedded vault.Facade) notes,
// threads, memory, and usage.
package facade

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/queue"
	"github.com/agenthq/relay/vault"
)

// maxLiveChunkWindow bounds the rolling live-output window per task.
const maxLiveChunkWindow = 50 * 1024

// Facade is the full in-process API handlers call.
type Facade struct {
	*vault.Facade
	Store  *vault.Store
	Jobs   *queue.PQ
	Tasks  *queue.TaskQueue
	Staged *queue.Staged
	Bus    *changebus.Bus
}

// New wires the queue/bus layers over an already-open vault store. Bus
// may be nil if the caller doesn't need change-bus wiring (e.g. in a
// queue-only test).
func New(store *vault.Store, bus *changebus.Bus) *Facade {
	tasks := queue.NewTaskQueue(store)
	return &Facade{
		Facade: vault.NewFacade(store),
		Store:  store,
		Jobs:   queue.NewPQ(store),
		Tasks:  tasks,
		Staged: queue.NewStaged(store, tasks),
		Bus:    bus,
	}
}

// CreateJob enqueues a new job and returns its id.
func (f *Facade) CreateJob(instruction string, priority int, jobType string) (string, error) {
	job := queue.NewJob(instruction, priority, jobType)
	if err := f.Jobs.Enqueue(job); err != nil {
		return "", err
	}
	return job.JobID, nil
}

// GetPendingJob dequeues the highest-priority pending job for workerID.
func (f *Facade) GetPendingJob(workerID string) (*queue.Job, error) {
	return f.Jobs.Dequeue(workerID)
}

// ClaimJob binds a dequeued job to workerID; first claimer wins.
func (f *Facade) ClaimJob(job *queue.Job, workerID string) (bool, error) {
	return f.Jobs.Claim(job, workerID)
}

// UpdateJobStatus rewrites a job's status, acking to the terminal location
// if status is terminal.
func (f *Facade) UpdateJobStatus(job *queue.Job, status queue.Status, result, streamingText string) error {
	return f.Jobs.UpdateStatus(job, status, result, streamingText)
}

// AddJobLog appends a log line to today's usage log, tagged with jobId
// and the log kind.
func (f *Facade) AddJobLog(jobID, kind, content string) error {
	return f.AppendUsage("[" + kind + "] job=" + jobID + " " + content)
}

// CreateDelegatedTasks enqueues each task to the main queue or the staged
// area, per the staging rule (empty DependsOn -> main queue).
func (f *Facade) CreateDelegatedTasks(jobID string, specs []TaskSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		task := queue.NewDelegatedTask(jobID, spec.Instruction, spec.TargetHarnessType, spec.Priority, spec.DependsOn)
		if err := f.Staged.CreateOrStage(task); err != nil {
			return ids, err
		}
		ids = append(ids, task.TaskID)
	}
	return ids, nil
}

// TaskSpec is a single delegation request within CreateDelegatedTasks.
type TaskSpec struct {
	Instruction       string
	TargetHarnessType string
	Priority          int
	DependsOn         []string
}

// GetPendingTasks dequeues one task matching harnessType, if any is ready.
func (f *Facade) GetPendingTasks(harnessType string) (*queue.DelegatedTask, error) {
	return f.Tasks.DequeueForHarness(harnessType)
}

// ClaimTask binds a dequeued task to relayID.
func (f *Facade) ClaimTask(task *queue.DelegatedTask, relayID string) (bool, error) {
	return f.Tasks.Claim(task, relayID)
}

// UpdateTaskStatus rewrites a task's status/result/error, acking to the
// terminal location on terminal status, then promotes any now-ready staged
// dependents. Promotion checks a staged task's *entire* DependsOn set
// against the cumulative set of completed task ids, not just the one that
// just completed — a task depending on d1 and d2 must stay staged until
// both have completed, and the only durable record of "already completed
// before this call" is the completed tasks already sitting in
// vault.DelegationDone.
func (f *Facade) UpdateTaskStatus(task *queue.DelegatedTask, status queue.Status, result, errMsg string) error {
	if err := f.Tasks.UpdateStatus(task, status, result, errMsg); err != nil {
		return err
	}
	if status == queue.StatusCompleted {
		completed, err := f.completedTaskIDs()
		if err != nil {
			return err
		}
		completed[task.TaskID] = true
		if _, err := f.Staged.PromoteReady(completed); err != nil {
			return err
		}
	}
	return nil
}

// completedTaskIDs scans vault.DelegationDone for task records whose
// status header is "completed", returning the set of their task ids.
func (f *Facade) completedTaskIDs() (map[string]bool, error) {
	names, err := f.Store.List(vault.DelegationDone)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(names))
	for _, name := range names {
		rec, err := f.Store.Read(filepath.Join(vault.DelegationDone, name))
		if err != nil {
			continue
		}
		if rec.Header["status"] != string(queue.StatusCompleted) {
			continue
		}
		if id := rec.Header["taskId"]; id != "" {
			ids[id] = true
		}
	}
	return ids, nil
}

// --- Live task output ---

func liveOutputPath(taskID string) string {
	return filepath.Join(vault.DelegationLive, taskID+".txt")
}

// WriteLiveChunk appends chunk to taskID's rolling live-output window,
// trimming the window to maxLiveChunkWindow bytes.
func (f *Facade) WriteLiveChunk(taskID, claimedBy, chunk string) error {
	rel := liveOutputPath(taskID)
	// The window is plain text, not a header/body record, so it is read
	// with os.ReadFile rather than Store.Read/ParseRecord.
	existing, _ := os.ReadFile(f.Store.Path(rel))
	current := string(existing) + chunk
	if len(current) > maxLiveChunkWindow {
		current = current[len(current)-maxLiveChunkWindow:]
	}
	return f.Store.Write(rel, current)
}

// ReadLiveOutput returns the current rolling window for taskID.
func (f *Facade) ReadLiveOutput(taskID string) (string, error) {
	raw, err := os.ReadFile(f.Store.Path(liveOutputPath(taskID)))
	if err != nil {
		return "", nil
	}
	return string(raw), nil
}

// DeleteLiveOutput removes the live-output window for taskID on task exit.
func (f *Facade) DeleteLiveOutput(taskID string) error {
	return f.Store.Remove(liveOutputPath(taskID))
}

// LiveTask describes an in-flight task for ListLiveTasks.
type LiveTask struct {
	TaskID     string
	UpdatedAt  time.Time
}

// ListLiveTasks returns task ids with a live-output window, most-recently
// updated first.
func (f *Facade) ListLiveTasks() ([]LiveTask, error) {
	names, err := f.Store.List(vault.DelegationLive)
	if err != nil {
		return nil, err
	}
	tasks := make([]LiveTask, 0, len(names))
	for _, name := range names {
		path := f.Store.Path(filepath.Join(vault.DelegationLive, name))
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		tasks = append(tasks, LiveTask{TaskID: strings.TrimSuffix(name, ".txt"), UpdatedAt: info.ModTime()})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt) })
	return tasks, nil
}

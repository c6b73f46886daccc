package queue

import (
	"path/filepath"

	"github.com/agenthq/relay/vault"
)

// Staged holds delegated tasks whose dependencies are not yet satisfied.
// PromoteReady moves a task into the main TaskQueue atomically (via
// rename-or-fail) once every dependency has reached a terminal-success
// status, guaranteeing a duplicate promotion call is a no-op.
type Staged struct {
	store *vault.Store
	tasks *TaskQueue
}

// NewStaged opens the staged-task holding area over _fbmq/staged.
func NewStaged(store *vault.Store, tasks *TaskQueue) *Staged {
	return &Staged{store: store, tasks: tasks}
}

// CreateOrStage enqueues t into the main TaskQueue if it has no
// dependencies, or into the staged area (dependency list intact)
// otherwise, per the staging rule.
func (s *Staged) CreateOrStage(t *DelegatedTask) error {
	if len(t.DependsOn) == 0 {
		return s.tasks.Enqueue(t)
	}
	return s.store.Write(filepath.Join(vault.Staged, taskFileName(t.TaskID)), vault.Encode(vault.DefaultHeaderOrder, t.ToRecord().Header, t.ToRecord().Body))
}

// PromoteReady scans the staged area and moves every task whose DependsOn
// set is now a subset of satisfiedTaskIDs into the main TaskQueue. Moves
// use rename-or-fail, so a task already promoted by a concurrent or prior
// call is simply absent from the staged directory and skipped.
func (s *Staged) PromoteReady(satisfiedTaskIDs map[string]bool) ([]string, error) {
	names, err := s.store.List(vault.Staged)
	if err != nil {
		return nil, err
	}
	var promoted []string
	for _, name := range names {
		rel := filepath.Join(vault.Staged, name)
		rec, err := s.store.Read(rel)
		if err != nil {
			continue
		}
		task := DelegatedTaskFromRecord(rec)
		if task == nil {
			continue
		}
		if !allSatisfied(task.DependsOn, satisfiedTaskIDs) {
			continue
		}
		src := s.store.Path(rel)
		dst := s.store.Path(filepath.Join(vault.DelegationPending, name))
		if err := vault.RenameOrFail(src, dst); err != nil {
			if err == vault.ErrClaimLost {
				continue // raced with another promotion pass: already moved
			}
			return promoted, err
		}
		promoted = append(promoted, task.TaskID)
	}
	if len(promoted) > 0 {
		s.tasks.e.notify()
	}
	return promoted, nil
}

func allSatisfied(dependsOn []string, satisfied map[string]bool) bool {
	for _, dep := range dependsOn {
		if !satisfied[dep] {
			return false
		}
	}
	return true
}

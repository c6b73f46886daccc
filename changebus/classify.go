package changebus

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/agenthq/relay/vault"
)

// classify translates a raw fsnotify event under vaultRoot into an event
// kind plus a small typed payload (e.g. jobId/taskId where determinable
// from the path), per the vault layout's recognized directories.
func classify(vaultRoot string, ev fsnotify.Event) (string, map[string]string) {
	rel, err := filepath.Rel(vaultRoot, ev.Name)
	if err != nil {
		return "", nil
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	id := strings.TrimSuffix(base, filepath.Ext(base))

	op := changeVerb(ev.Op)
	if op == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(rel, vault.JobsPending+"/") && op == "created":
		return "job:created", map[string]string{"jobId": id}
	case strings.HasPrefix(rel, vault.JobsProcessing+"/") && op == "created":
		return "job:claimed", map[string]string{"jobId": id}
	case strings.HasPrefix(rel, vault.JobsDone+"/") && op == "created":
		return doneJobKind(vaultRoot, rel, id)

	case strings.HasPrefix(rel, vault.DelegationPending+"/") && op == "created":
		return "task:created", map[string]string{"taskId": id}
	case strings.HasPrefix(rel, vault.DelegationProcessing+"/") && op == "created":
		return "task:claimed", map[string]string{"taskId": id}
	case strings.HasPrefix(rel, vault.DelegationDone+"/") && op == "created":
		return doneTaskKind(vaultRoot, rel, id)

	case strings.HasPrefix(rel, vault.NotesDir+"/"):
		return noteKind(op), map[string]string{"path": rel}

	case strings.HasPrefix(rel, vault.SystemDir+"/"):
		return "system:modified", map[string]string{"path": rel}

	case strings.HasPrefix(rel, vault.ApprovalsPending+"/") && op == "created":
		return "approval:created", map[string]string{"path": rel}
	case strings.HasPrefix(rel, vault.ApprovalsResolved+"/") && op == "created":
		return "approval:resolved", map[string]string{"path": rel}
	}
	return "", nil
}

func changeVerb(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "created"
	case op&fsnotify.Write != 0:
		return "modified"
	case op&fsnotify.Remove != 0:
		return "deleted"
	default:
		return ""
	}
}

func noteKind(op string) string {
	switch op {
	case "created":
		return "note:created"
	case "deleted":
		return "note:deleted"
	default:
		return "note:modified"
	}
}

// doneJobKind inspects the acked record's status to tell completion from
// failure, since both land in the same terminal directory.
func doneJobKind(vaultRoot, rel, jobID string) (string, map[string]string) {
	rec, err := (&vault.Store{Root: vaultRoot}).Read(rel)
	if err != nil {
		return "job:completed", map[string]string{"jobId": jobID}
	}
	if rec.Header["status"] == "failed" {
		return "job:failed", map[string]string{"jobId": jobID}
	}
	return "job:completed", map[string]string{"jobId": jobID}
}

func doneTaskKind(vaultRoot, rel, taskID string) (string, map[string]string) {
	rec, err := (&vault.Store{Root: vaultRoot}).Read(rel)
	if err != nil {
		return "task:completed", map[string]string{"taskId": taskID}
	}
	switch rec.Header["status"] {
	case "cancelled":
		return "task:cancelled", map[string]string{"taskId": taskID}
	case "failed":
		return "task:completed", map[string]string{"taskId": taskID} // app failure still surfaces via record status, not a distinct bus kind
	default:
		return "task:completed", map[string]string{"taskId": taskID}
	}
}

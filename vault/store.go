package vault

import (
	"os"
	"path/filepath"

	"github.com/agenthq/relay/errors"
)

// Store owns the rooted vault directory and its canonical subtrees. A
// missing vault root at construction is a hard error per the Facade's
// failure semantics.
type Store struct {
	Root string
}

// Canonical subtree names. Only the _fbmq layout is written to; _jobs is
// recognized read-only by MigrateLegacyJobs (see migrate.go) per the
// resolved "Open question" in DESIGN.md.
const (
	JobsPending    = "_fbmq/jobs/pending"
	JobsProcessing = "_fbmq/jobs/processing"
	JobsDone       = "_fbmq/jobs/done"

	DelegationPending    = "_fbmq/delegation/pending"
	DelegationProcessing = "_fbmq/delegation/processing"
	DelegationDone       = "_fbmq/delegation/done"
	Staged               = "_fbmq/staged"

	DelegationLive   = "_delegation/live"
	DelegationSignal = "_delegation/signals"

	ThreadsActive   = "_threads/active"
	ThreadsArchived = "_threads/archived"

	ApprovalsPending  = "_approvals/pending"
	ApprovalsResolved = "_approvals/resolved"

	SystemDir = "_system"
	UsageDir  = "_usage/daily"
	NotesDir  = "_notes"

	LegacyJobsPending = "_jobs/pending"
	LegacyJobsRunning = "_jobs/running"
	LegacyJobsDone    = "_jobs/done"
	LegacyJobsFailed  = "_jobs/failed"
)

var bootSubtrees = []string{
	JobsPending, JobsProcessing, JobsDone,
	DelegationPending, DelegationProcessing, DelegationDone, Staged,
	DelegationLive, DelegationSignal,
	ThreadsActive, ThreadsArchived,
	ApprovalsPending, ApprovalsResolved,
	SystemDir, UsageDir, NotesDir,
}

// Open validates that root exists and is a directory, then ensures every
// canonical subtree is present (creating missing ones — an existing vault
// predating the _fbmq layout still boots cleanly).
func Open(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "vault root %s is not accessible", root)
	}
	if !info.IsDir() {
		return nil, errors.Newf("vault root %s is not a directory", root)
	}
	s := &Store{Root: root}
	for _, sub := range bootSubtrees {
		if err := os.MkdirAll(s.Path(sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to initialize vault subtree %s", sub)
		}
	}
	return s, nil
}

// Path joins the vault root with the given relative subtree/file path.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Read reads and parses a record at the given vault-relative path.
func (s *Store) Read(rel string) (*Record, error) {
	raw, err := os.ReadFile(s.Path(rel))
	if err != nil {
		return nil, err
	}
	return ParseRecord(string(raw)), nil
}

// Write writes raw record text to a vault-relative path, creating parent
// directories as needed.
func (s *Store) Write(rel string, contents string) error {
	full := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create parent dir for %s", rel)
	}
	return os.WriteFile(full, []byte(contents), 0o644)
}

// List returns file names (not full paths) directly under a vault-relative
// directory, skipping lock files and subdirectories.
func (s *Store) List(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".lock" {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Remove deletes a vault-relative file. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	err := os.Remove(s.Path(rel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package queue

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/agenthq/relay/errors"
	"github.com/agenthq/relay/vault"
)

// engine is the shared rename-or-fail dequeue/claim/ack machinery behind
// both the job queue and the delegated-task queue, grounded on the
// subscriber-channel notification idiom of a generic job queue: a small
// core of list/sort/claim operations, with type-specific marshaling left
// to the caller.
type engine struct {
	store      *vault.Store
	pendingDir string
	procDir    string
	doneDir    string

	subscribers []chan struct{}
}

func newEngine(store *vault.Store, pendingDir, procDir, doneDir string) *engine {
	return &engine{store: store, pendingDir: pendingDir, procDir: procDir, doneDir: doneDir}
}

// candidate is a pending record's sort key plus its file name.
type candidate struct {
	name      string
	priority  int
	createdAt string // RFC3339Nano sorts lexically in time order
}

// listPending returns pending-dir candidates sorted by bucket descending,
// then FIFO (createdAt ascending) within a bucket.
func (e *engine) listPending() ([]candidate, error) {
	names, err := e.store.List(e.pendingDir)
	if err != nil {
		return nil, err
	}
	cands := make([]candidate, 0, len(names))
	for _, name := range names {
		rec, err := e.store.Read(filepath.Join(e.pendingDir, name))
		if err != nil {
			continue // unreadable: skip, scan continues
		}
		pr, _ := strconv.Atoi(rec.Header["priority"])
		cands = append(cands, candidate{name: name, priority: pr, createdAt: rec.Header["createdAt"]})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		bi, bj := BucketOf(cands[i].priority), BucketOf(cands[j].priority)
		if bi != bj {
			return bi > bj
		}
		return cands[i].createdAt < cands[j].createdAt
	})
	return cands, nil
}

// claimFirstMatching walks priority-sorted candidates and rename-or-fail
// moves the first one for which match returns true from pending to
// processing. Returns the claimed record and its processing-dir basename.
func (e *engine) claimFirstMatching(match func(rec *vault.Record) bool) (*vault.Record, string, error) {
	cands, err := e.listPending()
	if err != nil {
		return nil, "", err
	}
	for _, c := range cands {
		rec, err := e.store.Read(filepath.Join(e.pendingDir, c.name))
		if err != nil {
			continue
		}
		if !match(rec) {
			continue
		}
		src := e.store.Path(filepath.Join(e.pendingDir, c.name))
		dst := e.store.Path(filepath.Join(e.procDir, c.name))
		if err := vault.RenameOrFail(src, dst); err != nil {
			if errors.Is(err, vault.ErrClaimLost) {
				continue // another claimer (or a stale listing) won this one
			}
			return nil, "", err
		}
		return rec, c.name, nil
	}
	return nil, "", nil
}

// writeProcessing rewrites a record already in the processing directory.
func (e *engine) writeProcessing(name string, rec *vault.Record, order []string) error {
	return e.store.Write(filepath.Join(e.procDir, name), vault.Encode(order, rec.Header, rec.Body))
}

// ack moves a processing-dir record to its terminal done location.
func (e *engine) ack(name string) error {
	src := e.store.Path(filepath.Join(e.procDir, name))
	dst := e.store.Path(filepath.Join(e.doneDir, name))
	return vault.RenameOrFail(src, dst)
}

// enqueue writes a new record directly into the pending directory.
func (e *engine) enqueue(name string, rec *vault.Record, order []string) error {
	return e.store.Write(filepath.Join(e.pendingDir, name), vault.Encode(order, rec.Header, rec.Body))
}

// notify signals all subscribers without blocking; a subscriber that
// isn't ready to receive misses this notification (it will pick up the
// change on its next poll via the change bus instead).
func (e *engine) notify() {
	for _, ch := range e.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel signaled (non-blocking, best-effort) after
// every enqueue/claim/ack on this engine.
func (e *engine) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 8)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

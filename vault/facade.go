package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agenthq/relay/errors"
)

// Facade is the vault's typed CRUD + search API for the record kinds that
// are opaque at the queue layer (notes, threads, memory, usage). Job and
// delegated-task operations sit one level up, in package facade, which
// composes this type with package queue's PQ/TaskQueue/Staged — keeping
// queue's dependency on vault one-directional.
type Facade struct {
	Store *Store
}

// NewFacade constructs a Facade over an already-open Store.
func NewFacade(store *Store) *Facade {
	return &Facade{Store: store}
}

// --- Notes ---

// Note is an opaque titled record under _notes.
type Note struct {
	ID      string
	Title   string
	Body    string
	Version int
}

func (f *Facade) notePath(id string) string { return filepath.Join(NotesDir, id+".md") }

// CreateNote writes a new note record, version 1.
func (f *Facade) CreateNote(id, title, body string) error {
	header := map[string]string{"title": title}
	header["version"] = strconv.Itoa(NextVersion(header))
	rec := &Record{Header: header, Body: body}
	return f.Store.Write(f.notePath(id), Encode([]string{"title", "version"}, rec.Header, rec.Body))
}

// GetNote reads a note by id.
func (f *Facade) GetNote(id string) (*Note, error) {
	rec, err := f.Store.Read(f.notePath(id))
	if err != nil {
		return nil, err
	}
	version, _ := strconv.Atoi(rec.Header["version"])
	return &Note{ID: id, Title: rec.Header["title"], Body: rec.Body, Version: version}, nil
}

// UpdateNote rewrites a note's body under a stale-bounded per-path lock,
// so concurrent writers serialize at file granularity.
func (f *Facade) UpdateNote(id, body string, lockMaxAge time.Duration) error {
	full := f.Store.Path(f.notePath(id))
	lock := NewLock(full, lockMaxAge)
	if err := lock.Acquire("facade"); err != nil {
		return err
	}
	defer lock.Release()

	note, err := f.GetNote(id)
	if err != nil {
		return err
	}
	header := map[string]string{"title": note.Title, "version": strconv.Itoa(note.Version)}
	header["version"] = strconv.Itoa(NextVersion(header))
	rec := &Record{Header: header, Body: body}
	return f.Store.Write(f.notePath(id), Encode([]string{"title", "version"}, rec.Header, rec.Body))
}

// SearchNotes does a case-insensitive substring scan over title + body
// (no external search index — out of scope per the vault's note-schema
// boundary).
func (f *Facade) SearchNotes(query string, limit int) ([]Note, error) {
	names, err := f.Store.List(NotesDir)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var hits []Note
	for _, name := range names {
		rec, err := f.Store.Read(filepath.Join(NotesDir, name))
		if err != nil {
			continue
		}
		title := rec.Header["title"]
		if strings.Contains(strings.ToLower(title), q) || strings.Contains(strings.ToLower(rec.Body), q) {
			version, _ := strconv.Atoi(rec.Header["version"])
			hits = append(hits, Note{ID: strings.TrimSuffix(name, ".md"), Title: title, Body: rec.Body, Version: version})
		}
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// --- Threads ---

// AppendThreadMessage appends a "## Role (HH:MM)" section to a thread
// record, creating the thread if it doesn't exist.
func (f *Facade) AppendThreadMessage(threadID, role, content string) error {
	rel := filepath.Join(ThreadsActive, threadID+".md")
	existing, err := f.Store.Read(rel)
	header := map[string]string{"threadId": threadID}
	body := ""
	if err == nil {
		header = existing.Header
		body = existing.Body
	}
	header["version"] = strconv.Itoa(NextVersion(header))
	section := fmt.Sprintf("\n## %s (%s)\n%s\n", titleCase(role), time.Now().Format("15:04"), content)
	body += section
	return f.Store.Write(rel, Encode([]string{"threadId", "version"}, header, body))
}

// ListThreads returns thread ids under _threads/active in reverse lexical
// order of their file names; modification times are not consulted (the
// Command Handler truncates to the first 10).
func (f *Facade) ListThreads() ([]string, error) {
	names, err := f.Store.List(ThreadsActive)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, strings.TrimSuffix(n, ".md"))
	}
	return ids, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// --- Memory / system records ---

// GetSystemRecord reads a _system/<name>.md record's body, stripping the
// header (callers want prose, not metadata).
func (f *Facade) GetSystemRecord(name string) (string, error) {
	rec, err := f.Store.Read(filepath.Join(SystemDir, name+".md"))
	if err != nil {
		return "", err
	}
	return rec.Body, nil
}

// AppendMemoryFact appends a REMEMBER-tag-derived fact line to MEMORY.md.
func (f *Facade) AppendMemoryFact(fact string) error {
	return f.appendMemorySection("- " + fact)
}

// AppendMemoryGoal appends a GOAL-tag-derived goal line, with an optional
// deadline annotation.
func (f *Facade) AppendMemoryGoal(goal, deadline string) error {
	line := "- [ ] " + goal
	if deadline != "" {
		line += " (deadline: " + deadline + ")"
	}
	return f.appendMemorySection(line)
}

// MarkGoalDone finds an open goal line matching searchText and strikes it
// through. Returns false if no matching open goal was found.
func (f *Facade) MarkGoalDone(searchText string) (bool, error) {
	rel := filepath.Join(SystemDir, "MEMORY.md")
	rec, err := f.Store.Read(rel)
	if err != nil {
		return false, nil
	}
	lines := strings.Split(rec.Body, "\n")
	found := false
	needle := strings.ToLower(searchText)
	for i, line := range lines {
		if strings.HasPrefix(line, "- [ ] ") && strings.Contains(strings.ToLower(line), needle) {
			lines[i] = "- [x] ~~" + strings.TrimPrefix(line, "- [ ] ") + "~~"
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	rec.Body = strings.Join(lines, "\n")
	rec.Header["version"] = strconv.Itoa(NextVersion(rec.Header))
	return true, f.Store.Write(rel, Encode([]string{"version"}, rec.Header, rec.Body))
}

func (f *Facade) appendMemorySection(line string) error {
	rel := filepath.Join(SystemDir, "MEMORY.md")
	rec, err := f.Store.Read(rel)
	header := map[string]string{}
	body := ""
	if err == nil {
		header = rec.Header
		body = rec.Body
	}
	header["version"] = strconv.Itoa(NextVersion(header))
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	body += line + "\n"
	return f.Store.Write(rel, Encode([]string{"version"}, header, body))
}

// --- Usage ---

// AppendUsage appends a usage line to today's daily usage log. The daily
// log is plain text (one usage line per line), not a header/body record,
// so it's read back with os.ReadFile rather than Store.Read/ParseRecord —
// a headerless line like "[chat] job=j-1 tokens=120" has no ":" before any
// blank line and would otherwise be swallowed as a malformed header.
func (f *Facade) AppendUsage(line string) error {
	day := time.Now().Format("2006-01-02")
	rel := filepath.Join(UsageDir, day+".md")
	existing, err := os.ReadFile(f.Store.Path(rel))
	body := ""
	if err == nil {
		body = string(existing)
	}
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	body += line + "\n"
	return f.Store.Write(rel, body)
}

// --- Approvals ---

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("record not found")

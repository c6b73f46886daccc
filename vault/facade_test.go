package vault

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	return NewFacade(newTestStore(t))
}

func TestFacade_CreateAndGetNote(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.CreateNote("n1", "Title", "body text"))

	note, err := f.GetNote("n1")
	require.NoError(t, err)
	require.Equal(t, "Title", note.Title)
	require.Equal(t, "body text", note.Body)
	require.Equal(t, 1, note.Version)
}

func TestFacade_UpdateNoteBumpsVersion(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.CreateNote("n1", "Title", "body v1"))
	require.NoError(t, f.UpdateNote("n1", "body v2", time.Minute))

	note, err := f.GetNote("n1")
	require.NoError(t, err)
	require.Equal(t, 2, note.Version)
	require.Equal(t, "body v2", note.Body)
}

func TestFacade_SearchNotesMatchesTitleOrBody(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.CreateNote("n1", "Deploy checklist", "steps for rollout"))
	require.NoError(t, f.CreateNote("n2", "Unrelated", "nothing relevant here"))

	hits, err := f.SearchNotes("deploy", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "n1", hits[0].ID)
}

func TestFacade_SearchNotesRespectsLimit(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.CreateNote("n1", "match one", "x"))
	require.NoError(t, f.CreateNote("n2", "match two", "x"))

	hits, err := f.SearchNotes("match", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestFacade_AppendThreadMessageCreatesThenAppends(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.AppendThreadMessage("t1", "user", "hello"))
	require.NoError(t, f.AppendThreadMessage("t1", "assistant", "hi there"))

	ids, err := f.ListThreads()
	require.NoError(t, err)
	require.Contains(t, ids, "t1")
}

func TestFacade_MemoryFactAndGoalAppendToSameRecord(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.AppendMemoryFact("likes dark mode"))
	require.NoError(t, f.AppendMemoryGoal("ship the relay", "2026-08-01"))

	body, err := f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, body, "likes dark mode")
	require.Contains(t, body, "ship the relay")
	require.Contains(t, body, "2026-08-01")
}

func TestFacade_MarkGoalDoneStrikesMatchingLine(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.AppendMemoryGoal("ship the relay", ""))

	found, err := f.MarkGoalDone("ship the relay")
	require.NoError(t, err)
	require.True(t, found)

	body, err := f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, body, "- [x] ~~ship the relay~~")
}

func TestFacade_MarkGoalDoneReturnsFalseWhenNoMatch(t *testing.T) {
	f := newTestFacade(t)
	found, err := f.MarkGoalDone("nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFacade_AppendUsageAccumulatesLines(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.AppendUsage("model=gpt-4o-mini tokens=120"))
	require.NoError(t, f.AppendUsage("model=gpt-4o-mini tokens=80"))

	day := time.Now().Format("2006-01-02")
	// The daily log is plain text, not a header/body record, so it is read
	// back directly rather than through Store.Read/ParseRecord.
	raw, err := os.ReadFile(f.Store.Path(UsageDir + "/" + day + ".md"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "tokens=120")
	require.Contains(t, string(raw), "tokens=80")
}

package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenthq/relay/queue"
	"github.com/agenthq/relay/vault"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	store, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	return New(store, nil)
}

func TestDependencyStagingScenario(t *testing.T) {
	f := newTestFacade(t)

	ids, err := f.CreateDelegatedTasks("job-1", []TaskSpec{
		{Instruction: "research approach", TargetHarnessType: "gemini-cli"},
	})
	require.NoError(t, err)
	researchID := ids[0]

	ids, err = f.CreateDelegatedTasks("job-1", []TaskSpec{
		{Instruction: "implement fix", TargetHarnessType: "claude-code", DependsOn: []string{researchID}},
	})
	require.NoError(t, err)
	codeID := ids[0]

	none, err := f.GetPendingTasks("claude-code")
	require.NoError(t, err)
	require.Nil(t, none)

	research, err := f.GetPendingTasks("gemini-cli")
	require.NoError(t, err)
	require.NotNil(t, research)
	ok, err := f.ClaimTask(research, "relay-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.UpdateTaskStatus(research, queue.StatusCompleted, "done researching", ""))

	ready, err := f.GetPendingTasks("claude-code")
	require.NoError(t, err)
	require.NotNil(t, ready)
	require.Equal(t, codeID, ready.TaskID)
}

func TestDependencyStagingScenario_PromotesOnlyAfterAllDependenciesComplete(t *testing.T) {
	f := newTestFacade(t)

	ids, err := f.CreateDelegatedTasks("job-1", []TaskSpec{
		{Instruction: "research approach", TargetHarnessType: "gemini-cli"},
		{Instruction: "draft design doc", TargetHarnessType: "gemini-cli"},
	})
	require.NoError(t, err)
	dep1, dep2 := ids[0], ids[1]

	ids, err = f.CreateDelegatedTasks("job-1", []TaskSpec{
		{Instruction: "implement fix", TargetHarnessType: "claude-code", DependsOn: []string{dep1, dep2}},
	})
	require.NoError(t, err)
	codeID := ids[0]

	first, err := f.GetPendingTasks("gemini-cli")
	require.NoError(t, err)
	require.NotNil(t, first)
	ok, err := f.ClaimTask(first, "relay-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.UpdateTaskStatus(first, queue.StatusCompleted, "done", ""))

	// Only one of the two dependencies has completed: the dependent task
	// must still be staged, not promoted on the single-id set.
	stillStaged, err := f.GetPendingTasks("claude-code")
	require.NoError(t, err)
	require.Nil(t, stillStaged)

	second, err := f.GetPendingTasks("gemini-cli")
	require.NoError(t, err)
	require.NotNil(t, second)
	ok, err = f.ClaimTask(second, "relay-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.UpdateTaskStatus(second, queue.StatusCompleted, "done", ""))

	// Both dependencies are now completed: promotion must use the
	// cumulative set, not just the id that just completed.
	ready, err := f.GetPendingTasks("claude-code")
	require.NoError(t, err)
	require.NotNil(t, ready)
	require.Equal(t, codeID, ready.TaskID)
}

func TestLiveOutputWindow(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.WriteLiveChunk("task-1", "relay-1", "hello "))
	require.NoError(t, f.WriteLiveChunk("task-1", "relay-1", "world"))

	out, err := f.ReadLiveOutput("task-1")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)

	require.NoError(t, f.DeleteLiveOutput("task-1"))
	out, err = f.ReadLiveOutput("task-1")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMemoryTagAppendsAndMarksDone(t *testing.T) {
	f := newTestFacade(t)
	require.NoError(t, f.AppendMemoryFact("User prefers concise answers"))
	require.NoError(t, f.AppendMemoryGoal("Ship v1", "2025-06-01"))

	body, err := f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, body, "User prefers concise answers")
	require.Contains(t, body, "Ship v1")
	require.Contains(t, body, "2025-06-01")

	ok, err := f.MarkGoalDone("Ship v1")
	require.NoError(t, err)
	require.True(t, ok)

	body, err = f.GetSystemRecord("MEMORY")
	require.NoError(t, err)
	require.Contains(t, body, "~~Ship v1")
}

package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeLegacy(t *testing.T, s *Store, dir, name, body string) {
	t.Helper()
	require.NoError(t, s.Write(dir+"/"+name, Encode(DefaultHeaderOrder, map[string]string{
		"jobId": "job-" + name,
		"type":  "job",
	}, body)))
}

func TestMigrateLegacyJobs_MovesEachBucketToCanonicalTarget(t *testing.T) {
	s := newTestStore(t)
	writeLegacy(t, s, LegacyJobsPending, "a.md", "pending body")
	writeLegacy(t, s, LegacyJobsRunning, "b.md", "running body")
	writeLegacy(t, s, LegacyJobsDone, "c.md", "done body")
	writeLegacy(t, s, LegacyJobsFailed, "d.md", "failed body")

	n, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	pending, err := s.Read(JobsPending + "/a.md")
	require.NoError(t, err)
	require.Equal(t, "pending", pending.Header["status"])

	running, err := s.Read(JobsProcessing + "/b.md")
	require.NoError(t, err)
	require.Equal(t, "running", running.Header["status"])

	done, err := s.Read(JobsDone + "/c.md")
	require.NoError(t, err)
	require.Equal(t, "done", done.Header["status"])
	require.Equal(t, "done body", done.Body)

	failed, err := s.Read(JobsDone + "/d.md")
	require.NoError(t, err)
	require.Equal(t, "failed", failed.Header["status"])
}

func TestMigrateLegacyJobs_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	writeLegacy(t, s, LegacyJobsPending, "a.md", "pending body")

	n1, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

func TestMigrateLegacyJobs_SkipsNonMarkdownFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(LegacyJobsPending+"/README.txt", "not a job record"))

	n, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	names, err := s.List(JobsPending)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestMigrateLegacyJobs_NoLegacyTreeIsNoop(t *testing.T) {
	s := newTestStore(t)

	n, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMigrateLegacyJobs_FillsMissingJobIDFromFileName(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(LegacyJobsPending+"/untagged.md", Encode(DefaultHeaderOrder, map[string]string{
		"type": "job",
	}, "body")))

	n, err := MigrateLegacyJobs(s)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := s.Read(JobsPending + "/untagged.md")
	require.NoError(t, err)
	require.Equal(t, "untagged", rec.Header["jobId"])
}

package vault

import (
	"strings"
)

// legacyBucket maps one legacy `_jobs/<bucket>` directory to the canonical
// directory and status value its records are migrated into. `_jobs/failed`
// migrates into the same canonical JobsDone directory as `_jobs/done` — per
// the resolved layout decision, a record's terminal status lives in its own
// status header, never in which bucket it's filed under.
var legacyBucket = []struct {
	dir    string
	status string
	target string
}{
	{LegacyJobsPending, "pending", JobsPending},
	{LegacyJobsRunning, "running", JobsProcessing},
	{LegacyJobsDone, "done", JobsDone},
	{LegacyJobsFailed, "failed", JobsDone},
}

// MigrateLegacyJobs copies every record under the legacy `_jobs/*` tree
// into the canonical `_fbmq/jobs/*` layout, run once at boot. It never
// writes to or deletes from the legacy tree — Store.Open still recognizes
// it read-only, per the resolved "two job directory layouts" Open Question.
// A record already present at the canonical path (by file name) is left
// untouched, so repeated boots are idempotent and a canonical write always
// wins over a stale legacy copy.
func MigrateLegacyJobs(s *Store) (int, error) {
	migrated := 0
	for _, b := range legacyBucket {
		names, err := s.List(b.dir)
		if err != nil {
			return migrated, err
		}
		for _, name := range names {
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			targetRel := b.target + "/" + name
			if _, err := s.Read(targetRel); err == nil {
				continue // already migrated
			}

			rec, err := s.Read(b.dir + "/" + name)
			if err != nil {
				continue // unreadable: skip, migration continues
			}
			jobID := rec.Header["jobId"]
			if jobID == "" {
				jobID = strings.TrimSuffix(name, ".md")
			}
			rec.Header["jobId"] = jobID
			rec.Header["status"] = b.status

			if err := s.Write(targetRel, Encode(DefaultHeaderOrder, rec.Header, rec.Body)); err != nil {
				return migrated, err
			}
			migrated++
		}
	}
	return migrated, nil
}

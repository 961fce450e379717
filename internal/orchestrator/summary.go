package orchestrator

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/pipeline"
)

// Summary condenses a run's table results.
type Summary struct {
	Tables    int
	Succeeded int
	Failed    int
	Skipped   int
	Rows      int64
	Elapsed   time.Duration
}

// Summarize builds a summary from table results.
func (r *RunResult) Summarize() Summary {
	byStatus := lo.CountValuesBy(r.Results, func(res *pipeline.Result) pipeline.Status {
		return res.Status
	})

	return Summary{
		Tables:    len(r.Results),
		Succeeded: byStatus[pipeline.StatusSuccess],
		Failed:    byStatus[pipeline.StatusFailed],
		Skipped:   byStatus[pipeline.StatusSkipped],
		Rows: lo.SumBy(r.Results, func(res *pipeline.Result) int64 {
			return res.Stats.Rows
		}),
		Elapsed: lo.SumBy(r.Results, func(res *pipeline.Result) time.Duration {
			return res.Stats.Elapsed
		}),
	}
}

// HasFailures reports whether any table hard-failed.
func (r *RunResult) HasFailures() bool {
	return lo.SomeBy(r.Results, func(res *pipeline.Result) bool {
		return res.Failed()
	})
}

// Failures returns the failed results, sorted by table name.
func (r *RunResult) Failures() []*pipeline.Result {
	failed := lo.Filter(r.Results, func(res *pipeline.Result, _ int) bool {
		return res.Failed()
	})
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].Table < failed[j].Table
	})
	return failed
}

// Log writes the run summary and any failures to the log.
func (r *RunResult) Log() {
	s := r.Summarize()
	logging.Info("Run %s complete: %d tables, %d succeeded, %d failed, %d skipped, %d rows",
		r.RunID, s.Tables, s.Succeeded, s.Failed, s.Skipped, s.Rows)

	for _, res := range r.Failures() {
		logging.Error("  %s: %v", res.Table, res.Err)
	}
	for _, res := range r.Results {
		if res.Status == pipeline.StatusSkipped {
			logging.Info("  %s skipped: %s", res.Table, res.SkipNote)
		}
	}
}

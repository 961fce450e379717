package orchestrator

import (
	"errors"
	"testing"

	"github.com/johndauphine/mysql-bq-replicate/internal/pipeline"
)

func TestSummarize(t *testing.T) {
	r := &RunResult{Results: []*pipeline.Result{
		{Table: "orders", Status: pipeline.StatusSuccess, Stats: pipeline.Stats{Rows: 100}},
		{Table: "customers", Status: pipeline.StatusSuccess, Stats: pipeline.Stats{Rows: 50}},
		{Table: "order_items", Status: pipeline.StatusSkipped},
		{Table: "audit_log", Status: pipeline.StatusFailed, Err: errors.New("boom")},
	}}

	s := r.Summarize()
	if s.Tables != 4 || s.Succeeded != 2 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.Rows != 150 {
		t.Errorf("rows = %d, want 150", s.Rows)
	}

	if !r.HasFailures() {
		t.Error("HasFailures() = false")
	}

	failures := r.Failures()
	if len(failures) != 1 || failures[0].Table != "audit_log" {
		t.Errorf("failures = %v", failures)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	r := &RunResult{}
	if r.HasFailures() {
		t.Error("HasFailures() on empty run = true")
	}
	if s := r.Summarize(); s.Tables != 0 || s.Rows != 0 {
		t.Errorf("summary = %+v", s)
	}
}

package pipeline

import (
	"strings"
	"testing"
	"time"
)

func TestStatsString(t *testing.T) {
	s := &Stats{}
	if got := s.String(); got != "no data" {
		t.Errorf("String() = %q", got)
	}

	s = &Stats{Rows: 1000, Chunks: 2, LoadTime: 2 * time.Second, Elapsed: 4 * time.Second}
	got := s.String()
	for _, want := range []string{"rows=1000", "chunks=2", "load=2.0s (50%)", "total=4.0s"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}

func TestStatsRowsPerSecond(t *testing.T) {
	s := &Stats{Rows: 500, Elapsed: 2 * time.Second}
	if got := s.RowsPerSecond(); got != 250 {
		t.Errorf("RowsPerSecond() = %v, want 250", got)
	}
	if got := (&Stats{}).RowsPerSecond(); got != 0 {
		t.Errorf("RowsPerSecond() on empty stats = %v", got)
	}
}

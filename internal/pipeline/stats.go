package pipeline

import (
	"fmt"
	"time"
)

// Stats tracks timing and volume for one table replication.
type Stats struct {
	// LoadTime is total time spent writing chunks to the target.
	LoadTime time.Duration

	// Elapsed is wall time for the whole table.
	Elapsed time.Duration

	// Rows is the number of rows loaded.
	Rows int64

	// Chunks is the number of chunks loaded.
	Chunks int
}

// String returns a formatted summary of the stats.
func (s *Stats) String() string {
	if s.Elapsed == 0 {
		return "no data"
	}
	return fmt.Sprintf("rows=%d, chunks=%d, load=%.1fs (%.0f%%), total=%.1fs",
		s.Rows, s.Chunks,
		s.LoadTime.Seconds(), float64(s.LoadTime)/float64(s.Elapsed)*100,
		s.Elapsed.Seconds())
}

// RowsPerSecond calculates the throughput.
func (s *Stats) RowsPerSecond() float64 {
	if s.Elapsed == 0 {
		return 0
	}
	return float64(s.Rows) / s.Elapsed.Seconds()
}

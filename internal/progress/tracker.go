// Package progress renders a terminal progress bar over all tables in
// a replication run.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks replication progress. Row totals are estimates that
// grow as tables start, so the bar's max is adjusted on the fly.
type Tracker struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	quiet     bool
	total     int64
	current   atomic.Int64
	tables    atomic.Int64
	startTime time.Time
}

// New creates a progress tracker. With quiet set, no bar is rendered
// and only the final summary prints.
func New(quiet bool) *Tracker {
	t := &Tracker{
		quiet:     quiet,
		startTime: time.Now(),
	}
	if !quiet {
		t.bar = progressbar.NewOptions64(
			0,
			progressbar.OptionSetDescription("Replicating"),
			progressbar.OptionShowBytes(false),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	return t
}

// StartTable registers a table and its estimated row count. Estimates
// of 0 mean unknown and leave the total unchanged.
func (t *Tracker) StartTable(table string, estimatedRows int64) {
	t.tables.Add(1)
	if estimatedRows <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += estimatedRows
	if t.bar != nil {
		t.bar.ChangeMax64(t.total)
	}
}

// Add increments the row counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.mu.Lock()
		t.bar.Add64(n)
		t.mu.Unlock()
	}
}

// Current returns the rows loaded so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish completes the bar and prints a run summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()
	fmt.Printf("Loaded %d rows across %d tables in %s (%.0f rows/sec)\n",
		t.current.Load(), t.tables.Load(), elapsed.Round(time.Second), rowsPerSec)
}

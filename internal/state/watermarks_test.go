package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "plex", "orders")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("Get() found a watermark before any run")
	}

	if err := s.RecordSuccess(ctx, "plex", "orders", 3, 12345); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	w, ok, err := s.Get(ctx, "plex", "orders")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() did not find the recorded watermark")
	}
	if w.LookbackDays != 3 || w.RowsLoaded != 12345 {
		t.Errorf("watermark = %+v", w)
	}
	if time.Since(w.LastSuccess) > time.Minute {
		t.Errorf("last success %v is stale", w.LastSuccess)
	}
}

func TestRecordSuccessUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordSuccess(ctx, "plex", "orders", 3, 100); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if err := s.RecordSuccess(ctx, "plex", "orders", 7, 200); err != nil {
		t.Fatalf("RecordSuccess() second error = %v", err)
	}

	w, _, err := s.Get(ctx, "plex", "orders")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w.LookbackDays != 7 || w.RowsLoaded != 200 {
		t.Errorf("watermark after upsert = %+v", w)
	}
}

func TestCheckGap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Unknown table: nothing to compare against.
	gap, err := s.CheckGap(ctx, "plex", "orders", 3)
	if err != nil {
		t.Fatalf("CheckGap() error = %v", err)
	}
	if gap != 0 {
		t.Errorf("gap = %v for unseen table, want 0", gap)
	}

	if err := s.RecordSuccess(ctx, "plex", "orders", 3, 100); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	// Fresh run, a 3 day window easily covers it.
	gap, err = s.CheckGap(ctx, "plex", "orders", 3)
	if err != nil {
		t.Fatalf("CheckGap() error = %v", err)
	}
	if gap != 0 {
		t.Errorf("gap = %v right after a run, want 0", gap)
	}

	// Backdate the watermark past the window.
	old := time.Now().UTC().Add(-5 * 24 * time.Hour)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE watermarks SET last_success = ? WHERE database_name = ? AND table_name = ?`,
		old, "plex", "orders"); err != nil {
		t.Fatalf("backdating watermark: %v", err)
	}

	gap, err = s.CheckGap(ctx, "plex", "orders", 3)
	if err != nil {
		t.Fatalf("CheckGap() error = %v", err)
	}
	if gap < 47*time.Hour || gap > 49*time.Hour {
		t.Errorf("gap = %v, want about 48h", gap)
	}
}

func TestAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, tbl := range []string{"orders", "customers"} {
		if err := s.RecordSuccess(ctx, "plex", tbl, 3, 10); err != nil {
			t.Fatalf("RecordSuccess(%s) error = %v", tbl, err)
		}
	}
	if err := s.RecordSuccess(ctx, "quantio", "sessions", 3, 10); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All() returned %d watermarks, want 3", len(all))
	}
	if all[0].Table != "customers" || all[1].Table != "orders" || all[2].Database != "quantio" {
		t.Errorf("All() order = %v", all)
	}
}

package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeCatalog struct {
	existing map[string]bool
	err      error
}

func (f *fakeCatalog) TableExists(_ context.Context, table string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.existing[table], nil
}

func (f *fakeCatalog) QualifiedName(table string) string {
	return fmt.Sprintf("`proj.warehouse.%s`", table)
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("ParseRegistry() error = %v", err)
	}
	return reg
}

func defaultOpts() ResolveOpts {
	return ResolveOpts{
		LookbackDays:     3,
		Prefix:           "plex_",
		DefaultChunkSize: 100000,
	}
}

func TestResolveFullRefresh(t *testing.T) {
	reg := testRegistry(t)
	cat := &fakeCatalog{}

	plan, err := reg.Resolve(context.Background(), "plex", "products", defaultOpts(), cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !plan.Replace {
		t.Error("full refresh plan should replace the target table")
	}
	if plan.Extraction != "" || plan.Reconciliation != "" {
		t.Errorf("full refresh plan carries predicates: %q / %q", plan.Extraction, plan.Reconciliation)
	}
	if plan.ChunkSize != 100000 {
		t.Errorf("chunk size = %d, want default 100000", plan.ChunkSize)
	}
}

func TestResolveWatermark(t *testing.T) {
	reg := testRegistry(t)
	cat := &fakeCatalog{}

	plan, err := reg.Resolve(context.Background(), "plex", "orders", defaultOpts(), cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Replace {
		t.Error("incremental plan should not replace the target table")
	}

	wantExtraction := "(`updated_at` IS NOT NULL AND `updated_at` >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY))" +
		" OR (`created_at` IS NOT NULL AND `created_at` >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY))"
	if plan.Extraction != wantExtraction {
		t.Errorf("extraction = %q, want %q", plan.Extraction, wantExtraction)
	}

	wantReconciliation := "(updated_at IS NOT NULL AND DATE(updated_at) >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY))" +
		" OR (created_at IS NOT NULL AND DATE(created_at) >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY))"
	if plan.Reconciliation != wantReconciliation {
		t.Errorf("reconciliation = %q, want %q", plan.Reconciliation, wantReconciliation)
	}
}

func TestResolveWatermarkChunkSizeOverride(t *testing.T) {
	reg := testRegistry(t)

	plan, err := reg.Resolve(context.Background(), "plex", "audit_log", defaultOpts(), &fakeCatalog{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.ChunkSize != 25000 {
		t.Errorf("chunk size = %d, want table override 25000", plan.ChunkSize)
	}
}

func TestResolveForceFull(t *testing.T) {
	reg := testRegistry(t)
	opts := defaultOpts()
	opts.ForceFull = true

	plan, err := reg.Resolve(context.Background(), "plex", "orders", opts, &fakeCatalog{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !plan.Replace || plan.Kind != FullRefresh {
		t.Errorf("forced plan = %+v, want full refresh replace", plan)
	}
	if plan.Extraction != "" {
		t.Errorf("forced plan carries extraction predicate %q", plan.Extraction)
	}
}

func TestResolveJoinChild(t *testing.T) {
	reg := testRegistry(t)
	cat := &fakeCatalog{existing: map[string]bool{"plex_orders": true}}

	plan, err := reg.Resolve(context.Background(), "plex", "order_items", defaultOpts(), cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if !strings.HasPrefix(plan.Extraction, "`order_id` IN (SELECT `order_id` FROM `plex`.`orders` WHERE ") {
		t.Errorf("extraction = %q", plan.Extraction)
	}
	if !strings.Contains(plan.Extraction, "`updated_at` >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY)") {
		t.Errorf("extraction should window on the parent watermark: %q", plan.Extraction)
	}

	if !strings.HasPrefix(plan.Reconciliation, "order_id IN (SELECT order_id FROM `proj.warehouse.plex_orders` WHERE ") {
		t.Errorf("reconciliation = %q", plan.Reconciliation)
	}
	if !strings.Contains(plan.Reconciliation, "DATE(updated_at) >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY)") {
		t.Errorf("reconciliation should window on the parent watermark: %q", plan.Reconciliation)
	}
}

func TestResolveJoinChildMissingParent(t *testing.T) {
	reg := testRegistry(t)
	cat := &fakeCatalog{existing: map[string]bool{}}

	_, err := reg.Resolve(context.Background(), "plex", "order_items", defaultOpts(), cat)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("Resolve() error = %v, want ErrMissingDependency", err)
	}
	if !strings.Contains(err.Error(), "plex_orders") {
		t.Errorf("error %v should name the missing parent target table", err)
	}
}

func TestResolveJoinChildCatalogError(t *testing.T) {
	reg := testRegistry(t)
	cat := &fakeCatalog{err: errors.New("permission denied")}

	_, err := reg.Resolve(context.Background(), "plex", "order_items", defaultOpts(), cat)
	if err == nil {
		t.Fatal("Resolve() error = nil, want catalog error")
	}
	if errors.Is(err, ErrMissingDependency) {
		t.Error("catalog failure must not be reported as a missing dependency")
	}
}

func TestResolveRejectsNonPositiveLookback(t *testing.T) {
	reg := testRegistry(t)
	opts := defaultOpts()
	opts.LookbackDays = 0

	_, err := reg.Resolve(context.Background(), "plex", "orders", opts, &fakeCatalog{})
	if !errors.Is(err, ErrStrategyMisconfigured) {
		t.Fatalf("Resolve() error = %v, want ErrStrategyMisconfigured", err)
	}
}

package source

import (
	"strings"
	"testing"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"orders", "`orders`"},
		{"order_items", "`order_items`"},
		{"weird`name", "`weird``name`"},
	}

	for _, tt := range tests {
		if got := QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQualifyTable(t *testing.T) {
	if got := QualifyTable("plex", "orders"); got != "`plex`.`orders`" {
		t.Errorf("QualifyTable() = %q", got)
	}
	if got := QualifyTable("", "orders"); got != "`orders`" {
		t.Errorf("QualifyTable() without database = %q", got)
	}
}

func TestBuildKeysetQuery(t *testing.T) {
	got := buildKeysetQuery("`id`, `name`", "id", "plex", "orders", "", false)
	want := "SELECT `id`, `name` FROM `plex`.`orders` WHERE `id` > ? ORDER BY `id` LIMIT ?"
	if got != want {
		t.Errorf("buildKeysetQuery() = %q, want %q", got, want)
	}
}

func TestBuildKeysetQueryFirstChunkHasNoLowerBound(t *testing.T) {
	got := buildKeysetQuery("`id`", "id", "plex", "orders", "", true)
	want := "SELECT `id` FROM `plex`.`orders` ORDER BY `id` LIMIT ?"
	if got != want {
		t.Errorf("buildKeysetQuery() = %q, want %q", got, want)
	}

	got = buildKeysetQuery("`id`", "id", "plex", "orders", "`id` >= 0", true)
	want = "SELECT `id` FROM `plex`.`orders` WHERE (`id` >= 0) ORDER BY `id` LIMIT ?"
	if got != want {
		t.Errorf("buildKeysetQuery() with filter = %q, want %q", got, want)
	}
}

func TestBuildKeysetQueryWithFilter(t *testing.T) {
	got := buildKeysetQuery("`id`", "id", "plex", "orders", "`updated_at` >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY)", false)
	if !strings.Contains(got, "WHERE `id` > ? AND (`updated_at` >= DATE_SUB(CURRENT_DATE(), INTERVAL 3 DAY))") {
		t.Errorf("buildKeysetQuery() = %q", got)
	}
	if !strings.HasSuffix(got, "ORDER BY `id` LIMIT ?") {
		t.Errorf("buildKeysetQuery() = %q, missing order/limit", got)
	}
}

func TestBuildStreamQuery(t *testing.T) {
	got := buildStreamQuery("`a`, `b`", "plex", "events", "", "`a`, `b`")
	want := "SELECT `a`, `b` FROM `plex`.`events` ORDER BY `a`, `b`"
	if got != want {
		t.Errorf("buildStreamQuery() = %q, want %q", got, want)
	}

	got = buildStreamQuery("`a`", "plex", "events", "`ts` IS NOT NULL", "")
	want = "SELECT `a` FROM `plex`.`events` WHERE (`ts` IS NOT NULL)"
	if got != want {
		t.Errorf("buildStreamQuery() with filter = %q, want %q", got, want)
	}
}

func TestBuildCountQuery(t *testing.T) {
	got := buildCountQuery("plex", "orders", "")
	if got != "SELECT COUNT(*) FROM `plex`.`orders`" {
		t.Errorf("buildCountQuery() = %q", got)
	}

	got = buildCountQuery("plex", "orders", "`id` > 5")
	if got != "SELECT COUNT(*) FROM `plex`.`orders` WHERE (`id` > 5)" {
		t.Errorf("buildCountQuery() with filter = %q", got)
	}
}

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN("db.example.com", 3306, "plex", "replicator", "p@ss:word")

	if !strings.HasPrefix(dsn, "replicator:p%40ss%3Aword@tcp(db.example.com:3306)/plex?") {
		t.Errorf("BuildDSN() = %q, credentials not escaped or host malformed", dsn)
	}
	for _, param := range []string{"parseTime=true", "charset=utf8mb4", "loc=UTC", "tls=preferred"} {
		if !strings.Contains(dsn, param) {
			t.Errorf("BuildDSN() = %q, missing %s", dsn, param)
		}
	}
}

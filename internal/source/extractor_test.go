package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
)

// stubDriver serves canned rows for extraction tests without a live
// server. Each backend is one table of (id, note) rows keyed by DSN.
type stubDriver struct {
	mu       sync.Mutex
	backends map[string]*stubBackend
}

type stubBackend struct {
	mu      sync.Mutex
	rows    [][2]any // id int64, note string, ordered by id
	open    int      // unclosed result sets
	queries []string
}

var testDriver = &stubDriver{backends: map[string]*stubBackend{}}

func init() { sql.Register("stubmysql", testDriver) }

var backendSeq int

func newStubBackend(t *testing.T, n int) (*sql.DB, *stubBackend) {
	t.Helper()
	b := &stubBackend{}
	for i := 1; i <= n; i++ {
		b.rows = append(b.rows, [2]any{int64(i), fmt.Sprintf("note-%d", i)})
	}

	testDriver.mu.Lock()
	backendSeq++
	dsn := fmt.Sprintf("stub-%d", backendSeq)
	testDriver.backends[dsn] = b
	testDriver.mu.Unlock()

	db, err := sql.Open("stubmysql", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, b
}

func (d *stubDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown stub backend %q", name)
	}
	return &stubConn{backend: b}, nil
}

type stubConn struct {
	backend *stubBackend
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported")
}
func (c *stubConn) Close() error              { return nil }
func (c *stubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("tx not supported") }

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, query)

	var lower int64 = -1 << 63
	limit := len(b.rows)
	switch {
	case strings.Contains(query, "`id` > ?"):
		lower = args[0].Value.(int64)
		limit = int(args[1].Value.(int64))
	case strings.HasSuffix(query, "LIMIT ?"):
		limit = int(args[0].Value.(int64))
	}

	var selected [][2]any
	for _, row := range b.rows {
		if row[0].(int64) > lower {
			selected = append(selected, row)
		}
		if len(selected) == limit {
			break
		}
	}

	b.open++
	return &stubRows{backend: b, rows: selected}, nil
}

func (b *stubBackend) openCursors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type stubRows struct {
	backend *stubBackend
	rows    [][2]any
	pos     int
	closed  bool
}

func (r *stubRows) Columns() []string { return []string{"id", "note"} }

func (r *stubRows) Close() error {
	if !r.closed {
		r.closed = true
		r.backend.mu.Lock()
		r.backend.open--
		r.backend.mu.Unlock()
	}
	return nil
}

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	dest[0] = r.rows[r.pos][0].(int64)
	dest[1] = []byte(r.rows[r.pos][1].(string))
	r.pos++
	return nil
}

func stubSchema(keyset bool) *schema.TableSchema {
	ts := &schema.TableSchema{
		Table: schema.TableRef{Database: "plex", Name: "orders", Target: "orders"},
		Columns: []schema.Column{
			{Name: "id", SourceType: "bigint", Type: bigquery.IntegerFieldType, OrdinalPos: 1},
			{Name: "note", SourceType: "varchar(32)", Type: bigquery.StringFieldType, Nullable: true, OrdinalPos: 2},
		},
	}
	if keyset {
		ts.PrimaryKey = []string{"id"}
	} else {
		ts.PrimaryKey = []string{"id", "note"}
	}
	return ts
}

func collectChunks(t *testing.T, chunks <-chan Chunk) []Chunk {
	t.Helper()
	var got []Chunk
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk %d error = %v", chunk.Seq, chunk.Err)
		}
		got = append(got, chunk)
	}
	return got
}

// verifyKeys checks that the chunks cover ids 1..total exactly once.
func verifyKeys(t *testing.T, got []Chunk, total int) {
	t.Helper()
	seen := make(map[int64]bool, total)
	for _, chunk := range got {
		for _, row := range chunk.Rows {
			id := row[0].(int64)
			if seen[id] {
				t.Errorf("id %d extracted twice", id)
			}
			seen[id] = true
		}
	}
	for i := 1; i <= total; i++ {
		if !seen[int64(i)] {
			t.Errorf("id %d missing from extraction", i)
		}
	}
}

func TestExtractKeysetChunkBoundaries(t *testing.T) {
	db, backend := newStubBackend(t, 250)
	conn := &Conn{db: db}

	chunks := conn.Extract(context.Background(), ExtractOptions{
		Schema:     stubSchema(true),
		ChunkSize:  100,
		MaxRetries: 1,
	})
	got := collectChunks(t, chunks)

	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, want := range []int{100, 100, 50} {
		if len(got[i].Rows) != want {
			t.Errorf("chunk %d rows = %d, want %d", i, len(got[i].Rows), want)
		}
	}
	if !got[2].Done {
		t.Error("final chunk not marked Done")
	}
	verifyKeys(t, got, 250)

	if n := backend.openCursors(); n != 0 {
		t.Errorf("open cursors after extraction = %d, want 0", n)
	}
}

func TestExtractKeysetExactMultipleOfChunkSize(t *testing.T) {
	db, _ := newStubBackend(t, 200)
	conn := &Conn{db: db}

	chunks := conn.Extract(context.Background(), ExtractOptions{
		Schema:     stubSchema(true),
		ChunkSize:  100,
		MaxRetries: 1,
	})
	got := collectChunks(t, chunks)

	// Two full chunks, then an empty terminal chunk: the extractor cannot
	// know chunk two was the last until the next query comes back empty.
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if len(got[2].Rows) != 0 || !got[2].Done {
		t.Errorf("terminal chunk rows = %d, Done = %v", len(got[2].Rows), got[2].Done)
	}
	verifyKeys(t, got, 200)
}

func TestExtractKeysetFirstQueryUnbounded(t *testing.T) {
	db, backend := newStubBackend(t, 5)
	conn := &Conn{db: db}

	got := collectChunks(t, conn.Extract(context.Background(), ExtractOptions{
		Schema:     stubSchema(true),
		ChunkSize:  100,
		MaxRetries: 1,
	}))
	verifyKeys(t, got, 5)

	backend.mu.Lock()
	first := backend.queries[0]
	backend.mu.Unlock()
	if strings.Contains(first, "`id` > ?") {
		t.Errorf("first chunk query %q carries a lower bound", first)
	}
}

func TestExtractStreamChunkBoundaries(t *testing.T) {
	db, backend := newStubBackend(t, 250)
	conn := &Conn{db: db}

	chunks := conn.Extract(context.Background(), ExtractOptions{
		Schema:     stubSchema(false),
		ChunkSize:  100,
		MaxRetries: 1,
	})
	got := collectChunks(t, chunks)

	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, want := range []int{100, 100, 50} {
		if len(got[i].Rows) != want {
			t.Errorf("chunk %d rows = %d, want %d", i, len(got[i].Rows), want)
		}
	}
	verifyKeys(t, got, 250)

	backend.mu.Lock()
	queryCount := len(backend.queries)
	backend.mu.Unlock()
	if queryCount != 1 {
		t.Errorf("stream extraction issued %d queries, want 1", queryCount)
	}
	if n := backend.openCursors(); n != 0 {
		t.Errorf("open cursors after extraction = %d, want 0", n)
	}
}

// An abandoned consumer must not strand the extraction goroutine or its
// cursor: cancelling the context has to unwind both.
func TestExtractCancelReleasesCursor(t *testing.T) {
	for _, tt := range []struct {
		name   string
		keyset bool
	}{
		{"stream", false},
		{"keyset", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			db, backend := newStubBackend(t, 250)
			conn := &Conn{db: db}

			ctx, cancel := context.WithCancel(context.Background())
			chunks := conn.Extract(ctx, ExtractOptions{
				Schema:     stubSchema(tt.keyset),
				ChunkSize:  10,
				MaxRetries: 1,
			})

			// Take one chunk, then abandon the stream the way a failed
			// load does.
			if chunk := <-chunks; chunk.Err != nil {
				t.Fatalf("first chunk error = %v", chunk.Err)
			}
			cancel()

			deadline := time.After(2 * time.Second)
			for open := true; open; {
				select {
				case _, open = <-chunks:
				case <-deadline:
					t.Fatal("extractor did not stop after cancel")
				}
			}

			waitUntil := time.Now().Add(2 * time.Second)
			for backend.openCursors() != 0 {
				if time.Now().After(waitUntil) {
					t.Fatalf("open cursors = %d after cancel, want 0", backend.openCursors())
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}
}

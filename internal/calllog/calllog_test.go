package calllog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRows implements pgx.Rows over fixed row data.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface.
type mockDB struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	execSQL  []string
	execArgs [][]any
}

func (m *mockDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestNilStoreIsNoop(t *testing.T) {
	t.Parallel()

	var s *Store
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Errorf("Migrate on nil store = %v", err)
	}
	if err := s.Save(ctx, Record{CallID: "c1"}); err != nil {
		t.Errorf("Save on nil store = %v", err)
	}
	recs, err := s.Recent(ctx, 10)
	if err != nil || recs != nil {
		t.Errorf("Recent on nil store = %v, %v", recs, err)
	}
	s.Close()
}

func TestOpenEmptyDSNDisables(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open(\"\") = %v", err)
	}
	if s != nil {
		t.Fatal("Open(\"\") returned a live store, want nil")
	}
}

func TestSaveArguments(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := New(db)
	rec := Record{
		CallID:       "chan-1",
		CallerName:   "Alice",
		CallerNumber: "555",
		Context:      "office_hours",
		Provider:     "openai",
		EndReason:    "hangup",
		Duration:     90 * time.Second,
		Transcript:   "caller: hi",
		StartedAt:    time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	if len(db.execArgs) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.execArgs))
	}
	args := db.execArgs[0]
	want := []any{"chan-1", "Alice", "555", "office_hours", "openai", "hangup",
		int64(90000), "caller: hi", rec.StartedAt}
	if len(args) != len(want) {
		t.Fatalf("args = %d values, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestSaveRejectsEmptyCallID(t *testing.T) {
	t.Parallel()

	s := New(&mockDB{})
	if err := s.Save(context.Background(), Record{}); err == nil {
		t.Error("Save with empty call id = nil, want error")
	}
}

func TestSaveWrapsDBError(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("connection reset")
	s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, dbErr
	}})
	err := s.Save(context.Background(), Record{CallID: "c1"})
	if !errors.Is(err, dbErr) {
		t.Errorf("Save() = %v, want wrapped %v", err, dbErr)
	}
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rows := &mockRows{data: [][]any{
		{"c2", "Bob", "556", "after_hours", "pipeline", "transfer", int64(30000), "t2", started},
		{"c1", "Alice", "555", "office_hours", "openai", "hangup", int64(90000), "t1", started.Add(-time.Hour)},
	}}
	var gotLimit any
	db := &mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		gotLimit = args[0]
		return rows, nil
	}}

	recs, err := New(db).Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent() = %v", err)
	}
	if gotLimit != 2 {
		t.Errorf("limit arg = %v, want 2", gotLimit)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].CallID != "c2" || recs[0].Duration != 30*time.Second {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].Provider != "openai" || recs[1].Transcript != "t1" {
		t.Errorf("second record = %+v", recs[1])
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	t.Parallel()

	var gotLimit any
	db := &mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		gotLimit = args[0]
		return &mockRows{}, nil
	}}
	if _, err := New(db).Recent(context.Background(), 0); err != nil {
		t.Fatalf("Recent() = %v", err)
	}
	if gotLimit != 50 {
		t.Errorf("limit arg = %v, want 50", gotLimit)
	}
}

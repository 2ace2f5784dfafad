package db

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate (second run): %v", err)
	}
	return NewStore(database)
}

func TestRecordLifecycle(t *testing.T) {
	store := testStore(t)

	if err := store.RecordStart("s1", "alice", []string{"/bin/sh", "-l"}, 100, 4242); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID != "s1" || r.Username != "alice" || r.Cmd != "/bin/sh -l" {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.TaskPID != 100 || r.SubPID != 4242 {
		t.Fatalf("pids not recorded: %+v", r)
	}
	if r.Status != StatusRunning || r.EndedAt != nil {
		t.Fatalf("expected running record, got %+v", r)
	}

	if err := store.RecordEnd("s1", StatusEnded); err != nil {
		t.Fatalf("RecordEnd: %v", err)
	}
	records, err = store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if records[0].Status != StatusEnded || records[0].EndedAt == nil {
		t.Fatalf("end not recorded: %+v", records[0])
	}
}

func TestMarkStaleRunning(t *testing.T) {
	store := testStore(t)

	if err := store.RecordStart("s1", "alice", []string{"/bin/sh"}, 100, 4242); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := store.RecordStart("s2", "bob", []string{"/bin/sh"}, 101, 4243); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := store.RecordEnd("s2", StatusKilled); err != nil {
		t.Fatalf("RecordEnd: %v", err)
	}

	n, err := store.MarkStaleRunning()
	if err != nil {
		t.Fatalf("MarkStaleRunning: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale session, got %d", n)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, r := range records {
		if r.Status == StatusRunning {
			t.Fatalf("running record left behind: %+v", r)
		}
	}
}

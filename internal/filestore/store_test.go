package filestore

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(path string) *IndexedFile {
	return &IndexedFile{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        42,
		MimeType:    "text/plain",
		ContentHash: "abc123",
		CreatedAt:   time.Now(),
		ModifiedAt:  time.Now(),
		IndexedAt:   time.Now(),
		Category:    "document",
		Status:      StatusIndexed,
	}
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("/files/a.txt")
	rec.Tags = []string{"work", "draft"}
	if err := store.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.Get("/files/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("record should exist")
	}
	if got.Name != "a.txt" || got.ContentHash != "abc123" || got.Status != StatusIndexed {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", got.Tags)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	rec, found, err := store.Get("/nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found || rec != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, false", rec, found)
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("/files/a.txt")
	if err := store.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rec.ContentHash = "def456"
	rec.Status = StatusUpdated
	if err := store.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _, err := store.Get("/files/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ContentHash != "def456" || got.Status != StatusUpdated {
		t.Errorf("Get() = %+v, want updated record", got)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put(testRecord("/files/a.txt")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Delete("/files/a.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("/files/a.txt"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}

	_, found, err := store.Get("/files/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("record should be gone")
	}
}

func TestStore_ForEach(t *testing.T) {
	store := newTestStore(t)

	for _, path := range []string{"/files/a.txt", "/files/b.txt", "/files/c.txt"} {
		if err := store.Put(testRecord(path)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	var paths []string
	err := store.ForEach(func(rec *IndexedFile) error {
		paths = append(paths, rec.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}

	if len(paths) != 3 {
		t.Fatalf("visited %d records, want 3", len(paths))
	}
	// bbolt iterates in key order.
	if paths[0] != "/files/a.txt" || paths[2] != "/files/c.txt" {
		t.Errorf("paths = %v, want key order", paths)
	}
}

func TestStore_ForEachStop(t *testing.T) {
	store := newTestStore(t)

	for _, path := range []string{"/files/a.txt", "/files/b.txt", "/files/c.txt"} {
		if err := store.Put(testRecord(path)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	var visited int
	err := store.ForEach(func(rec *IndexedFile) error {
		visited++
		if visited == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error = %v, ErrStop should not surface", err)
	}
	if visited != 2 {
		t.Errorf("visited = %d, want 2", visited)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Put(testRecord("/files/a.txt")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	store.Close()

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() after close error = %v", err)
	}
	defer reopened.Close()

	_, found, err := reopened.Get("/files/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Error("record should survive reopen")
	}
}

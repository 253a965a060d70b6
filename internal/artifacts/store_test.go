package artifacts

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestWriteAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := []byte(`{"cycle": 7, "status": "ok"}`)
	if err := store.Write(ctx, "reports", "2026/cycle-7.json", content); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx, "reports", "2026/cycle-7.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got.Content) != string(content) {
		t.Errorf("content = %q", got.Content)
	}
	if got.Path != "reports/2026/cycle-7.json" {
		t.Errorf("path = %q, want reports/2026/cycle-7.json", got.Path)
	}
}

func TestReadByPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, "logs", "sub1/sub2/run.txt", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.ReadByPath(ctx, "logs/sub1/sub2/run.txt")
	if err != nil {
		t.Fatalf("ReadByPath: %v", err)
	}
	if string(got.Content) != "hello" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Path != "logs/sub1/sub2/run.txt" {
		t.Errorf("path = %q, want logs/sub1/sub2/run.txt", got.Path)
	}

	if _, err := store.ReadByPath(ctx, "justacategory"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("bare category error = %v, want ErrInvalidPath", err)
	}
}

func TestWriteRejectsInvalidJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Write(ctx, "reports", "broken.json", []byte(`{"cycle": 7,`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("error = %v, want ErrInvalidJSON", err)
	}

	// Same content under a non-.json name is fine.
	if err := store.Write(ctx, "reports", "broken.txt", []byte(`{"cycle": 7,`)); err != nil {
		t.Fatalf("Write .txt: %v", err)
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		category string
		path     string
	}{
		{"escape root", "reports", "../../etc/passwd"},
		{"escape category", "reports", "../other/file.txt"},
		{"category with slash", "a/b", "file.txt"},
		{"dotdot category", "..", "file.txt"},
		{"empty path", "reports", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Write(ctx, tt.category, tt.path, []byte("x"))
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("error = %v, want ErrInvalidPath", err)
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Read(context.Background(), "reports", "nope.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"a.txt", "sub/b.txt"} {
		if err := store.Write(ctx, "logs", path, []byte("x")); err != nil {
			t.Fatalf("Write %s: %v", path, err)
		}
	}

	got, err := store.List(ctx, "logs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "sub/b.txt" {
		t.Errorf("list = %v", got)
	}

	empty, err := store.List(ctx, "missing")
	if err != nil {
		t.Fatalf("List missing: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("missing category list = %v", empty)
	}
}

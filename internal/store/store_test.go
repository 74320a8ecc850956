package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// exerciseStore runs the behavior every implementation shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if list, err := s.List(ctx); err != nil || len(list) != 0 {
		t.Fatalf("expected empty store, got %v %v", list, err)
	}
	ts := time.UnixMilli(1700000000000)
	for _, src := range []Source{
		{Name: "b", Text: "const b = 1;", UpdatedAt: ts},
		{Name: "a", Text: "const a = 1;", UpdatedAt: ts},
		{Name: "a", Text: "const a = 2;", UpdatedAt: ts},
	} {
		if err := s.Put(ctx, src); err != nil {
			t.Fatalf("put %s: %v", src.Name, err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Text != "const a = 2;" {
		t.Fatalf("put did not overwrite: %q", list[0].Text)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, Source{Name: "../escape", Text: "x"}); err == nil {
		t.Fatalf("expected invalid name to be rejected")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(filepath.Join(dir, "modules"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseStore(t, s)
	if _, err := os.Stat(filepath.Join(s.Dir(), "b.ts")); err != nil {
		t.Fatalf("expected b.ts on disk: %v", err)
	}
}

func TestDirStore_PicksUpHandPlacedFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"scene.js":   "scene.add(1);",
		"hud.ts":     "hud();",
		"Other.TS":   "ignored",
		"notes.txt":  "ignored",
		".hidden.ts": "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "hud" || list[1].Name != "scene" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestDirStore_DeleteLeavesNothingListable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Foo.TS"), []byte("old();"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("upper-case extension listed: %+v", list)
	}
	if err := s.Put(ctx, Source{Name: "Foo", Text: "fresh();"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Text != "fresh();" {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := s.Delete(ctx, "Foo"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("module survived delete: %+v", list)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "modules.db"), 2, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	list, _ := s.List(context.Background())
	if len(list) != 1 || !list[0].UpdatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("updated_at not preserved: %+v", list)
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"m1", "scene.main", "a_b-c", "X"} {
		if err := ValidateName(ok); err != nil {
			t.Fatalf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", ".hidden", "a/b", "a b", "../x"} {
		if err := ValidateName(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

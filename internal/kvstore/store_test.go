package kvstore

import (
	"context"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "theme"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := s.Get(ctx, "theme"); err != nil || !ok || v != "dark" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	if err := s.Set(ctx, "theme", "light"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := s.Get(ctx, "theme"); v != "light" {
		t.Errorf("overwrite: got %q", v)
	}
	if err := s.Set(ctx, "empty", ""); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.Get(ctx, "empty"); !ok || v != "" {
		t.Errorf("empty value: %q %v", v, ok)
	}
	if err := s.Delete(ctx, "theme"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "theme"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if v, ok, err := s.Get(ctx, "k"); err != nil || !ok || v != "v" {
		t.Errorf("after reopen: %q %v %v", v, ok, err)
	}
}

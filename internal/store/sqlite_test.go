package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_RoundTrip(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("got %q, want v1", got)
	}

	// upsert sobrescreve
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	got, _ = s.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Set(ctx, "k", []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, err := second.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("got %q, want persisted", got)
	}
}

package localstore

import (
	"context"
	"path/filepath"
	"testing"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := open(t, filepath.Join(t.TempDir(), "state", "local.db"))
	defer s.Close()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || got != "v2" {
		t.Errorf("Get(k) = %q, %v, %v; want v2", got, ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete(absent) error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Errorf("Get(k) after Delete found a value")
	}
}

func TestStore_survivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s := open(t, path)
	if err := s.Set(ctx, "pending_notification", `{"type":"match"}`); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s = open(t, path)
	defer s.Close()
	got, ok, err := s.Get(ctx, "pending_notification")
	if err != nil || !ok || got != `{"type":"match"}` {
		t.Errorf("Get() after reopen = %q, %v, %v", got, ok, err)
	}
}

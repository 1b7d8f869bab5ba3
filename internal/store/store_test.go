package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "zwavelink.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := Controller{
		Identifier: "zwave_main",
		Address:    "ws://192.168.1.20:3000",
		Name:       "Main controller",
		Model:      "Z-Wave JS Server",
	}
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "zwave_main")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got.Address != c.Address || got.Name != c.Name || got.Model != c.Model {
		t.Errorf("Get() = %+v, want %+v", got, c)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on save")
	}
}

func TestSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Controller{Identifier: "hub", Address: "ws://old:3000"}); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if err := s.Save(ctx, Controller{Identifier: "hub", Address: "ws://new:3000", Name: "renamed"}); err != nil {
		t.Fatalf("second Save() unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "hub")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got.Address != "ws://new:3000" || got.Name != "renamed" {
		t.Errorf("Get() after upsert = %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() returned %d records, want 1", len(list))
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("Get() error = %v, want ErrControllerNotFound", err)
	}
}

func TestListOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := s.Save(ctx, Controller{Identifier: id, Address: "ws://x:3000"}); err != nil {
			t.Fatalf("Save(%q) unexpected error: %v", id, err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if list[i].Identifier != id {
			t.Errorf("List()[%d] = %q, want %q", i, list[i].Identifier, id)
		}
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Controller{Identifier: "hub", Address: "ws://x:3000"}); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	if err := s.Remove(ctx, "hub"); err != nil {
		t.Errorf("Remove() unexpected error: %v", err)
	}
	if err := s.Remove(ctx, "hub"); !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("Remove() of missing record error = %v, want ErrControllerNotFound", err)
	}

	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, Controller{Identifier: id, Address: "ws://x:3000"}); err != nil {
			t.Fatalf("Save(%q) unexpected error: %v", id, err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() unexpected error: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() after Clear returned %d records, want 0", len(list))
	}
}

package remote

import (
	"context"
	"testing"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "patients", "p1"); err != ErrNotFound {
		t.Errorf("Get on empty table: err = %v, want ErrNotFound", err)
	}

	rec := Record{"id": "p1", "name": "Alice", "updated_at": float64(100)}
	if err := m.Insert(ctx, "patients", rec); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(ctx, "patients", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "Alice" {
		t.Errorf("got %v", got)
	}

	// Mutating the returned record must not leak into the store.
	got["name"] = "Mallory"
	again, _ := m.Get(ctx, "patients", "p1")
	if again["name"] != "Alice" {
		t.Error("Get returned an aliased record")
	}

	if err := m.Update(ctx, "patients", "p1", Record{"id": "p1", "name": "Alice K"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Update(ctx, "patients", "nope", Record{"id": "nope"}); err != ErrNotFound {
		t.Errorf("Update missing: err = %v, want ErrNotFound", err)
	}

	if err := m.Delete(ctx, "patients", "p1"); err != nil {
		t.Fatal(err)
	}
	if m.Count("patients") != 0 {
		t.Error("record survived delete")
	}
	if err := m.Delete(ctx, "patients", "p1"); err != ErrNotFound {
		t.Errorf("Delete missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemorySelect(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, r := range []Record{
		{"id": "a", "facility_id": "f1", "updated_at": "3"},
		{"id": "b", "facility_id": "f1", "updated_at": "1"},
		{"id": "c", "facility_id": "f2", "updated_at": "2"},
	} {
		if err := m.Insert(ctx, "patients", r); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := m.Select(ctx, "patients", Query{
		Filter: map[string]any{"facility_id": "f1"}, OrderBy: "updated_at", Desc: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || ID(recs[0]) != "a" || ID(recs[1]) != "b" {
		t.Errorf("filtered select = %v, want [a b]", recs)
	}

	limited, err := m.Select(ctx, "patients", Query{OrderBy: "updated_at", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || ID(limited[0]) != "b" {
		t.Errorf("limited select = %v, want [b]", limited)
	}
}

func TestMemoryHonorsContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Get(ctx, "patients", "p1"); err == nil {
		t.Error("Get ignored a cancelled context")
	}
}

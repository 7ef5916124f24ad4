package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"visitmap/pkg/domain"
)

func mergeWith(incoming domain.VisitRecord) domain.UpdateFunc {
	return func(current domain.VisitRecord, _ bool) (domain.VisitRecord, error) {
		return domain.Merge(current, incoming), nil
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != domain.StorageFS || store.Root() != root {
		t.Fatalf("unexpected store %s %s", store.Driver(), store.Root())
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, "jdoe2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Update(ctx, "jdoe2", mergeWith(domain.VisitRecord{"2024-09-01": {1, 0}})); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := store.Update(ctx, "jdoe2", mergeWith(domain.VisitRecord{"2024-09-01": {0, 1}})); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Get(ctx, "jdoe2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["2024-09-01"] != (domain.DailyEntry{1, 1}) {
		t.Fatalf("unexpected record %v", got)
	}
	raw, err := os.ReadFile(filepath.Join(root, "jdoe2.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != `{"2024-09-01":{"ARC":1,"CRCE":1}}` {
		t.Fatalf("unexpected document %s", raw)
	}
	ids, err := store.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "jdoe2" {
		t.Fatalf("list: %v %v", ids, err)
	}
	if err := store.Delete(ctx, "jdoe2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "jdoe2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if ids, err := store.List(ctx); err != nil || len(ids) != 0 {
		t.Fatalf("list after delete: %v %v", ids, err)
	}
}

func TestFSStoreRejectsUnsafeIDs(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"", "  ", "../escape", "a/../../b"} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", id, err)
		}
	}
	// separators are escaped into a single file name
	if _, err := store.Update(context.Background(), "a/b", mergeWith(domain.VisitRecord{"2024-09-01": {1, 0}})); err != nil {
		t.Fatalf("update escaped id: %v", err)
	}
	ids, _ := store.List(context.Background())
	if len(ids) != 1 || ids[0] != "a/b" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestFSStoreLegacyAndCorruptDocuments(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "old.json"), []byte(`{"2023-10-04": 2}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := store.Get(context.Background(), "old")
	if err != nil || got["2023-10-04"] != (domain.DailyEntry{1, 0}) {
		t.Fatalf("legacy document: %v %v", got, err)
	}
	if err := os.WriteFile(filepath.Join(root, "bad.json"), []byte(`[`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Get(context.Background(), "bad"); err == nil || domain.IsNotFound(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestFSStoreUpdateErrorLeavesDocument(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Update(ctx, "u", mergeWith(domain.VisitRecord{"2024-09-01": {1, 0}})); err != nil {
		t.Fatalf("update: %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.Update(ctx, "u", func(domain.VisitRecord, bool) (domain.VisitRecord, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := store.Get(ctx, "u")
	if got["2024-09-01"] != (domain.DailyEntry{1, 0}) {
		t.Fatalf("document changed after failed update: %v", got)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Get(cancelled, "u"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

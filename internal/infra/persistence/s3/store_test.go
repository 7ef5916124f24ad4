package s3

import (
	"context"
	"errors"
	"testing"

	"visitmap/pkg/domain"
)

func mergeWith(incoming domain.VisitRecord) domain.UpdateFunc {
	return func(current domain.VisitRecord, _ bool) (domain.VisitRecord, error) {
		return domain.Merge(current, incoming), nil
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestOpenFromEnvRequiresBucket(t *testing.T) {
	t.Setenv("VISITMAP_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected bucket error")
	}
	t.Setenv("VISITMAP_S3_BUCKET", "visits")
	t.Setenv("VISITMAP_S3_PREFIX", "p/")
	store, err := OpenFromEnv(context.Background())
	if err != nil {
		t.Fatalf("open from env: %v", err)
	}
	if store.Bucket() != "visits" {
		t.Fatalf("unexpected bucket %s", store.Bucket())
	}
	if key, _ := store.KeyFor("jdoe2"); key != "p/jdoe2.json" {
		t.Fatalf("unexpected key %s", key)
	}
}

func TestS3StoreRoundTrip(t *testing.T) {
	store, backend := NewMockForTests()
	ctx := context.Background()
	if store.Driver() != domain.StorageS3 {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	if _, err := store.Get(ctx, "jdoe2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Update(ctx, "jdoe2", mergeWith(domain.VisitRecord{"2024-09-01": {1, 0}})); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Update(ctx, "jdoe2", mergeWith(domain.VisitRecord{"2024-09-01": {0, 1}}))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got["2024-09-01"] != (domain.DailyEntry{1, 1}) {
		t.Fatalf("unexpected merge %v", got)
	}
	raw, ok := backend.Object("visits/jdoe2.json")
	if !ok || string(raw) != `{"2024-09-01":{"ARC":1,"CRCE":1}}` {
		t.Fatalf("unexpected object %q", raw)
	}
	loaded, err := store.Get(ctx, "jdoe2")
	if err != nil || !loaded.Equal(got) {
		t.Fatalf("get: %v %v", loaded, err)
	}
	if err := store.Delete(ctx, "jdoe2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "jdoe2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, "jdoe2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestS3StoreListsIdentifiersUnderPrefix(t *testing.T) {
	store, backend := NewMockForTests()
	ctx := context.Background()
	for _, id := range []string{"zed", "a/b"} {
		if _, err := store.Update(ctx, id, mergeWith(domain.VisitRecord{"2024-09-01": {1, 0}})); err != nil {
			t.Fatalf("update %s: %v", id, err)
		}
	}
	backend.SetObject("other/x.json", []byte(`{}`))
	backend.SetObject("visits/nested/y.json", []byte(`{}`))
	backend.SetObject("visits/notes.txt", []byte(`hello`))
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a/b" || ids[1] != "zed" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestS3StoreReadsLegacyObjects(t *testing.T) {
	store, backend := NewMockForTests()
	backend.SetObject("visits/old.json", []byte(`{"2023-10-04": 5}`))
	got, err := store.Get(context.Background(), "old")
	if err != nil || got["2023-10-04"] != (domain.DailyEntry{1, 0}) {
		t.Fatalf("legacy object: %v %v", got, err)
	}
}

func TestS3StoreRetriesConflicts(t *testing.T) {
	store, backend := NewMockForTests()
	ctx := context.Background()
	backend.ConflictPuts = 1
	calls := 0
	_, err := store.Update(ctx, "u", func(current domain.VisitRecord, _ bool) (domain.VisitRecord, error) {
		calls++
		return domain.Merge(current, domain.VisitRecord{"2024-09-01": {1, 0}}), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 || backend.Puts != 1 {
		t.Fatalf("expected one retry, got calls=%d puts=%d", calls, backend.Puts)
	}

	backend.ConflictPuts = maxWriteAttempts
	if _, err := store.Update(ctx, "u", mergeWith(domain.VisitRecord{"2024-09-02": {1, 0}})); !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected write conflict, got %v", err)
	}
}

func TestS3StoreErrors(t *testing.T) {
	store, backend := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Get(ctx, " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid id, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.Update(ctx, "u", func(domain.VisitRecord, bool) (domain.VisitRecord, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, ok := backend.Object("visits/u.json"); ok {
		t.Fatalf("failed update wrote an object")
	}
	backend.FailGets = true
	if _, err := store.Get(ctx, "u"); err == nil || domain.IsNotFound(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bagofwords/api/internal/diff"
)

func newTestCache(t *testing.T) *DiffCache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewWithClient(client)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestGetMissReturnsNil(t *testing.T) {
	cache := newTestCache(t)
	result, err := cache.Get(context.Background(), "bld_a", "bld_b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if result != nil {
		t.Fatalf("expected miss, got %+v", result)
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	stored := diff.Result{
		Added: []diff.Change{{InstructionID: "ins_1", To: &diff.Side{VersionID: "ver_1", Text: "hello"}}},
		Modified: []diff.Change{{
			InstructionID: "ins_2",
			From:          &diff.Side{VersionID: "ver_2"},
			To:            &diff.Side{VersionID: "ver_3"},
			ChangedFields: []string{diff.FieldText},
		}},
	}
	if err := cache.Set(ctx, "bld_a", "bld_b", stored); err != nil {
		t.Fatalf("set: %v", err)
	}

	loaded, err := cache.Get(ctx, "bld_a", "bld_b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected hit")
	}
	if len(loaded.Added) != 1 || loaded.Added[0].InstructionID != "ins_1" {
		t.Fatalf("unexpected added: %+v", loaded.Added)
	}
	if len(loaded.Modified) != 1 || loaded.Modified[0].ChangedFields[0] != diff.FieldText {
		t.Fatalf("unexpected modified: %+v", loaded.Modified)
	}
}

func TestPairsAreKeyedDirectionally(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "bld_a", "bld_b", diff.Result{Added: []diff.Change{{InstructionID: "ins_1"}}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	reversed, err := cache.Get(ctx, "bld_b", "bld_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reversed != nil {
		t.Fatal("reversed pair must be a distinct cache entry")
	}
}

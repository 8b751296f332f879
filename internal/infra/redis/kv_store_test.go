package redis

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mcq-bot/internal/kv"
	"mcq-bot/internal/kv/kvtest"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestKVStoreConformance(t *testing.T) {
	_, client := newMiniredis(t)
	kvtest.Run(t, NewKVStore(client, "mcq:"))
}

func TestKVStoreNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := NewKVStore(client, "bot1:")
	other := NewKVStore(client, "bot2:")

	if err := store.Put(ctx, "q:count", []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := mr.Get("bot1:q:count"); err != nil || got != "3" {
		t.Fatalf("expected prefixed key, got %q %v", got, err)
	}
	if _, err := other.Get(ctx, "q:count"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("prefixes must isolate stores, got %v", err)
	}
	keys, err := other.List(ctx, "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys for other prefix, got %v %v", keys, err)
	}
	if mr.TTL("bot1:q:count") != 0 {
		t.Fatalf("values must not expire")
	}
}

func TestKVStoreEscapesGlobInPrefix(t *testing.T) {
	ctx := context.Background()
	_, client := newMiniredis(t)
	store := NewKVStore(client, "p[1]:")
	for _, key := range []string{"a*", "ab", "a?"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	keys, err := store.List(ctx, "a*")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a*" {
		t.Fatalf("expected only the literal key, got %v", keys)
	}
}

func TestKVStoreReportsConnectionErrors(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewKVStore(client, "")
	mr.Close()

	err := kv.PutInt(context.Background(), store, "n", 1)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

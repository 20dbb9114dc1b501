package coord

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestRedis spins up an in-process redis and returns a connected client.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFlag(t *testing.T) {
	rdb := newTestRedis(t)
	flag := NewFlag(rdb)
	ctx := context.Background()

	if flag.IsSet(ctx) {
		t.Fatal("flag should start cleared")
	}
	if err := flag.Set(ctx); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !flag.IsSet(ctx) {
		t.Fatal("flag should be set")
	}
	if err := flag.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if flag.IsSet(ctx) {
		t.Fatal("flag should be cleared")
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

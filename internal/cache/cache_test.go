package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		k1 := Key("resolve", "https://vm.tiktok.com/x")
		k2 := Key("resolve", "https://vm.tiktok.com/x")
		if k1 != k2 {
			t.Errorf("Key not deterministic: %q != %q", k1, k2)
		}
	})

	t.Run("different inputs differ", func(t *testing.T) {
		k1 := Key("resolve", "a")
		k2 := Key("resolve", "b")
		if k1 == k2 {
			t.Errorf("different inputs produced same key: %q", k1)
		}
	})

	t.Run("has prefix", func(t *testing.T) {
		k := Key("test")
		if k[:3] != "tg:" {
			t.Errorf("expected tg: prefix, got %q", k[:3])
		}
	})
}

func TestGetSet(t *testing.T) {
	c := New("", time.Minute, 100, 0)
	ctx := context.Background()
	key := Key("test", "round-trip")

	if _, ok := c.Get(ctx, key); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set(ctx, key, []byte("hello"))
	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestExpiration(t *testing.T) {
	c := New("", time.Millisecond, 100, 0)
	ctx := context.Background()
	key := Key("test", "expiry")

	c.Set(ctx, key, []byte("temp"))
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, key); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestEviction(t *testing.T) {
	c := New("", time.Minute, 3, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Set(ctx, Key("test", fmt.Sprintf("entry-%d", i)), []byte("v"))
	}

	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count > 3 {
		t.Errorf("L1 holds %d entries, cap is 3", count)
	}
}

func TestInvalidRedisURLDisablesL2(t *testing.T) {
	c := New("not-a-url", time.Minute, 100, 0)
	if c.rdb != nil {
		t.Error("L2 enabled despite invalid URL")
	}
	// L1 still works.
	ctx := context.Background()
	c.Set(ctx, Key("k"), []byte("v"))
	if _, ok := c.Get(ctx, Key("k")); !ok {
		t.Error("L1 broken with L2 disabled")
	}
}

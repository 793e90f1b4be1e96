package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCooldownBlocksWithinGap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cd, err := NewCooldown(client, "test:cooldown", 10*time.Second)
	if err != nil {
		t.Fatalf("new cooldown: %v", err)
	}
	ctx := context.Background()

	ok, _, err := cd.Acquire(ctx, "uid-1")
	if err != nil || !ok {
		t.Fatalf("first acquire should pass: ok=%v err=%v", ok, err)
	}
	ok, wait, err := cd.Acquire(ctx, "uid-1")
	if err != nil || ok {
		t.Fatalf("second acquire should be blocked: ok=%v err=%v", ok, err)
	}
	if wait <= 0 || wait > 10*time.Second {
		t.Fatalf("unexpected wait %v", wait)
	}

	mr.FastForward(11 * time.Second)
	if ok, _, _ := cd.Acquire(ctx, "uid-1"); !ok {
		t.Fatalf("acquire after gap should pass")
	}
}

func TestCooldownRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cd, _ := NewCooldown(client, "", time.Minute)
	ctx := context.Background()

	_, _, _ = cd.Acquire(ctx, "uid-1")
	if err := cd.Release(ctx, "uid-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _, _ := cd.Acquire(ctx, "uid-1"); !ok {
		t.Fatalf("acquire after release should pass")
	}
}

func TestCooldownSurfacesRedisErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cd, _ := NewCooldown(client, "", time.Minute)
	mr.Close()
	if _, _, err := cd.Acquire(context.Background(), "uid-1"); err == nil {
		t.Fatalf("expected redis error")
	}
}

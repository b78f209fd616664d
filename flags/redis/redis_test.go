//go:build integration

package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/askgate"
	flagsredis "github.com/ineyio/askgate/flags/redis"
)

func newTestStore(t *testing.T) (*flagsredis.Store, *goredis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		client.Del(ctx, prefix+askgate.KeyPlanTier, prefix+askgate.KeyFreePlanStart)
		client.Close()
	})
	return flagsredis.New(client, flagsredis.WithKeyPrefix(prefix)), client
}

func TestUnset(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok, err := s.PlanTier(context.Background())
	if err != nil {
		t.Fatalf("plan tier: %v", err)
	}
	if ok {
		t.Fatal("expected unset plan tier")
	}
}

func TestSetAndGet(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()
	start := time.Unix(1741593600, 0)

	if err := s.SetPlanTier(ctx, askgate.PlanPaid); err != nil {
		t.Fatalf("set plan tier: %v", err)
	}
	if err := s.SetTrialStart(ctx, start); err != nil {
		t.Fatalf("set trial start: %v", err)
	}

	raw, err := client.Get(ctx, "test:"+t.Name()+":"+askgate.KeyPlanTier).Result()
	if err != nil || raw != "true" {
		t.Fatalf("raw plan tier = %q, %v", raw, err)
	}

	tier, ok, err := s.PlanTier(ctx)
	if err != nil || !ok || tier != askgate.PlanPaid {
		t.Errorf("plan tier = %v, %v, %v", tier, ok, err)
	}
	got, ok, err := s.TrialStart(ctx)
	if err != nil || !ok || !got.Equal(start) {
		t.Errorf("trial start = %v, %v, %v", got, ok, err)
	}
}

func TestWatchPlanTier(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchPlanTier(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := s.SetPlanTier(ctx, askgate.PlanPaid); err != nil {
		t.Fatalf("set plan tier: %v", err)
	}

	select {
	case tier := <-ch:
		if tier != askgate.PlanPaid {
			t.Errorf("tier = %v, want paid", tier)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tier update")
	}
}

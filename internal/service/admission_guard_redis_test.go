package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

func TestRedisAdmissionGuardCooldownGrowthAndReset(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	policy := AdmissionGuardPolicy{
		FreeAttempts: 1,
		BaseDelay:    50 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     200 * time.Millisecond,
		ResetWindow:  time.Second,
	}
	guard := NewRedisAdmissionGuard(client, "admission_test", policy)

	d1, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("register first failure: %v", err)
	}
	if d1 != 0 {
		t.Fatalf("expected no cooldown within free attempts, got %v", d1)
	}

	d2, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("register second failure: %v", err)
	}
	if d2 != 50*time.Millisecond {
		t.Fatalf("expected base delay, got %v", d2)
	}

	d3, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("register third failure: %v", err)
	}
	if d3 != 100*time.Millisecond {
		t.Fatalf("expected doubled delay, got %v", d3)
	}

	d4, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("register fourth failure: %v", err)
	}
	if d4 != 200*time.Millisecond {
		t.Fatalf("expected capped delay, got %v", d4)
	}

	remaining, err := guard.Cooldown(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	if remaining <= 0 {
		t.Fatalf("expected active cooldown, got %v", remaining)
	}

	if err := guard.Reset(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	remaining, err = guard.Cooldown(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("cooldown after reset: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cleared cooldown, got %v", remaining)
	}
}

func TestRedisAdmissionGuardCooldownExpires(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	policy := AdmissionGuardPolicy{
		FreeAttempts: 0,
		BaseDelay:    100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		ResetWindow:  time.Second,
	}
	guard := NewRedisAdmissionGuard(client, "admission_expiry_test", policy)

	if _, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("register failure: %v", err)
	}
	remaining, err := guard.Cooldown(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	if remaining <= 0 {
		t.Fatalf("expected active cooldown, got %v", remaining)
	}

	server.FastForward(150 * time.Millisecond)

	remaining, err = guard.Cooldown(ctx, "u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("cooldown after expiry: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected expired cooldown, got %v", remaining)
	}
}

func TestRedisAdmissionGuardIsolatesPairs(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	policy := AdmissionGuardPolicy{
		FreeAttempts: 0,
		BaseDelay:    100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		ResetWindow:  time.Second,
	}
	guard := NewRedisAdmissionGuard(client, "admission_isolation_test", policy)

	if _, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("register failure: %v", err)
	}

	remaining, err := guard.Cooldown(ctx, "u1", "10.0.0.2")
	if err != nil {
		t.Fatalf("cooldown other addr: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("cooldown leaked across addresses: %v", remaining)
	}
	remaining, err = guard.Cooldown(ctx, "u2", "10.0.0.1")
	if err != nil {
		t.Fatalf("cooldown other user: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("cooldown leaked across users: %v", remaining)
	}
}

func TestRedisAdmissionGuardNilClientDisabled(t *testing.T) {
	ctx := context.Background()
	guard := NewRedisAdmissionGuard(nil, "", DefaultAdmissionGuardPolicy())

	if d, err := guard.RegisterFailure(ctx, "u1", "10.0.0.1"); err != nil || d != 0 {
		t.Fatalf("nil client must be a no-op, got %v %v", d, err)
	}
	if d, err := guard.Cooldown(ctx, "u1", "10.0.0.1"); err != nil || d != 0 {
		t.Fatalf("nil client must report no cooldown, got %v %v", d, err)
	}
	if err := guard.Reset(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("nil client reset: %v", err)
	}
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AdmissionGuard throttles repeated failed signaling admissions from the same
// (user, address) pair. It is advisory: the gateway consults it before the
// store lookup and records outcomes after the decision.
type AdmissionGuard interface {
	// Cooldown returns the remaining cooldown; zero means the pair may try.
	Cooldown(ctx context.Context, userID, addr string) (time.Duration, error)
	// RegisterFailure records a failed admission and returns the cooldown it
	// triggered, zero while within the free attempts.
	RegisterFailure(ctx context.Context, userID, addr string) (time.Duration, error)
	// Reset clears the pair's failure history after a successful admission.
	Reset(ctx context.Context, userID, addr string) error
}

// AdmissionGuardPolicy shapes the exponential cooldown.
type AdmissionGuardPolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func DefaultAdmissionGuardPolicy() AdmissionGuardPolicy {
	return AdmissionGuardPolicy{
		FreeAttempts: 3,
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     2 * time.Minute,
		ResetWindow:  10 * time.Minute,
	}
}

func (p AdmissionGuardPolicy) normalize() AdmissionGuardPolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 10 * time.Minute
	}
	return p
}

// RedisAdmissionGuard is the redis-backed guard. A nil client disables it
// entirely, which keeps the gateway usable without a redis deployment.
type RedisAdmissionGuard struct {
	client redis.UniversalClient
	prefix string
	policy AdmissionGuardPolicy
}

func NewRedisAdmissionGuard(client redis.UniversalClient, prefix string, policy AdmissionGuardPolicy) *RedisAdmissionGuard {
	if prefix == "" {
		prefix = "netplay_admission_guard"
	}
	return &RedisAdmissionGuard{
		client: client,
		prefix: prefix,
		policy: policy.normalize(),
	}
}

func (g *RedisAdmissionGuard) Cooldown(ctx context.Context, userID, addr string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	remaining, err := g.client.PTTL(ctx, g.cooldownKey(userID, addr)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (g *RedisAdmissionGuard) RegisterFailure(ctx context.Context, userID, addr string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	failKey := g.failureKey(userID, addr)
	count, err := g.client.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, err
	}
	if err := g.client.Expire(ctx, failKey, g.policy.ResetWindow).Err(); err != nil {
		return 0, err
	}
	over := count - int64(g.policy.FreeAttempts)
	if over <= 0 {
		return 0, nil
	}
	delay := g.policy.BaseDelay
	for i := int64(1); i < over; i++ {
		delay = time.Duration(float64(delay) * g.policy.Multiplier)
		if delay >= g.policy.MaxDelay {
			delay = g.policy.MaxDelay
			break
		}
	}
	if err := g.client.Set(ctx, g.cooldownKey(userID, addr), "1", delay).Err(); err != nil {
		return 0, err
	}
	return delay, nil
}

func (g *RedisAdmissionGuard) Reset(ctx context.Context, userID, addr string) error {
	if g.client == nil {
		return nil
	}
	return g.client.Del(ctx, g.failureKey(userID, addr), g.cooldownKey(userID, addr)).Err()
}

func (g *RedisAdmissionGuard) failureKey(userID, addr string) string {
	return fmt.Sprintf("%s:fails:%s", g.prefix, pairHash(userID, addr))
}

func (g *RedisAdmissionGuard) cooldownKey(userID, addr string) string {
	return fmt.Sprintf("%s:cooldown:%s", g.prefix, pairHash(userID, addr))
}

func pairHash(userID, addr string) string {
	h := sha256.Sum256([]byte(userID + "|" + addr))
	return hex.EncodeToString(h[:])
}

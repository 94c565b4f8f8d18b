package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "netplay-service"

var (
	metricsOnce      sync.Once
	repoOpCounter    metric.Int64Counter
	admissionCounter metric.Int64Counter
	relayCounter     metric.Int64Counter
	quotaCounter     metric.Int64Counter
	lifecycleCounter metric.Int64Counter
	tokenCounter     metric.Int64Counter
	rateLimitCounter metric.Int64Counter
)

func initCounters() {
	meter := otel.Meter(meterName)
	if c, err := meter.Int64Counter("repository.operations"); err == nil {
		repoOpCounter = c
	}
	if c, err := meter.Int64Counter("signaling.admissions"); err == nil {
		admissionCounter = c
	}
	if c, err := meter.Int64Counter("signaling.relays"); err == nil {
		relayCounter = c
	}
	if c, err := meter.Int64Counter("session.quota.decisions"); err == nil {
		quotaCounter = c
	}
	if c, err := meter.Int64Counter("session.lifecycle.operations"); err == nil {
		lifecycleCounter = c
	}
	if c, err := meter.Int64Counter("auth.token.validations"); err == nil {
		tokenCounter = c
	}
	if c, err := meter.Int64Counter("http.rate_limit.decisions"); err == nil {
		rateLimitCounter = c
	}
}

// RecordRepositoryOperation counts one store operation with its outcome
// (success, not_found, error).
func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	metricsOnce.Do(initCounters)
	if repoOpCounter == nil {
		return
	}
	repoOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordAdmissionDecision counts one signaling connection admission attempt.
// Stage names the pipeline step that decided (credential, origin, guard,
// session, admitted).
func RecordAdmissionDecision(ctx context.Context, stage, outcome string) {
	metricsOnce.Do(initCounters)
	if admissionCounter == nil {
		return
	}
	admissionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

// RecordRelay counts one relayed signaling message. Delivery is "delivered",
// "undeliverable" or "broadcast".
func RecordRelay(ctx context.Context, messageType, delivery string) {
	metricsOnce.Do(initCounters)
	if relayCounter == nil {
		return
	}
	relayCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", messageType),
		attribute.String("delivery", delivery),
	))
}

// RecordQuotaDecision counts one quota check (scope: host or global).
func RecordQuotaDecision(ctx context.Context, scope, outcome string) {
	metricsOnce.Do(initCounters)
	if quotaCounter == nil {
		return
	}
	quotaCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

// RecordLifecycleOperation counts one lifecycle manager operation with its
// taxonomy outcome.
func RecordLifecycleOperation(ctx context.Context, operation, outcome string) {
	metricsOnce.Do(initCounters)
	if lifecycleCounter == nil {
		return
	}
	lifecycleCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordTokenValidation counts one bearer token check at the HTTP edge.
func RecordTokenValidation(ctx context.Context, outcome string) {
	metricsOnce.Do(initCounters)
	if tokenCounter == nil {
		return
	}
	tokenCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordRateLimitDecision counts one rate limiter verdict for a scope.
func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	metricsOnce.Do(initCounters)
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

package service

import (
	"context"
	"time"

	"github.com/retroplay/netplay-service/internal/apperr"
	"github.com/retroplay/netplay-service/internal/observability"
	"github.com/retroplay/netplay-service/internal/repository"
)

// QuotaEnforcer rejects session creation past the configured ceilings. Both
// checks count sessions with status open or active whose deadline has not
// passed; an open lobby holds a slot the same as an active session. Checks
// run before any write, so a denial leaves no rows behind.
type QuotaEnforcer struct {
	repo       repository.NetplayRepository
	maxPerHost int
	maxGlobal  int
	now        func() time.Time
}

func NewQuotaEnforcer(repo repository.NetplayRepository, maxPerHost, maxGlobal int) *QuotaEnforcer {
	return &QuotaEnforcer{
		repo:       repo,
		maxPerHost: maxPerHost,
		maxGlobal:  maxGlobal,
		now:        time.Now,
	}
}

// CheckHost denies when the user already hosts maxPerHost live sessions.
func (q *QuotaEnforcer) CheckHost(ctx context.Context, hostID string) error {
	count, err := q.repo.CountActiveSessionsForHost(ctx, hostID, q.now().UTC())
	if err != nil {
		observability.RecordQuotaDecision(ctx, "host", "error")
		return apperr.Internal(err)
	}
	if count >= int64(q.maxPerHost) {
		observability.RecordQuotaDecision(ctx, "host", "deny")
		return apperr.QuotaExceeded("host session limit reached")
	}
	observability.RecordQuotaDecision(ctx, "host", "allow")
	return nil
}

// CheckGlobal denies when the system-wide live session count is at the
// ceiling.
func (q *QuotaEnforcer) CheckGlobal(ctx context.Context) error {
	count, err := q.repo.CountActiveSessions(ctx, q.now().UTC())
	if err != nil {
		observability.RecordQuotaDecision(ctx, "global", "error")
		return apperr.Internal(err)
	}
	if count >= int64(q.maxGlobal) {
		observability.RecordQuotaDecision(ctx, "global", "deny")
		return apperr.QuotaExceeded("global session limit reached")
	}
	observability.RecordQuotaDecision(ctx, "global", "allow")
	return nil
}

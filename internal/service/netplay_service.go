package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/retroplay/netplay-service/internal/apperr"
	"github.com/retroplay/netplay-service/internal/domain"
	"github.com/retroplay/netplay-service/internal/observability"
	"github.com/retroplay/netplay-service/internal/repository"
	"github.com/retroplay/netplay-service/internal/security"
)

// NetplayService owns every Session and Participant state transition. The
// signaling gateway validates connections through AuthorizePeer and reports
// closures through RecordDisconnect; it never mutates lifecycle state on its
// own.
type NetplayService struct {
	repo   repository.NetplayRepository
	tokens *security.PeerTokenAuthority
	quota  *QuotaEnforcer
	ttl    time.Duration
	now    func() time.Time
}

func NewNetplayService(repo repository.NetplayRepository, tokens *security.PeerTokenAuthority, quota *QuotaEnforcer, ttl time.Duration) *NetplayService {
	return &NetplayService{
		repo:   repo,
		tokens: tokens,
		quota:  quota,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SessionResult is returned by operations that mint a peer token. PeerToken
// is the plaintext, surfaced exactly once and never stored.
type SessionResult struct {
	Session     domain.Session     `json:"session"`
	Participant domain.Participant `json:"participant"`
	PeerToken   string             `json:"peer_token"`
}

// PeerGrant is the gateway-facing admission result. MintedToken is non-empty
// only when the host's first connection implicitly minted a token.
type PeerGrant struct {
	Session     domain.Session
	Participant domain.Participant
	MintedToken string
}

// CreateSession runs both quota checks, then creates the session and its host
// participant in one transaction. The host is connected immediately and
// receives a peer token.
func (s *NetplayService) CreateSession(ctx context.Context, hostUserID, romID string, saveStateID *string) (*SessionResult, error) {
	if err := s.quota.CheckHost(ctx, hostUserID); err != nil {
		observability.RecordLifecycleOperation(ctx, "create", string(apperr.KindOf(err)))
		return nil, err
	}
	if err := s.quota.CheckGlobal(ctx); err != nil {
		observability.RecordLifecycleOperation(ctx, "create", string(apperr.KindOf(err)))
		return nil, err
	}

	plaintext, digest, err := s.tokens.Issue()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.now().UTC()
	session := domain.Session{
		ID:             uuid.NewString(),
		RomID:          romID,
		HostID:         hostUserID,
		SaveStateID:    saveStateID,
		Status:         domain.SessionStatusOpen,
		ExpiresAt:      now.Add(s.ttl),
		LastActivityAt: now,
	}
	host := domain.Participant{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		UserID:        hostUserID,
		Role:          domain.RoleHost,
		Status:        domain.ParticipantStatusConnected,
		PeerTokenHash: &digest,
		ConnectedAt:   &now,
	}
	err = s.repo.WithTx(ctx, func(tx repository.NetplayRepository) error {
		if err := tx.CreateSession(ctx, &session); err != nil {
			return err
		}
		return tx.CreateParticipant(ctx, &host)
	})
	if err != nil {
		observability.RecordLifecycleOperation(ctx, "create", "internal")
		return nil, apperr.Internal(err)
	}
	observability.RecordLifecycleOperation(ctx, "create", "ok")
	return &SessionResult{Session: session, Participant: host, PeerToken: plaintext}, nil
}

// ListActiveSessions returns the caller's non-expired sessions, newest
// activity first. Expired sessions stay invisible even when their stored
// status is still open or active.
func (s *NetplayService) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.repo.ListActiveSessionsForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return sessions, nil
}

// Invite adds inviteeUserID as an invited player. Only the host may invite;
// no peer token is minted until the invitee joins.
func (s *NetplayService) Invite(ctx context.Context, sessionID, inviterUserID, inviteeUserID string) (*domain.Participant, error) {
	session, caller, err := s.loadForCaller(ctx, s.repo, sessionID, inviterUserID)
	if err != nil {
		observability.RecordLifecycleOperation(ctx, "invite", string(apperr.KindOf(err)))
		return nil, err
	}
	if caller.Role != domain.RoleHost {
		observability.RecordLifecycleOperation(ctx, "invite", "forbidden")
		return nil, apperr.Forbidden("only the host can invite")
	}
	if err := s.requireLive(session); err != nil {
		observability.RecordLifecycleOperation(ctx, "invite", string(apperr.KindOf(err)))
		return nil, err
	}
	if _, err := s.repo.FindParticipant(ctx, sessionID, inviteeUserID); err == nil {
		observability.RecordLifecycleOperation(ctx, "invite", "conflict")
		return nil, apperr.Conflict("user already invited or joined")
	} else if !errors.Is(err, repository.ErrParticipantNotFound) {
		return nil, apperr.Internal(err)
	}

	invitee := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    inviteeUserID,
		Role:      domain.RolePlayer,
		Status:    domain.ParticipantStatusInvited,
	}
	if err := s.repo.CreateParticipant(ctx, &invitee); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("user already invited or joined")
		}
		return nil, apperr.Internal(err)
	}
	observability.RecordLifecycleOperation(ctx, "invite", "ok")
	return &invitee, nil
}

// Join connects an invited participant and mints a fresh peer token. Joining
// again while connected is idempotent and re-issues the token. The first
// non-host join flips the session open -> active.
func (s *NetplayService) Join(ctx context.Context, sessionID, userID string) (*SessionResult, error) {
	var result *SessionResult
	err := s.repo.WithTx(ctx, func(tx repository.NetplayRepository) error {
		session, participant, err := s.loadForCaller(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		if err := s.requireLive(session); err != nil {
			return err
		}
		if participant.Status == domain.ParticipantStatusDisconnected {
			return apperr.Unavailable("participant already disconnected")
		}

		plaintext, digest, err := s.tokens.Issue()
		if err != nil {
			return apperr.Internal(err)
		}
		now := s.now().UTC()
		fields := map[string]any{
			"status":          domain.ParticipantStatusConnected,
			"peer_token_hash": digest,
			"connected_at":    now,
		}
		// Guarded writes: the read above is not locked, so a close committing
		// in between must win. Zero affected rows aborts the whole join.
		changed, err := tx.UpdateParticipantFieldsUnlessDisconnected(ctx, participant.ID, fields)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.Unavailable("session closed")
		}
		participant.Status = domain.ParticipantStatusConnected
		participant.PeerTokenHash = &digest
		participant.ConnectedAt = &now

		sessionFields := map[string]any{"last_activity_at": now}
		if session.Status == domain.SessionStatusOpen && participant.Role != domain.RoleHost {
			sessionFields["status"] = domain.SessionStatusActive
			session.Status = domain.SessionStatusActive
		}
		changed, err = tx.UpdateSessionFieldsUnlessClosed(ctx, session.ID, sessionFields)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.Unavailable("session closed")
		}
		session.LastActivityAt = now

		result = &SessionResult{Session: *session, Participant: *participant, PeerToken: plaintext}
		return nil
	})
	if err != nil {
		kind := apperr.KindOf(err)
		observability.RecordLifecycleOperation(ctx, "join", string(kind))
		if kind == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}
	observability.RecordLifecycleOperation(ctx, "join", "ok")
	return result, nil
}

// errStateRaced marks a transaction aborted because a concurrent close or
// disconnect reached the row first. It never escapes the service.
var errStateRaced = errors.New("lifecycle state changed concurrently")

// Heartbeat bumps the participant and session activity timestamps and slides
// the session deadline forward. A token mismatch never mutates anything and
// reports not-found, so a stale token cannot reveal whether a participant exists.
// A heartbeat racing a close, or arriving after the deadline has already
// passed, is a benign no-op: expiry is never slid backward into life.
func (s *NetplayService) Heartbeat(ctx context.Context, sessionID, userID, peerToken string) error {
	participant, err := s.repo.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			observability.RecordLifecycleOperation(ctx, "heartbeat", "not_found")
			return apperr.NotFound("invalid credential")
		}
		return apperr.Internal(err)
	}
	if participant.PeerTokenHash == nil || !s.tokens.Verify(peerToken, *participant.PeerTokenHash) {
		observability.RecordLifecycleOperation(ctx, "heartbeat", "not_found")
		return apperr.NotFound("invalid credential")
	}

	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return apperr.NotFound("invalid credential")
		}
		return apperr.Internal(err)
	}
	now := s.now().UTC()
	if participant.Status == domain.ParticipantStatusDisconnected ||
		session.Status == domain.SessionStatusClosed ||
		!session.ExpiresAt.After(now) {
		observability.RecordLifecycleOperation(ctx, "heartbeat", "noop")
		return nil
	}

	err = s.repo.WithTx(ctx, func(tx repository.NetplayRepository) error {
		changed, err := tx.UpdateParticipantFieldsUnlessDisconnected(ctx, participant.ID, map[string]any{
			"last_heartbeat_at": now,
		})
		if err != nil {
			return err
		}
		if !changed {
			return errStateRaced
		}
		changed, err = tx.UpdateSessionFieldsUnlessClosed(ctx, session.ID, map[string]any{
			"last_activity_at": now,
			"expires_at":       now.Add(s.ttl),
		})
		if err != nil {
			return err
		}
		if !changed {
			return errStateRaced
		}
		return nil
	})
	if errors.Is(err, errStateRaced) {
		observability.RecordLifecycleOperation(ctx, "heartbeat", "noop")
		return nil
	}
	if err != nil {
		return apperr.Internal(err)
	}
	observability.RecordLifecycleOperation(ctx, "heartbeat", "ok")
	return nil
}

// Close disconnects every participant and marks the session closed in one
// transaction. Only the host may close; closing a closed session is a no-op
// success.
func (s *NetplayService) Close(ctx context.Context, sessionID, callerUserID string) error {
	session, caller, err := s.loadForCaller(ctx, s.repo, sessionID, callerUserID)
	if err != nil {
		observability.RecordLifecycleOperation(ctx, "close", string(apperr.KindOf(err)))
		return err
	}
	if caller.Role != domain.RoleHost {
		observability.RecordLifecycleOperation(ctx, "close", "forbidden")
		return apperr.Forbidden("only the host can close the session")
	}
	if session.Status == domain.SessionStatusClosed {
		observability.RecordLifecycleOperation(ctx, "close", "noop")
		return nil
	}

	now := s.now().UTC()
	err = s.repo.WithTx(ctx, func(tx repository.NetplayRepository) error {
		if _, err := tx.DisconnectParticipants(ctx, sessionID, now); err != nil {
			return err
		}
		return tx.UpdateSessionFields(ctx, sessionID, map[string]any{
			"status":           domain.SessionStatusClosed,
			"last_activity_at": now,
		})
	})
	if err != nil {
		return apperr.Internal(err)
	}
	observability.RecordLifecycleOperation(ctx, "close", "ok")
	return nil
}

// AuthorizePeer is the gateway's session/participant admission step. Any
// failure collapses into a single not-found answer so a rejected connection
// cannot distinguish a wrong token from a missing session. On success it
// applies the implicit-heartbeat side effects of establishing a connection.
func (s *NetplayService) AuthorizePeer(ctx context.Context, sessionID, userID, peerToken string) (*PeerGrant, error) {
	unavailable := apperr.NotFound("session unavailable")

	participant, err := s.repo.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, unavailable
		}
		return nil, apperr.Internal(err)
	}
	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, unavailable
		}
		return nil, apperr.Internal(err)
	}
	if session.Status == domain.SessionStatusClosed || !session.ExpiresAt.After(s.now().UTC()) {
		return nil, unavailable
	}
	if participant.Status == domain.ParticipantStatusDisconnected {
		return nil, unavailable
	}

	minted := ""
	now := s.now().UTC()
	fields := map[string]any{"last_heartbeat_at": now}
	switch {
	case peerToken != "":
		if participant.PeerTokenHash == nil || !s.tokens.Verify(peerToken, *participant.PeerTokenHash) {
			return nil, unavailable
		}
	case participant.Role == domain.RoleHost && participant.PeerTokenHash == nil:
		// Host establishing their first connection before any token was
		// stored: mint one, mirroring join.
		plaintext, digest, err := s.tokens.Issue()
		if err != nil {
			return nil, apperr.Internal(err)
		}
		minted = plaintext
		fields["peer_token_hash"] = digest
		participant.PeerTokenHash = &digest
	default:
		return nil, unavailable
	}

	err = s.repo.WithTx(ctx, func(tx repository.NetplayRepository) error {
		changed, err := tx.UpdateParticipantFieldsUnlessDisconnected(ctx, participant.ID, fields)
		if err != nil {
			return err
		}
		if !changed {
			return errStateRaced
		}
		changed, err = tx.UpdateSessionFieldsUnlessClosed(ctx, session.ID, map[string]any{
			"last_activity_at": now,
			"expires_at":       now.Add(s.ttl),
		})
		if err != nil {
			return err
		}
		if !changed {
			return errStateRaced
		}
		return nil
	})
	if errors.Is(err, errStateRaced) {
		return nil, unavailable
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	hb := now
	participant.LastHeartbeatAt = &hb
	session.LastActivityAt = now
	session.ExpiresAt = now.Add(s.ttl)
	return &PeerGrant{Session: *session, Participant: *participant, MintedToken: minted}, nil
}

// RecordDisconnect marks a participant disconnected after its signaling
// connection closed. The session itself stays as it is; only an explicit host
// close or passive expiry ends it. Already-disconnected participants are left
// alone.
func (s *NetplayService) RecordDisconnect(ctx context.Context, sessionID, userID string) error {
	participant, err := s.repo.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if participant.Status == domain.ParticipantStatusDisconnected {
		return nil
	}
	now := s.now().UTC()
	err = s.repo.UpdateParticipantFields(ctx, participant.ID, map[string]any{
		"status":          domain.ParticipantStatusDisconnected,
		"disconnected_at": now,
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// loadForCaller resolves the session and the caller's participant record.
// A caller with no participant record gets not-found, never forbidden, so the
// session's existence is not revealed to outsiders.
func (s *NetplayService) loadForCaller(ctx context.Context, repo repository.NetplayRepository, sessionID, userID string) (*domain.Session, *domain.Participant, error) {
	session, err := repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, apperr.NotFound("session not found")
		}
		return nil, nil, apperr.Internal(err)
	}
	participant, err := repo.FindParticipant(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, nil, apperr.NotFound("session not found")
		}
		return nil, nil, apperr.Internal(err)
	}
	return session, participant, nil
}

func (s *NetplayService) requireLive(session *domain.Session) error {
	if session.Status == domain.SessionStatusClosed {
		return apperr.Unavailable("session closed")
	}
	if !session.ExpiresAt.After(s.now().UTC()) {
		return apperr.Unavailable("session expired")
	}
	return nil
}

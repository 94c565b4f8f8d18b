package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/retroplay/netplay-service/internal/apperr"
	"github.com/retroplay/netplay-service/internal/domain"
	"github.com/retroplay/netplay-service/internal/observability"
	"github.com/retroplay/netplay-service/internal/origin"
	"github.com/retroplay/netplay-service/internal/repository"
	"github.com/retroplay/netplay-service/internal/security"
	"github.com/retroplay/netplay-service/internal/service"
)

// Lifecycle is the slice of the lifecycle manager the gateway needs: state
// validation on admission and disconnect bookkeeping. The gateway never owns
// other lifecycle transitions.
type Lifecycle interface {
	AuthorizePeer(ctx context.Context, sessionID, userID, peerToken string) (*service.PeerGrant, error)
	RecordDisconnect(ctx context.Context, sessionID, userID string) error
}

// Gateway terminates authenticated signaling connections, binds each one to
// a (session, participant) pair and relays envelopes between bound
// connections. Relayed messages are durably recorded before any delivery
// attempt.
type Gateway struct {
	lifecycle      Lifecycle
	repo           repository.NetplayRepository
	bearer         *security.JWTManager
	registry       Registry
	guard          service.AdmissionGuard
	allowedOrigins []string
}

func NewGateway(lifecycle Lifecycle, repo repository.NetplayRepository, bearer *security.JWTManager, registry Registry, guard service.AdmissionGuard, allowedOrigins []string) *Gateway {
	return &Gateway{
		lifecycle:      lifecycle,
		repo:           repo,
		bearer:         bearer,
		registry:       registry,
		guard:          guard,
		allowedOrigins: allowedOrigins,
	}
}

// AdmitRequest carries the three pieces of evidence a connecting client
// presents, plus connection metadata.
type AdmitRequest struct {
	BearerToken string
	Origin      string
	SessionID   string
	PeerToken   string
	RemoteAddr  string
	Conn        Conn
}

// Admit runs the admission pipeline in strict order: bearer credential,
// origin allow-list, then the session/participant/token check. The origin
// check runs before any persistence access, so untrusted origins never reach
// the store. On success the connection is registered and the client receives
// an admitted event.
func (g *Gateway) Admit(ctx context.Context, req AdmitRequest) (*Peer, error) {
	claims, err := g.bearer.Verify(req.BearerToken)
	if err != nil || req.BearerToken == "" {
		observability.RecordAdmissionDecision(ctx, "credential", "reject")
		return nil, apperr.Unauthenticated("authentication required")
	}
	userID := claims.UserID()

	normalized, ok := origin.Normalize(req.Origin)
	if !ok || !origin.Allowed(normalized, g.allowedOrigins) {
		observability.RecordAdmissionDecision(ctx, "origin", "reject")
		return nil, apperr.OriginRejected("origin not allowed")
	}

	if g.guard != nil {
		cooldown, err := g.guard.Cooldown(ctx, userID, req.RemoteAddr)
		if err != nil {
			slog.WarnContext(ctx, "admission guard unavailable", "error", err)
		} else if cooldown > 0 {
			observability.RecordAdmissionDecision(ctx, "guard", "reject")
			return nil, apperr.NotFound("session unavailable")
		}
	}

	grant, err := g.lifecycle.AuthorizePeer(ctx, req.SessionID, userID, req.PeerToken)
	if err != nil {
		observability.RecordAdmissionDecision(ctx, "session", "reject")
		if g.guard != nil && apperr.KindOf(err) == apperr.KindNotFound {
			if _, gerr := g.guard.RegisterFailure(ctx, userID, req.RemoteAddr); gerr != nil {
				slog.WarnContext(ctx, "admission guard unavailable", "error", gerr)
			}
		}
		return nil, err
	}

	tokenHash := ""
	if grant.Participant.PeerTokenHash != nil {
		tokenHash = *grant.Participant.PeerTokenHash
	}
	peer := &Peer{
		SessionID:     grant.Session.ID,
		ParticipantID: grant.Participant.ID,
		UserID:        userID,
		TokenHash:     tokenHash,
		Conn:          req.Conn,
	}
	g.registry.Register(peer)

	if g.guard != nil {
		if err := g.guard.Reset(ctx, userID, req.RemoteAddr); err != nil {
			slog.WarnContext(ctx, "admission guard unavailable", "error", err)
		}
	}

	admitted := AdmittedEvent{
		Event:         eventAdmitted,
		SessionID:     peer.SessionID,
		ParticipantID: peer.ParticipantID,
		PeerToken:     grant.MintedToken,
	}
	if err := req.Conn.Send(admitted); err != nil {
		g.registry.Remove(peer.SessionID, peer.ParticipantID)
		return nil, apperr.Internal(err)
	}

	observability.RecordAdmissionDecision(ctx, "admitted", "ok")
	observability.AuditSignal(ctx, "signaling.connection_admitted", peer.SessionID, peer.ParticipantID, "user_id", userID)
	return peer, nil
}

// Relay handles one envelope from an admitted peer and returns the
// synchronous acknowledgement. Directed messages go to the resolved
// participant when a live connection exists; broadcasts go to every other
// live connection in the session. Either way the message is recorded first;
// a recording failure aborts delivery.
func (g *Gateway) Relay(ctx context.Context, peer *Peer, raw []byte) Ack {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		return errorAck("malformed message")
	}
	if msg.TargetUserID != "" {
		return g.relayDirected(ctx, peer, msg)
	}
	return g.relayBroadcast(ctx, peer, msg)
}

func (g *Gateway) relayDirected(ctx context.Context, peer *Peer, msg ClientMessage) Ack {
	recipient, err := g.repo.FindParticipant(ctx, peer.SessionID, msg.TargetUserID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return errorAck("no such participant")
		}
		return errorAck("message not recorded")
	}

	// An invited recipient has no stored digest yet; the audit row keeps
	// that absence as NULL rather than an empty string.
	var recipientHash *string
	if recipient.PeerTokenHash != nil {
		h := *recipient.PeerTokenHash
		recipientHash = &h
	}
	if err := g.persist(ctx, peer, msg, &recipient.ID, recipientHash); err != nil {
		return errorAck("message not recorded")
	}

	target, live := g.registry.Get(peer.SessionID, recipient.ID)
	if !live {
		observability.RecordRelay(ctx, msg.Type, "undeliverable")
		return okAck()
	}
	event := SignalEvent{
		Event:     eventSignalMessage,
		Type:      msg.Type,
		Sender:    peer.Ref(),
		Recipient: &PeerRef{UserID: recipient.UserID, ParticipantID: recipient.ID},
		Payload:   msg.Payload,
	}
	if err := target.Conn.Send(event); err != nil {
		// Best effort: the record is durable, delivery is not retried.
		slog.WarnContext(ctx, "signal delivery failed", "session_id", peer.SessionID, "recipient_id", recipient.ID, "error", err)
	}
	observability.RecordRelay(ctx, msg.Type, "delivered")
	return okAck()
}

func (g *Gateway) relayBroadcast(ctx context.Context, peer *Peer, msg ClientMessage) Ack {
	recipients := make([]*Peer, 0)
	for _, p := range g.registry.Peers(peer.SessionID) {
		if p.ParticipantID != peer.ParticipantID {
			recipients = append(recipients, p)
		}
	}

	if len(recipients) == 0 {
		// Nobody to deliver to, but the attempt still enters the audit log.
		if err := g.persist(ctx, peer, msg, nil, nil); err != nil {
			return errorAck("message not recorded")
		}
		observability.RecordRelay(ctx, msg.Type, "undeliverable")
		return okAck()
	}

	for _, target := range recipients {
		targetID := target.ParticipantID
		targetHash := target.TokenHash
		if err := g.persist(ctx, peer, msg, &targetID, &targetHash); err != nil {
			return errorAck("message not recorded")
		}
		event := SignalEvent{
			Event:     eventSignalMessage,
			Type:      msg.Type,
			Sender:    peer.Ref(),
			Recipient: &PeerRef{UserID: target.UserID, ParticipantID: target.ParticipantID},
			Payload:   msg.Payload,
		}
		if err := target.Conn.Send(event); err != nil {
			slog.WarnContext(ctx, "signal delivery failed", "session_id", peer.SessionID, "recipient_id", target.ParticipantID, "error", err)
		}
	}
	observability.RecordRelay(ctx, msg.Type, "broadcast")
	return okAck()
}

func (g *Gateway) persist(ctx context.Context, peer *Peer, msg ClientMessage, recipientID, recipientHash *string) error {
	record := &domain.SignalMessage{
		ID:                 uuid.NewString(),
		SessionID:          peer.SessionID,
		SenderID:           peer.ParticipantID,
		SenderTokenHash:    peer.TokenHash,
		RecipientID:        recipientID,
		RecipientTokenHash: recipientHash,
		Type:               msg.Type,
		Payload:            string(msg.Payload),
	}
	if err := g.repo.CreateSignalMessage(ctx, record); err != nil {
		slog.ErrorContext(ctx, "signal audit write failed", "session_id", peer.SessionID, "error", err)
		return err
	}
	return nil
}

// Disconnect unbinds a closed connection and marks its participant
// disconnected. The session itself is left alone; only host close or expiry
// ends it.
func (g *Gateway) Disconnect(ctx context.Context, peer *Peer) {
	g.registry.Remove(peer.SessionID, peer.ParticipantID)
	if err := g.lifecycle.RecordDisconnect(ctx, peer.SessionID, peer.UserID); err != nil {
		slog.WarnContext(ctx, "disconnect bookkeeping failed", "session_id", peer.SessionID, "participant_id", peer.ParticipantID, "error", err)
	}
	observability.AuditSignal(ctx, "signaling.connection_closed", peer.SessionID, peer.ParticipantID)
}

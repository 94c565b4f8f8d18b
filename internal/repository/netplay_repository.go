package repository

import (
	"context"
	"errors"
	"time"

	"github.com/retroplay/netplay-service/internal/domain"
	"github.com/retroplay/netplay-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDuplicate           = errors.New("duplicate record")
)

// NetplayRepository is the persistence boundary for the session lifecycle
// manager and the signaling gateway. Every multi-step mutation goes through
// WithTx; the transaction is the unit of atomicity.
type NetplayRepository interface {
	WithTx(ctx context.Context, fn func(tx NetplayRepository) error) error

	CreateSession(ctx context.Context, s *domain.Session) error
	FindSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSessionFields(ctx context.Context, id string, fields map[string]any) error
	UpdateSessionFieldsUnlessClosed(ctx context.Context, id string, fields map[string]any) (bool, error)
	ListActiveSessionsForUser(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)
	CountActiveSessionsForHost(ctx context.Context, hostID string, now time.Time) (int64, error)
	CountActiveSessions(ctx context.Context, now time.Time) (int64, error)

	CreateParticipant(ctx context.Context, p *domain.Participant) error
	FindParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	UpdateParticipantFields(ctx context.Context, id string, fields map[string]any) error
	UpdateParticipantFieldsUnlessDisconnected(ctx context.Context, id string, fields map[string]any) (bool, error)
	DisconnectParticipants(ctx context.Context, sessionID string, at time.Time) (int64, error)

	CreateSignalMessage(ctx context.Context, m *domain.SignalMessage) error
	ListSignalMessages(ctx context.Context, sessionID string, limit int) ([]domain.SignalMessage, error)
}

type GormNetplayRepository struct{ db *gorm.DB }

func NewNetplayRepository(db *gorm.DB) NetplayRepository {
	return &GormNetplayRepository{db: db}
}

// Migrate creates the schema for the three netplay tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Session{}, &domain.Participant{}, &domain.SignalMessage{})
}

func (r *GormNetplayRepository) WithTx(ctx context.Context, fn func(tx NetplayRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormNetplayRepository{db: tx})
	})
}

func (r *GormNetplayRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormNetplayRepository) FindSession(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find", "success")
	return &s, nil
}

func (r *GormNetplayRepository) UpdateSessionFields(ctx context.Context, id string, fields map[string]any) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "update_fields", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "update_fields", "success")
	return nil
}

// UpdateSessionFieldsUnlessClosed applies fields only while the session is
// not closed and reports whether a row changed. Zero rows means a concurrent
// close (or a missing session) won; the caller must not treat the write as
// applied.
func (r *GormNetplayRepository) UpdateSessionFieldsUnlessClosed(ctx context.Context, id string, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Where("status <> ?", domain.SessionStatusClosed).
		Updates(fields)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "update_fields_guarded", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "update_fields_guarded", "skipped")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "session", "update_fields_guarded", "success")
	return true, nil
}

func (r *GormNetplayRepository) ListActiveSessionsForUser(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Joins("JOIN participants ON participants.session_id = sessions.id").
		Where("participants.user_id = ?", userID).
		Where("sessions.status IN ?", []string{domain.SessionStatusOpen, domain.SessionStatusActive}).
		Where("sessions.expires_at > ?", now).
		Order("sessions.last_activity_at DESC").
		Preload("Participants").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_for_user", "success")
	return sessions, nil
}

func (r *GormNetplayRepository) CountActiveSessionsForHost(ctx context.Context, hostID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("host_id = ?", hostID).
		Where("status IN ?", []string{domain.SessionStatusOpen, domain.SessionStatusActive}).
		Where("expires_at > ?", now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count_active_for_host", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count_active_for_host", "success")
	return count, nil
}

func (r *GormNetplayRepository) CountActiveSessions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("status IN ?", []string{domain.SessionStatusOpen, domain.SessionStatusActive}).
		Where("expires_at > ?", now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count_active", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count_active", "success")
	return count, nil
}

func (r *GormNetplayRepository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "participant", "create", "duplicate")
			return ErrDuplicate
		}
		observability.RecordRepositoryOperation(ctx, "participant", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "participant", "create", "success")
	return nil
}

func (r *GormNetplayRepository) FindParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "participant", "find", "not_found")
			return nil, ErrParticipantNotFound
		}
		observability.RecordRepositoryOperation(ctx, "participant", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "participant", "find", "success")
	return &p, nil
}

func (r *GormNetplayRepository) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var participants []domain.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&participants).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "participant", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "participant", "list", "success")
	return participants, nil
}

func (r *GormNetplayRepository) UpdateParticipantFields(ctx context.Context, id string, fields map[string]any) error {
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "participant", "update_fields", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "participant", "update_fields", "success")
	return nil
}

// UpdateParticipantFieldsUnlessDisconnected applies fields only while the
// participant has not reached its terminal status, reporting whether a row
// changed. Disconnected is terminal; a guarded write never moves a
// participant back out of it.
func (r *GormNetplayRepository) UpdateParticipantFieldsUnlessDisconnected(ctx context.Context, id string, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("id = ?", id).
		Where("status <> ?", domain.ParticipantStatusDisconnected).
		Updates(fields)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "participant", "update_fields_guarded", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "participant", "update_fields_guarded", "skipped")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "participant", "update_fields_guarded", "success")
	return true, nil
}

func (r *GormNetplayRepository) DisconnectParticipants(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ? AND status <> ?", sessionID, domain.ParticipantStatusDisconnected).
		Updates(map[string]any{
			"status":          domain.ParticipantStatusDisconnected,
			"disconnected_at": at,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "participant", "disconnect_all", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "participant", "disconnect_all", "success")
	return res.RowsAffected, nil
}

func (r *GormNetplayRepository) CreateSignalMessage(ctx context.Context, m *domain.SignalMessage) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "signal_message", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "signal_message", "create", "success")
	return nil
}

func (r *GormNetplayRepository) ListSignalMessages(ctx context.Context, sessionID string, limit int) ([]domain.SignalMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var messages []domain.SignalMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "signal_message", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "signal_message", "list", "success")
	return messages, nil
}

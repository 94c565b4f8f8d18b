package domain

import "time"

const (
	RoleHost   = "host"
	RolePlayer = "player"
)

const (
	ParticipantStatusInvited      = "invited"
	ParticipantStatusConnected    = "connected"
	ParticipantStatusDisconnected = "disconnected"
)

// Participant ties a user to a session. A (session, user) pair is unique.
// PeerTokenHash holds the peppered digest of the participant's peer token;
// the plaintext is never persisted. Status advances invited -> connected ->
// disconnected (hosts are created directly in connected).
type Participant struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	SessionID       string     `gorm:"size:36;uniqueIndex:idx_participant_session_user;not null" json:"session_id"`
	UserID          string     `gorm:"size:36;uniqueIndex:idx_participant_session_user;not null" json:"user_id"`
	Role            string     `gorm:"size:16;not null" json:"role"`
	Status          string     `gorm:"size:16;index;not null" json:"status"`
	PeerTokenHash   *string    `gorm:"size:128" json:"-"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

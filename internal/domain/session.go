package domain

import "time"

const (
	SessionStatusOpen   = "open"
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Session is a netplay lobby owned by a single host. Its status only ever
// advances open -> active -> closed; expiry is a read-time predicate on
// ExpiresAt, never a stored transition. Rows are kept after close for audit.
type Session struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	RomID          string    `gorm:"size:36;index;not null" json:"rom_id"`
	HostID         string    `gorm:"size:36;index;not null" json:"host_id"`
	SaveStateID    *string   `gorm:"size:36" json:"save_state_id,omitempty"`
	Status         string    `gorm:"size:16;index;not null" json:"status"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	LastActivityAt time.Time `gorm:"index;not null" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Participants []Participant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

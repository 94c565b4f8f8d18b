package domain

import "time"

// SignalMessage is the append-only audit record of one relayed signaling
// message. A row is written before any delivery attempt; a nil RecipientID
// marks a broadcast-style record. Rows are never updated or deleted here.
type SignalMessage struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID          string    `gorm:"size:36;index;not null" json:"session_id"`
	SenderID           string    `gorm:"size:36;index;not null" json:"sender_id"`
	SenderTokenHash    string    `gorm:"size:128;not null" json:"-"`
	RecipientID        *string   `gorm:"size:36;index" json:"recipient_id,omitempty"`
	RecipientTokenHash *string   `gorm:"size:128" json:"-"`
	Type               string    `gorm:"size:64;not null" json:"type"`
	Payload            string    `gorm:"type:text" json:"payload"`
	CreatedAt          time.Time `json:"created_at"`
}

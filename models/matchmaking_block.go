package models

import "time"

// MatchmakingBlock is a temporary matchmaking ban, written when a user
// declines an offered rematch. The gate always re-reads ExpiresAt rather than
// assuming the configured cooldown, since the UI surfaces the remaining time.
type MatchmakingBlock struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Reason    string    `gorm:"type:varchar(64);not null" json:"reason"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

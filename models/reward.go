package models

import "time"

// Reward is one participant's payout from a completed match. Rows are written
// exactly once per (match, player) and never mutated afterward; reprocessing
// a completed match must not duplicate or alter them.
type Reward struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID  string `gorm:"uniqueIndex:idx_reward_match_player;not null" json:"match_id"`
	PlayerID string `gorm:"uniqueIndex:idx_reward_match_player;not null" json:"player_id"`
	Team     Team   `gorm:"type:varchar(8);not null" json:"team"`

	RewardAmountSEK float64 `gorm:"not null" json:"reward_amount_sek"`
	IsWinner        bool    `gorm:"not null" json:"is_winner"`

	// Creator share actually applied for this player (0.70 default, 0.78
	// for premium accounts). Recorded so payouts stay auditable after the
	// split policy changes.
	SplitApplied float64 `gorm:"not null" json:"split_applied"`

	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
)

// WinnerTeam is the resolved outcome of a completed match.
type WinnerTeam string

const (
	WinnerTeamA WinnerTeam = "team_a"
	WinnerTeamB WinnerTeam = "team_b"
	WinnerDraw  WinnerTeam = "draw"
)

// RematchState tracks the two-party rematch handshake on a completed match.
type RematchState string

const (
	RematchNone  RematchState = "none"
	RematchTeamA RematchState = "team_a"
	RematchTeamB RematchState = "team_b"
	RematchBoth  RematchState = "both"
)

// Match is a paired competitive session between two full lobbies.
// Scores only ever grow while the match is active; WinnerTeam is set exactly
// once at the active → completed transition and never reassigned. Rematches
// create a new Match, they never mutate a completed one.
type Match struct {
	ID       string       `gorm:"primaryKey;type:uuid" json:"id"`
	LobbyAID string       `gorm:"index;not null" json:"lobby_a_id"`
	LobbyBID string       `gorm:"index;not null" json:"lobby_b_id"`
	Format   BattleFormat `gorm:"type:varchar(8);not null" json:"format"`

	// Copied from the lobbies at pairing time. Fixed for the match's
	// lifetime even if lobby leadership later changes.
	TeamALeaderID string `gorm:"not null" json:"team_a_leader_id"`
	TeamBLeaderID string `gorm:"not null" json:"team_b_leader_id"`

	// Weighted gift points decide the winner; the SEK accumulators feed the
	// reward split. Tracked separately because score weighting may differ
	// from raw currency value.
	TeamAScore         int64   `gorm:"default:0" json:"team_a_score"`
	TeamBScore         int64   `gorm:"default:0" json:"team_b_score"`
	TeamATotalGiftsSEK float64 `gorm:"default:0" json:"team_a_total_gifts_sek"`
	TeamBTotalGiftsSEK float64 `gorm:"default:0" json:"team_b_total_gifts_sek"`

	Status     MatchStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	WinnerTeam *WinnerTeam `gorm:"type:varchar(8)" json:"winner_team,omitempty"`

	RematchRequestedBy RematchState `gorm:"type:varchar(8);not null;default:'none'" json:"rematch_requested_by"`
	RematchRequestedAt *time.Time   `json:"rematch_requested_at,omitempty"`

	EndsAt      time.Time  `gorm:"index;not null" json:"ends_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Set by the archive worker once the post-match summary is in R2.
	ArchivedToR2 bool `gorm:"default:false;index" json:"archived_to_r2"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamOf maps a lobby seat onto a match side. A self-paired lobby (both
// sides staffed in one lobby) keeps its internal split; in a cross-paired
// match each lobby's home roster is one side.
func (m *Match) TeamOf(member LobbyMember) Team {
	if m.LobbyAID == m.LobbyBID {
		return member.Team
	}
	if member.LobbyID == m.LobbyAID {
		return TeamA
	}
	return TeamB
}

// GiftEvent is the dedupe record for one scored gift. EventID is the
// client-supplied idempotency key; inserting it before the score increment is
// what makes retried gift deliveries safe to replay.
type GiftEvent struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	EventID   string    `gorm:"uniqueIndex;not null" json:"event_id"`
	MatchID   string    `gorm:"index;not null" json:"match_id"`
	SenderID  string    `gorm:"not null" json:"sender_id"`
	Team      Team      `gorm:"type:varchar(8);not null" json:"team"`
	Score     int64     `gorm:"not null" json:"score"`
	AmountSEK float64   `gorm:"not null" json:"amount_sek"`
	CreatedAt time.Time `json:"created_at"`
}

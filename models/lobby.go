package models

import (
	"time"

	"gorm.io/gorm"
)

// BattleFormat is the team size of a battle, "1v1" through "5v5".
type BattleFormat string

const (
	Format1v1 BattleFormat = "1v1"
	Format2v2 BattleFormat = "2v2"
	Format3v3 BattleFormat = "3v3"
	Format4v4 BattleFormat = "4v4"
	Format5v5 BattleFormat = "5v5"
)

// TeamSize returns the per-side player capacity, or 0 for an unknown format.
func (f BattleFormat) TeamSize() int {
	switch f {
	case Format1v1:
		return 1
	case Format2v2:
		return 2
	case Format3v3:
		return 3
	case Format4v4:
		return 4
	case Format5v5:
		return 5
	default:
		return 0
	}
}

// Team identifies one side of a lobby or match.
type Team string

const (
	TeamA Team = "team_a"
	TeamB Team = "team_b"
)

// Other returns the opposing side.
func (t Team) Other() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

type LobbyStatus string

const (
	LobbyStatusOpen     LobbyStatus = "open"
	LobbyStatusPaired   LobbyStatus = "paired"
	LobbyStatusArchived LobbyStatus = "archived"
)

// Lobby is a pre-match container holding up to two teams of players. It
// becomes a match either on its own, once a direct challenge fills both
// sides, or by cross-pairing with a counterpart lobby of the same format
// whose home roster fills the opposite side.
type Lobby struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	Format    BattleFormat `gorm:"type:varchar(8);not null;index" json:"format"`
	Status    LobbyStatus  `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	IsPrivate bool         `gorm:"default:false" json:"is_private"`

	// Leaders are the first player to join each side, or the next-joined
	// member after a leader leaves an unpaired lobby.
	TeamALeaderID string `gorm:"index" json:"team_a_leader_id"`
	TeamBLeaderID string `json:"team_b_leader_id"`

	// Set when the lobby was spawned from a running solo stream, so ending
	// the battle can route the broadcaster back to it.
	ReturnToSoloStream bool    `gorm:"default:false" json:"return_to_solo_stream"`
	OriginalStreamID   *string `json:"original_stream_id,omitempty"`

	// Set on lobbies spawned by an accepted rematch.
	RematchOfMatchID *string `gorm:"index" json:"rematch_of_match_id,omitempty"`

	Members []LobbyMember `gorm:"foreignKey:LobbyID" json:"members,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LobbyMember is one player's seat in a lobby. JoinedAt order decides
// leadership succession when a leader leaves before pairing.
type LobbyMember struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	LobbyID  string    `gorm:"index;not null" json:"lobby_id"`
	UserID   string    `gorm:"index;not null" json:"user_id"`
	Team     Team      `gorm:"type:varchar(8);not null" json:"team"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
)

// RematchService runs the two-party rematch handshake on completed matches
// and the end-battle exit path. A rematch needs both team leaders to agree;
// agreement spawns a fresh pre-seeded lobby pair and a new match, leaving the
// old match untouched as history.
type RematchService struct {
	DB      *gorm.DB
	Hub     *hub.Hub
	Lobbies *LobbyService
	Matches *MatchService
	Gate    *GateService
	Cfg     BattleConfig
}

func NewRematchService(db *gorm.DB, h *hub.Hub, lobbies *LobbyService, matches *MatchService, gate *GateService, cfg BattleConfig) *RematchService {
	return &RematchService{DB: db, Hub: h, Lobbies: lobbies, Matches: matches, Gate: gate, Cfg: cfg}
}

// RematchResult reports the handshake state after a request, and the new
// match once both leaders have agreed.
type RematchResult struct {
	State    models.RematchState `json:"state"`
	NewMatch *models.Match       `json:"new_match,omitempty"`
}

// RequestRematch records one leader's rematch request. The first request
// moves the state to that team; the opposing leader's request completes the
// handshake and spawns the rematch. Repeating an own pending request is a
// no-op.
func (s *RematchService) RequestRematch(matchID, requesterID string) (*RematchResult, error) {
	var result RematchResult
	var newMatch *models.Match

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := lockForUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.MatchStatusCompleted {
			return ErrMatchNotCompleted
		}

		var side models.RematchState
		switch requesterID {
		case match.TeamALeaderID:
			side = models.RematchTeamA
		case match.TeamBLeaderID:
			side = models.RematchTeamB
		default:
			return ErrNotLeader
		}

		switch match.RematchRequestedBy {
		case models.RematchNone:
			now := time.Now()
			if err := tx.Model(&match).Updates(map[string]interface{}{
				"rematch_requested_by": side,
				"rematch_requested_at": now,
			}).Error; err != nil {
				return fmt.Errorf("failed to record rematch request: %w", err)
			}
			result.State = side
			return nil

		case side:
			// Same leader asking again while the other side decides.
			result.State = side
			return nil

		case models.RematchBoth:
			result.State = models.RematchBoth
			return nil

		default:
			// The other side had already asked: symmetric AND reached.
			if err := tx.Model(&match).Update("rematch_requested_by", models.RematchBoth).Error; err != nil {
				return fmt.Errorf("failed to accept rematch: %w", err)
			}
			m, err := s.spawnRematchTx(tx, &match)
			if err != nil {
				return err
			}
			newMatch = m
			result.State = models.RematchBoth
			result.NewMatch = m
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if newMatch != nil {
		s.Hub.Broadcast(matchID, hub.Event{Type: "rematch_accepted", Payload: result})
		s.Hub.Broadcast(newMatch.ID, hub.Event{Type: "match_started", Payload: newMatch})
	} else {
		s.Hub.Broadcast(matchID, hub.Event{Type: "rematch_requested", Payload: result})
	}
	return &result, nil
}

// spawnRematchTx clones the old match's lobby structure with the same
// rosters (already full, bypassing open join) and pairs the clones into a
// new match. A self-paired match clones one lobby with both sides; a
// cross-paired match clones each home lobby.
func (s *RematchService) spawnRematchTx(tx *gorm.DB, old *models.Match) (*models.Match, error) {
	var members []models.LobbyMember
	err := tx.
		Where("lobby_id IN ?", []string{old.LobbyAID, old.LobbyBID}).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rosters for rematch: %w", err)
	}

	clone := func(sourceLobbyID, teamALeader, teamBLeader string) (*models.Lobby, error) {
		var src models.Lobby
		if err := tx.Unscoped().First(&src, "id = ?", sourceLobbyID).Error; err != nil {
			return nil, err
		}
		lobby := models.Lobby{
			ID:                 uuid.NewString(),
			Format:             old.Format,
			Status:             models.LobbyStatusOpen,
			IsPrivate:          src.IsPrivate,
			TeamALeaderID:      teamALeader,
			TeamBLeaderID:      teamBLeader,
			ReturnToSoloStream: src.ReturnToSoloStream,
			OriginalStreamID:   src.OriginalStreamID,
			RematchOfMatchID:   &old.ID,
		}
		if err := tx.Create(&lobby).Error; err != nil {
			return nil, fmt.Errorf("failed to create rematch lobby: %w", err)
		}
		for _, m := range members {
			if m.LobbyID != sourceLobbyID {
				continue
			}
			seat := models.LobbyMember{
				ID:       uuid.NewString(),
				LobbyID:  lobby.ID,
				UserID:   m.UserID,
				Team:     m.Team,
				JoinedAt: time.Now(),
			}
			if err := tx.Create(&seat).Error; err != nil {
				return nil, fmt.Errorf("failed to seat rematch player: %w", err)
			}
		}
		return &lobby, nil
	}

	var match *models.Match
	if old.LobbyAID == old.LobbyBID {
		lobby, err := clone(old.LobbyAID, old.TeamALeaderID, old.TeamBLeaderID)
		if err != nil {
			return nil, err
		}
		match, err = s.Lobbies.createMatchForPair(tx, lobby, lobby)
		if err != nil {
			return nil, err
		}
	} else {
		lobbyA, err := clone(old.LobbyAID, old.TeamALeaderID, "")
		if err != nil {
			return nil, err
		}
		lobbyB, err := clone(old.LobbyBID, old.TeamBLeaderID, "")
		if err != nil {
			return nil, err
		}
		match, err = s.Lobbies.createMatchForPair(tx, lobbyA, lobbyB)
		if err != nil {
			return nil, err
		}
	}
	log.Printf("[REMATCH] match %s rematched as %s", old.ID, match.ID)
	return match, nil
}

// DeclineRematch refuses the opposing leader's pending request. The decliner
// picks up a matchmaking block for the configured cooldown.
func (s *RematchService) DeclineRematch(matchID, requesterID string) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := lockForUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.MatchStatusCompleted {
			return ErrMatchNotCompleted
		}
		if requesterID != match.TeamALeaderID && requesterID != match.TeamBLeaderID {
			return ErrNotLeader
		}

		pendingFromOther := (match.RematchRequestedBy == models.RematchTeamA && requesterID == match.TeamBLeaderID) ||
			(match.RematchRequestedBy == models.RematchTeamB && requesterID == match.TeamALeaderID)
		if !pendingFromOther {
			return ErrNoPendingRematch
		}

		return tx.Model(&match).Updates(map[string]interface{}{
			"rematch_requested_by": models.RematchNone,
			"rematch_requested_at": nil,
		}).Error
	})
	if err != nil {
		return err
	}

	if err := s.Gate.BlockUser(requesterID, "rematch_declined"); err != nil {
		// Decline already stands; the block is best effort.
		log.Printf("[REMATCH] failed to block decliner %s: %v", requesterID, err)
	}
	s.Hub.Broadcast(matchID, hub.Event{Type: "rematch_declined", Payload: fiber.Map{
		"match_id":    matchID,
		"declined_by": requesterID,
	}})
	return nil
}

// ExitResult says where a leaving player should be routed.
type ExitResult struct {
	Destination string        `json:"destination"`
	Match       *models.Match `json:"match"`
}

// EndBattle force-ends the battle for a leaving player, regardless of
// rematch state. Leaders may always end; a non-leader participant may end
// only when their side's leader is no longer in the roster. The lobbies are
// archived unless a rematch was already accepted, and the caller is routed
// back to the original solo stream when the lobby was spawned from one.
func (s *RematchService) EndBattle(matchID, userID string) (*ExitResult, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}

	var members []models.LobbyMember
	err := s.DB.
		Where("lobby_id IN ?", []string{match.LobbyAID, match.LobbyBID}).
		Find(&members).Error
	if err != nil {
		return nil, err
	}

	var own *models.LobbyMember
	leaderPresent := map[models.Team]bool{}
	for i, m := range members {
		side := match.TeamOf(m)
		if m.UserID == match.TeamALeaderID && side == models.TeamA {
			leaderPresent[models.TeamA] = true
		}
		if m.UserID == match.TeamBLeaderID && side == models.TeamB {
			leaderPresent[models.TeamB] = true
		}
		if m.UserID == userID {
			own = &members[i]
		}
	}
	if own == nil {
		return nil, ErrNotParticipant
	}
	isLeader := userID == match.TeamALeaderID || userID == match.TeamBLeaderID
	if !isLeader && leaderPresent[match.TeamOf(*own)] {
		return nil, ErrNotLeader
	}

	if match.Status == models.MatchStatusActive {
		ended, err := s.Matches.EndMatch(matchID, "forced_end")
		if err != nil {
			return nil, err
		}
		match = *ended
	}

	// Without an accepted rematch the lobby pair is done; archive it so the
	// players are free to matchmake again.
	if match.RematchRequestedBy != models.RematchBoth {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			for _, id := range []string{match.LobbyAID, match.LobbyBID} {
				var lobby models.Lobby
				if err := tx.First(&lobby, "id = ?", id).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						continue // already archived
					}
					return err
				}
				if err := s.Lobbies.archiveLobbyTx(tx, &lobby); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	destination := "home"
	var ownLobby models.Lobby
	if err := s.DB.Unscoped().First(&ownLobby, "id = ?", own.LobbyID).Error; err == nil {
		if ownLobby.ReturnToSoloStream && ownLobby.OriginalStreamID != nil {
			destination = *ownLobby.OriginalStreamID
		}
	}

	return &ExitResult{Destination: destination, Match: &match}, nil
}

// --- HTTP handlers ---

// RequestRematchHandler handles POST /battles/matches/:id/rematch.
func (s *RematchService) RequestRematchHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	result, err := s.RequestRematch(c.Params("id"), userID)
	if err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(result)
}

// DeclineRematchHandler handles POST /battles/matches/:id/rematch/decline.
func (s *RematchService) DeclineRematchHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	if err := s.DeclineRematch(c.Params("id"), userID); err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(fiber.Map{"message": "rematch declined"})
}

// EndBattleHandler handles POST /battles/matches/:id/leave.
func (s *RematchService) EndBattleHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	result, err := s.EndBattle(c.Params("id"), userID)
	if err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(result)
}

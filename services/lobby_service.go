package services

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
)

// LobbyService owns lobby formation: creation through the matchmaking gate,
// team assignment on join, leadership succession on leave, and promotion of
// staffed lobbies into matches.
//
// Matches form in two ways. A direct challenge fills both sides of a single
// lobby, which then becomes its own match. A public lobby that staffed only
// its home side (team A) instead waits in the FIFO queue until another such
// lobby of the same format shows up; the two are cross-paired, each home
// roster becoming one side of the match.
type LobbyService struct {
	DB   *gorm.DB
	Hub  *hub.Hub
	Gate *GateService
	Cfg  BattleConfig
}

func NewLobbyService(db *gorm.DB, h *hub.Hub, gate *GateService, cfg BattleConfig) *LobbyService {
	return &LobbyService{DB: db, Hub: h, Gate: gate, Cfg: cfg}
}

// CreateLobby opens a new lobby with the creator seeded as team A leader.
// A public 1v1 lobby is queue-ready the moment it is created, so pairing is
// attempted immediately; the resulting match (if any) is returned alongside.
func (s *LobbyService) CreateLobby(creatorID string, format models.BattleFormat, isPrivate bool, originalStreamID *string) (*models.Lobby, *models.Match, error) {
	if format.TeamSize() == 0 {
		return nil, nil, ErrUnknownFormat
	}

	decision, err := s.Gate.CanCreateLobby(creatorID)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		return nil, nil, &BlockedError{CooldownRemaining: decision.CooldownRemaining}
	}

	lobby := models.Lobby{
		ID:            uuid.NewString(),
		Format:        format,
		Status:        models.LobbyStatusOpen,
		IsPrivate:     isPrivate,
		TeamALeaderID: creatorID,
	}
	if originalStreamID != nil && *originalStreamID != "" {
		lobby.ReturnToSoloStream = true
		lobby.OriginalStreamID = originalStreamID
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockUserForMatchmaking(tx, creatorID); err != nil {
			return err
		}

		booked, err := s.userInActiveLobby(tx, creatorID)
		if err != nil {
			return err
		}
		if booked {
			return ErrAlreadyInLobby
		}

		if err := tx.Create(&lobby).Error; err != nil {
			return fmt.Errorf("failed to create lobby: %w", err)
		}
		member := models.LobbyMember{
			ID:       uuid.NewString(),
			LobbyID:  lobby.ID,
			UserID:   creatorID,
			Team:     models.TeamA,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("failed to seat creator: %w", err)
		}
		lobby.Members = []models.LobbyMember{member}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var match *models.Match
	if !isPrivate && format.TeamSize() == 1 {
		match, err = s.TryPair(format)
		if err != nil {
			log.Printf("[LOBBY] pairing attempt failed for format %s: %v", format, err)
		}
	}
	return &lobby, match, nil
}

// JoinLobby seats a user in an open lobby: the preferred side if it has
// capacity, otherwise the other side, otherwise ErrLobbyFull. The first
// joiner of an empty side becomes its leader. A join that fills both sides
// promotes the lobby straight into a match; a join that completes only the
// home side of a public lobby puts it in the FIFO pairing queue.
//
// A lobby that filled normally is paired by the time the next join arrives,
// so late joins usually see ErrLobbyNotJoinable; ErrLobbyFull covers a full
// lobby left open by a failed promotion.
func (s *LobbyService) JoinLobby(lobbyID, userID string, preferred models.Team) (*models.Lobby, *models.Match, error) {
	if preferred != models.TeamA && preferred != models.TeamB {
		return nil, nil, ErrInvalidTeam
	}

	var lobby models.Lobby
	full := false
	queueReady := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// User lock before the lobby row lock, same order as CreateLobby.
		if err := lockUserForMatchmaking(tx, userID); err != nil {
			return err
		}

		if err := lockForUpdate(tx).First(&lobby, "id = ?", lobbyID).Error; err != nil {
			return err
		}
		if lobby.Status != models.LobbyStatusOpen {
			return ErrLobbyNotJoinable
		}

		booked, err := s.userInActiveLobby(tx, userID)
		if err != nil {
			return err
		}
		if booked {
			return ErrAlreadyInLobby
		}

		counts, err := s.sideCounts(tx, lobby.ID)
		if err != nil {
			return err
		}
		capacity := lobby.Format.TeamSize()

		team := preferred
		if counts[team] >= capacity {
			team = team.Other()
		}
		if counts[team] >= capacity {
			return ErrLobbyFull
		}

		member := models.LobbyMember{
			ID:       uuid.NewString(),
			LobbyID:  lobby.ID,
			UserID:   userID,
			Team:     team,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("failed to seat player: %w", err)
		}

		// First player on a previously empty side leads it.
		if counts[team] == 0 {
			field := "team_a_leader_id"
			if team == models.TeamB {
				field = "team_b_leader_id"
			}
			if err := tx.Model(&lobby).Update(field, userID).Error; err != nil {
				return fmt.Errorf("failed to set side leader: %w", err)
			}
		}

		counts[team]++
		full = counts[models.TeamA] >= capacity && counts[models.TeamB] >= capacity
		queueReady = counts[models.TeamA] >= capacity && counts[models.TeamB] == 0
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.Hub.Broadcast(lobby.ID, hub.Event{Type: "lobby_updated", Payload: fiber.Map{
		"lobby_id": lobby.ID,
		"user_id":  userID,
	}})

	var match *models.Match
	switch {
	case full:
		match, err = s.PromoteLobby(lobby.ID)
		if err != nil {
			// Promotion failures are not join failures: the lobby is staffed
			// and the next sweep or join retries.
			log.Printf("[LOBBY] promotion failed for lobby %s: %v", lobby.ID, err)
			err = nil
		}
	case queueReady && !lobby.IsPrivate:
		match, err = s.TryPair(lobby.Format)
		if err != nil {
			log.Printf("[LOBBY] pairing attempt failed for format %s: %v", lobby.Format, err)
			err = nil
		}
	}

	if err := s.DB.Preload("Members").First(&lobby, "id = ?", lobby.ID).Error; err != nil {
		return nil, nil, err
	}
	return &lobby, match, nil
}

// LeaveLobby removes a user from their current open lobby. Leadership passes
// to the next-joined member of the same side; an emptied side dissolves the
// lobby. Leaving a paired lobby is not possible here, that is EndBattle.
func (s *LobbyService) LeaveLobby(userID string) error {
	var after []hub.Event
	var topic string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var member models.LobbyMember
		err := tx.
			Joins("JOIN lobbies ON lobbies.id = lobby_members.lobby_id").
			Where("lobby_members.user_id = ? AND lobbies.status = ? AND lobbies.deleted_at IS NULL",
				userID, models.LobbyStatusOpen).
			First(&member).Error
		if err != nil {
			return err
		}

		var lobby models.Lobby
		if err := lockForUpdate(tx).First(&lobby, "id = ?", member.LobbyID).Error; err != nil {
			return err
		}

		if err := tx.Delete(&member).Error; err != nil {
			return fmt.Errorf("failed to unseat player: %w", err)
		}

		var remaining []models.LobbyMember
		if err := tx.
			Where("lobby_id = ? AND team = ?", lobby.ID, member.Team).
			Order("joined_at ASC").
			Find(&remaining).Error; err != nil {
			return err
		}

		topic = lobby.ID
		if len(remaining) == 0 {
			if err := s.archiveLobbyTx(tx, &lobby); err != nil {
				return err
			}
			after = append(after, hub.Event{Type: "lobby_dissolved", Payload: fiber.Map{"lobby_id": lobby.ID}})
			return nil
		}

		leader := lobby.TeamALeaderID
		field := "team_a_leader_id"
		if member.Team == models.TeamB {
			leader = lobby.TeamBLeaderID
			field = "team_b_leader_id"
		}
		if leader == userID {
			if err := tx.Model(&lobby).Update(field, remaining[0].UserID).Error; err != nil {
				return fmt.Errorf("failed to transfer leadership: %w", err)
			}
		}

		after = append(after, hub.Event{Type: "lobby_updated", Payload: fiber.Map{
			"lobby_id": lobby.ID,
			"left":     userID,
		}})
		return nil
	})
	if err != nil {
		return err
	}
	for _, ev := range after {
		s.Hub.Broadcast(topic, ev)
	}
	return nil
}

// PromoteLobby turns one fully staffed lobby (both sides at capacity) into
// an active match on its own. Used for direct challenges where players
// joined both sides of the same lobby.
func (s *LobbyService) PromoteLobby(lobbyID string) (*models.Match, error) {
	var match *models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var lobby models.Lobby
		if err := lockForUpdate(tx).First(&lobby, "id = ?", lobbyID).Error; err != nil {
			return err
		}
		if lobby.Status != models.LobbyStatusOpen {
			return nil // already paired by a concurrent join
		}

		counts, err := s.sideCounts(tx, lobby.ID)
		if err != nil {
			return err
		}
		capacity := lobby.Format.TeamSize()
		if counts[models.TeamA] < capacity || counts[models.TeamB] < capacity {
			return nil
		}

		m, err := s.createMatchForPair(tx, &lobby, &lobby)
		if err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announceMatch(match)
	return match, nil
}

// TryPair cross-pairs the two oldest queue-ready public lobbies of the given
// format: home side full, away side untouched. Returns nil match when fewer
// than two are waiting.
func (s *LobbyService) TryPair(format models.BattleFormat) (*models.Match, error) {
	var match *models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var candidates []models.Lobby
		if err := lockForUpdate(tx).
			Where("format = ? AND status = ? AND is_private = ?", format, models.LobbyStatusOpen, false).
			Order("created_at ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		capacity := format.TeamSize()
		var ready []*models.Lobby
		for i := range candidates {
			counts, err := s.sideCounts(tx, candidates[i].ID)
			if err != nil {
				return err
			}
			if counts[models.TeamA] >= capacity && counts[models.TeamB] == 0 {
				ready = append(ready, &candidates[i])
				if len(ready) == 2 {
					break
				}
			}
		}
		if len(ready) < 2 {
			return nil
		}

		m, err := s.createMatchForPair(tx, ready[0], ready[1])
		if err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announceMatch(match)
	return match, nil
}

func (s *LobbyService) announceMatch(match *models.Match) {
	if match == nil {
		return
	}
	started := hub.Event{Type: "match_started", Payload: match}
	s.Hub.Broadcast(match.LobbyAID, started)
	if match.LobbyBID != match.LobbyAID {
		s.Hub.Broadcast(match.LobbyBID, started)
	}
	s.Hub.Broadcast(match.ID, started)
}

// createMatchForPair marks the lobbies paired and creates the match between
// them, copying leaders and arming the battle timer. Self-pairs (a == b) keep
// the lobby's internal team split; cross-pairs take each lobby's home leader.
// Also used by the rematch negotiator for pre-seeded lobbies.
func (s *LobbyService) createMatchForPair(tx *gorm.DB, a, b *models.Lobby) (*models.Match, error) {
	if err := tx.Model(a).Update("status", models.LobbyStatusPaired).Error; err != nil {
		return nil, fmt.Errorf("failed to mark lobby %s paired: %w", a.ID, err)
	}
	teamBLeader := a.TeamBLeaderID
	if a.ID != b.ID {
		if err := tx.Model(b).Update("status", models.LobbyStatusPaired).Error; err != nil {
			return nil, fmt.Errorf("failed to mark lobby %s paired: %w", b.ID, err)
		}
		teamBLeader = b.TeamALeaderID
	}

	match := models.Match{
		ID:            uuid.NewString(),
		LobbyAID:      a.ID,
		LobbyBID:      b.ID,
		Format:        a.Format,
		TeamALeaderID: a.TeamALeaderID,
		TeamBLeaderID: teamBLeader,
		Status:        models.MatchStatusActive,
		EndsAt:        time.Now().Add(s.Cfg.MatchDuration),
	}
	if err := tx.Create(&match).Error; err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	log.Printf("[LOBBY] paired lobbies %s + %s into match %s (%s)", a.ID, b.ID, match.ID, match.Format)
	return &match, nil
}

// archiveLobbyTx marks a lobby archived and soft-deletes it.
func (s *LobbyService) archiveLobbyTx(tx *gorm.DB, lobby *models.Lobby) error {
	if err := tx.Model(lobby).Update("status", models.LobbyStatusArchived).Error; err != nil {
		return fmt.Errorf("failed to archive lobby %s: %w", lobby.ID, err)
	}
	if err := tx.Delete(lobby).Error; err != nil {
		return fmt.Errorf("failed to soft-delete lobby %s: %w", lobby.ID, err)
	}
	return nil
}

// userInActiveLobby enforces the no-double-booking invariant: membership in
// an open lobby, or in a paired lobby whose match is still active, blocks
// joining anything else.
func (s *LobbyService) userInActiveLobby(tx *gorm.DB, userID string) (bool, error) {
	var open int64
	err := tx.Model(&models.LobbyMember{}).
		Joins("JOIN lobbies ON lobbies.id = lobby_members.lobby_id").
		Where("lobby_members.user_id = ? AND lobbies.status = ? AND lobbies.deleted_at IS NULL",
			userID, models.LobbyStatusOpen).
		Count(&open).Error
	if err != nil {
		return false, err
	}
	if open > 0 {
		return true, nil
	}

	var inBattle int64
	err = tx.Model(&models.LobbyMember{}).
		Joins("JOIN lobbies ON lobbies.id = lobby_members.lobby_id").
		Joins("JOIN matches ON matches.lobby_a_id = lobbies.id OR matches.lobby_b_id = lobbies.id").
		Where("lobby_members.user_id = ? AND lobbies.status = ? AND matches.status = ? AND lobbies.deleted_at IS NULL",
			userID, models.LobbyStatusPaired, models.MatchStatusActive).
		Count(&inBattle).Error
	if err != nil {
		return false, err
	}
	return inBattle > 0, nil
}

func (s *LobbyService) sideCounts(tx *gorm.DB, lobbyID string) (map[models.Team]int, error) {
	var members []models.LobbyMember
	if err := tx.Where("lobby_id = ?", lobbyID).Find(&members).Error; err != nil {
		return nil, err
	}
	counts := map[models.Team]int{models.TeamA: 0, models.TeamB: 0}
	for _, m := range members {
		counts[m.Team]++
	}
	return counts, nil
}

// --- HTTP handlers ---

type createLobbyRequest struct {
	Format           string  `json:"format"`
	IsPrivate        bool    `json:"is_private"`
	OriginalStreamID *string `json:"original_stream_id"`
}

// CreateLobbyHandler handles POST /battles/lobbies.
func (s *LobbyService) CreateLobbyHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req createLobbyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	lobby, match, err := s.CreateLobby(userID, models.BattleFormat(req.Format), req.IsPrivate, req.OriginalStreamID)
	if err != nil {
		return HTTPError(c, err)
	}
	resp := fiber.Map{"lobby": lobby}
	if match != nil {
		resp["match"] = match
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

type joinLobbyRequest struct {
	PreferredTeam string `json:"preferred_team"`
}

// JoinLobbyHandler handles POST /battles/lobbies/:id/join.
func (s *LobbyService) JoinLobbyHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	lobbyID := c.Params("id")

	req := joinLobbyRequest{PreferredTeam: string(models.TeamA)}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if req.PreferredTeam == "" {
		req.PreferredTeam = string(models.TeamA)
	}

	lobby, match, err := s.JoinLobby(lobbyID, userID, models.Team(req.PreferredTeam))
	if err != nil {
		return HTTPError(c, err)
	}

	resp := fiber.Map{"lobby": lobby}
	if match != nil {
		resp["match"] = match
	}
	return c.JSON(resp)
}

// LeaveLobbyHandler handles POST /battles/lobbies/leave.
func (s *LobbyService) LeaveLobbyHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	if err := s.LeaveLobby(userID); err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(fiber.Map{"message": "left lobby"})
}

// GetLobbyHandler handles GET /battles/lobbies/:id.
func (s *LobbyService) GetLobbyHandler(c *fiber.Ctx) error {
	var lobby models.Lobby
	if err := s.DB.Preload("Members").First(&lobby, "id = ?", c.Params("id")).Error; err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(lobby)
}

package services

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
)

// MatchService is the battle state machine: score accrual while active, the
// single active → completed transition, and the reads the battle screens
// poll. Every viewer's gift is an independent concurrent writer against the
// same match row, so increments are applied as atomic accumulator updates,
// never read-modify-write.
type MatchService struct {
	DB      *gorm.DB
	Hub     *hub.Hub
	Rewards *RewardService
	Cfg     BattleConfig

	// EnqueueRetry, when set, buffers gift applications that failed with a
	// transient storage error so active play is not interrupted. Wired to
	// the gift retry worker in main.
	EnqueueRetry func(matchID string, in GiftInput) bool
}

func NewMatchService(db *gorm.DB, h *hub.Hub, rewards *RewardService, cfg BattleConfig) *MatchService {
	return &MatchService{DB: db, Hub: h, Rewards: rewards, Cfg: cfg}
}

// GiftInput is one qualifying gift event. EventID is the idempotency key:
// replays of the same event id never double count.
type GiftInput struct {
	EventID   string      `json:"event_id"`
	SenderID  string      `json:"sender_id"`
	Team      models.Team `json:"team"`
	Score     int64       `json:"score"`
	AmountSEK float64     `json:"amount_sek"`
}

// ApplyGift adds a gift's weighted score and raw SEK value to the receiving
// team's accumulators. The dedupe insert and the conditional increment commit
// together: a duplicate event id is a no-op, a completed match rejects the
// gift, and a transient failure leaves no partial state behind.
func (s *MatchService) ApplyGift(matchID string, in GiftInput) (*models.Match, error) {
	if in.Team != models.TeamA && in.Team != models.TeamB {
		return nil, ErrInvalidTeam
	}
	if in.EventID == "" {
		in.EventID = uuid.NewString()
	}

	duplicate := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		event := models.GiftEvent{
			ID:        uuid.NewString(),
			EventID:   in.EventID,
			MatchID:   matchID,
			SenderID:  in.SenderID,
			Team:      in.Team,
			Score:     in.Score,
			AmountSEK: in.AmountSEK,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
		if res.Error != nil {
			return fmt.Errorf("failed to record gift event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		updates := map[string]interface{}{
			"team_a_score":           gorm.Expr("team_a_score + ?", in.Score),
			"team_a_total_gifts_sek": gorm.Expr("team_a_total_gifts_sek + ?", in.AmountSEK),
		}
		if in.Team == models.TeamB {
			updates = map[string]interface{}{
				"team_b_score":           gorm.Expr("team_b_score + ?", in.Score),
				"team_b_total_gifts_sek": gorm.Expr("team_b_total_gifts_sek + ?", in.AmountSEK),
			}
		}

		res = tx.Model(&models.Match{}).
			Where("id = ? AND status = ?", matchID, models.MatchStatusActive).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to apply score increment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Match gone or already frozen. Rolling back drops the event
			// record too, so a late gift is rejected, not half-counted.
			var match models.Match
			if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
				return err
			}
			return ErrMatchCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}

	if !duplicate {
		s.Hub.Broadcast(match.ID, hub.Event{Type: "score_update", Payload: fiber.Map{
			"match_id":     match.ID,
			"team":         in.Team,
			"team_a_score": match.TeamAScore,
			"team_b_score": match.TeamBScore,
		}})
	}
	return &match, nil
}

// DetermineWinner applies the winner rule to frozen scores. Exact equality is
// a draw; no secondary tiebreak is applied.
func DetermineWinner(teamAScore, teamBScore int64) models.WinnerTeam {
	switch {
	case teamAScore > teamBScore:
		return models.WinnerTeamA
	case teamBScore > teamAScore:
		return models.WinnerTeamB
	default:
		return models.WinnerDraw
	}
}

// EndMatch freezes scoring, resolves the winner, and distributes rewards in
// the same transaction, so a reward row exists for every participant by the
// time any client observes the completed status. Timer expiry, a leader's
// end action and forced ends all route here; calling it on an already
// completed match is an idempotent success.
func (s *MatchService) EndMatch(matchID, trigger string) (*models.Match, error) {
	var match models.Match
	completedNow := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status == models.MatchStatusCompleted {
			return nil
		}

		// Freeze first: once this conditional update lands, concurrent
		// ApplyGift calls see zero affected rows and reject their events.
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ?", matchID, models.MatchStatusActive).
			Update("status", models.MatchStatusCompleted)
		if res.Error != nil {
			return fmt.Errorf("failed to freeze match: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost an end-match race; the other caller finishes the job.
			return nil
		}

		// Re-read the frozen accumulators before resolving the winner.
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}

		winner := DetermineWinner(match.TeamAScore, match.TeamBScore)
		now := time.Now()
		if err := tx.Model(&match).Updates(map[string]interface{}{
			"winner_team":  winner,
			"completed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to record winner: %w", err)
		}
		match.WinnerTeam = &winner
		match.CompletedAt = &now
		match.Status = models.MatchStatusCompleted

		if _, err := s.Rewards.distributeTx(tx, &match); err != nil {
			return fmt.Errorf("reward distribution failed: %w", err)
		}

		completedNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completedNow {
		log.Printf("[MATCH] %s completed (%s): %s, %d vs %d",
			match.ID, trigger, *match.WinnerTeam, match.TeamAScore, match.TeamBScore)
		s.Hub.Broadcast(match.ID, hub.Event{Type: "match_completed", Payload: match})
	}
	return &match, nil
}

// EndDueMatches force-ends every active match whose timer has expired.
// Called by the scheduler sweep.
func (s *MatchService) EndDueMatches() {
	var due []models.Match
	err := s.DB.
		Where("status = ? AND ends_at <= ?", models.MatchStatusActive, time.Now()).
		Find(&due).Error
	if err != nil {
		log.Printf("[MATCH] timer sweep query failed: %v", err)
		return
	}
	for _, m := range due {
		if _, err := s.EndMatch(m.ID, "timer"); err != nil {
			log.Printf("[MATCH] timer end failed for %s: %v", m.ID, err)
		}
	}
}

// ExpireStaleRematches resets one-sided rematch requests older than the
// configured expiry, so a pending handshake cannot hang forever.
func (s *MatchService) ExpireStaleRematches() {
	cutoff := time.Now().Add(-s.Cfg.RematchExpiry)
	var stale []models.Match
	err := s.DB.
		Where("status = ? AND rematch_requested_by IN ? AND rematch_requested_at <= ?",
			models.MatchStatusCompleted,
			[]models.RematchState{models.RematchTeamA, models.RematchTeamB},
			cutoff).
		Find(&stale).Error
	if err != nil {
		log.Printf("[MATCH] rematch expiry query failed: %v", err)
		return
	}
	for _, m := range stale {
		res := s.DB.Model(&models.Match{}).
			Where("id = ? AND rematch_requested_by = ?", m.ID, m.RematchRequestedBy).
			Updates(map[string]interface{}{
				"rematch_requested_by": models.RematchNone,
				"rematch_requested_at": nil,
			})
		if res.Error != nil {
			log.Printf("[MATCH] rematch expiry failed for %s: %v", m.ID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			s.Hub.Broadcast(m.ID, hub.Event{Type: "rematch_expired", Payload: fiber.Map{"match_id": m.ID}})
		}
	}
}

// --- HTTP handlers ---

// ApplyGiftHandler handles POST /battles/matches/:id/gifts. Transient
// storage failures are buffered for retry instead of interrupting play.
func (s *MatchService) ApplyGiftHandler(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var in GiftInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if in.SenderID == "" {
		in.SenderID = c.Locals("user_id").(string)
	}

	match, err := s.ApplyGift(matchID, in)
	if err != nil {
		if IsTransient(err) && s.EnqueueRetry != nil && s.EnqueueRetry(matchID, in) {
			log.Printf("[MATCH] buffered gift %s for retry: %v", in.EventID, err)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "gift accepted, applying"})
		}
		return HTTPError(c, err)
	}
	return c.JSON(match)
}

// EndMatchHandler handles POST /battles/matches/:id/end (leader action).
func (s *MatchService) EndMatchHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	matchID := c.Params("id")

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return HTTPError(c, err)
	}
	if userID != match.TeamALeaderID && userID != match.TeamBLeaderID {
		return HTTPError(c, ErrNotLeader)
	}

	ended, err := s.EndMatch(matchID, "leader")
	if err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(ended)
}

// GetMatchHandler handles GET /battles/matches/:id.
func (s *MatchService) GetMatchHandler(c *fiber.Ctx) error {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", c.Params("id")).Error; err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(match)
}

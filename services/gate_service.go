package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"roast-battle-engine/models"
)

// GateService answers the single matchmaking question: may this user create
// a lobby right now? It is read-only apart from BlockUser, which the rematch
// negotiator calls when a user declines an offered match.
type GateService struct {
	DB  *gorm.DB
	Cfg BattleConfig
}

func NewGateService(db *gorm.DB, cfg BattleConfig) *GateService {
	return &GateService{DB: db, Cfg: cfg}
}

// GateDecision is the gate's answer for one user.
type GateDecision struct {
	Allowed           bool          `json:"allowed"`
	CooldownRemaining time.Duration `json:"-"`
}

// CanCreateLobby checks for an unexpired matchmaking block. A failed lookup
// denies creation (fail closed) and returns a retryable error.
func (s *GateService) CanCreateLobby(userID string) (GateDecision, error) {
	var block models.MatchmakingBlock
	err := s.DB.
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("expires_at DESC").
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GateDecision{Allowed: true}, nil
	}
	if err != nil {
		return GateDecision{}, fmt.Errorf("block lookup failed: %w", err)
	}
	return GateDecision{
		Allowed:           false,
		CooldownRemaining: time.Until(block.ExpiresAt),
	}, nil
}

// BlockUser writes a temporary matchmaking block for the configured cooldown.
func (s *GateService) BlockUser(userID, reason string) error {
	block := models.MatchmakingBlock{
		ID:        uuid.NewString(),
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: time.Now().Add(s.Cfg.DeclineCooldown),
	}
	if err := s.DB.Create(&block).Error; err != nil {
		return fmt.Errorf("failed to write matchmaking block: %w", err)
	}
	log.Printf("[GATE] blocked user %s for %s (%s)", userID, s.Cfg.DeclineCooldown, reason)
	return nil
}

// PurgeExpiredBlocks deletes blocks past their expiry. Called by the
// scheduler; the gate itself never reads expired rows.
func (s *GateService) PurgeExpiredBlocks() error {
	res := s.DB.Where("expires_at <= ?", time.Now()).Delete(&models.MatchmakingBlock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("[GATE] purged %d expired matchmaking blocks", res.RowsAffected)
	}
	return nil
}

// CheckGate exposes the gate decision to the format-selection screen.
func (s *GateService) CheckGate(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	decision, err := s.CanCreateLobby(userID)
	if err != nil {
		log.Printf("[GATE] lookup failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "gate check failed, retry later",
		})
	}

	if !decision.Allowed {
		return c.JSON(fiber.Map{
			"allowed":          false,
			"cooldown_seconds": int(decision.CooldownRemaining.Seconds()),
		})
	}
	return c.JSON(fiber.Map{"allowed": true})
}

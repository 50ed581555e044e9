package services

import (
	"fmt"
	"log"
	"math"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"roast-battle-engine/models"
)

// SplitResolver returns the creator share of the platform split for one
// player. The default is the flat 70% creator share; premium accounts get
// 78% (platform share drops to 22%), resolved by whatever membership lookup
// the deployment injects.
type SplitResolver func(playerID string) float64

// RewardService computes and persists each participant's payout after a
// match completes. Distribution is idempotent: rewards already written for a
// match are returned as-is and never recomputed or altered.
type RewardService struct {
	DB    *gorm.DB
	Split SplitResolver
	Cfg   BattleConfig
}

func NewRewardService(db *gorm.DB, cfg BattleConfig, split SplitResolver) *RewardService {
	if split == nil {
		split = func(string) float64 { return cfg.DefaultCreatorShare }
	}
	return &RewardService{DB: db, Split: split, Cfg: cfg}
}

// DistributeRewards distributes rewards for an already completed match.
// Used for retrying after a partial end-match failure; the normal path runs
// inside the end-match transaction via distributeTx.
func (s *RewardService) DistributeRewards(matchID string) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := lockForUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.MatchStatusCompleted {
			return ErrMatchNotCompleted
		}
		var err error
		rewards, err = s.distributeTx(tx, &match)
		return err
	})
	return rewards, err
}

// distributeTx writes one reward row per participant. Re-invocation for an
// already rewarded match is a no-op returning the existing rows, so retries
// after partial failures cannot double-pay.
func (s *RewardService) distributeTx(tx *gorm.DB, match *models.Match) ([]models.Reward, error) {
	var existing []models.Reward
	if err := tx.Where("match_id = ?", match.ID).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing rewards: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	var members []models.LobbyMember
	err := tx.
		Where("lobby_id IN ?", []string{match.LobbyAID, match.LobbyBID}).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rosters: %w", err)
	}

	counts := map[models.Team]int{}
	for _, m := range members {
		counts[match.TeamOf(m)]++
	}

	rewards := make([]models.Reward, 0, len(members))
	for _, m := range members {
		side := match.TeamOf(m)
		teamTotal := match.TeamATotalGiftsSEK
		if side == models.TeamB {
			teamTotal = match.TeamBTotalGiftsSEK
		}

		// Equal pro-rata slice of the team pot, scaled by the player's
		// effective creator share.
		base := 0.0
		if counts[side] > 0 {
			base = teamTotal / float64(counts[side])
		}
		share := s.Split(m.UserID)
		amount := base * share

		isWinner := match.WinnerTeam != nil &&
			*match.WinnerTeam != models.WinnerDraw &&
			models.Team(*match.WinnerTeam) == side
		if isWinner {
			amount *= s.Cfg.WinnerBonusMultiplier
		}

		rewards = append(rewards, models.Reward{
			ID:              uuid.NewString(),
			MatchID:         match.ID,
			PlayerID:        m.UserID,
			Team:            side,
			RewardAmountSEK: roundSEK(amount),
			IsWinner:        isWinner,
			SplitApplied:    share,
		})
	}

	if len(rewards) > 0 {
		if err := tx.Create(&rewards).Error; err != nil {
			return nil, fmt.Errorf("failed to write rewards: %w", err)
		}
	}
	log.Printf("[REWARD] distributed %d rewards for match %s", len(rewards), match.ID)
	return rewards, nil
}

// roundSEK rounds to whole öre.
func roundSEK(v float64) float64 {
	return math.Round(v*100) / 100
}

// GetMatchRewardsHandler handles GET /battles/matches/:id/rewards.
func (s *RewardService) GetMatchRewardsHandler(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return HTTPError(c, err)
	}

	var rewards []models.Reward
	if err := s.DB.Where("match_id = ?", matchID).Find(&rewards).Error; err != nil {
		return HTTPError(c, err)
	}
	return c.JSON(fiber.Map{
		"match_id": matchID,
		"rewards":  rewards,
	})
}

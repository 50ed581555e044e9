package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"roast-battle-engine/models"
)

func TestRewardDistributionIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")

	applyGift(t, e, match.ID, "ev-1", teamA[0], models.TeamA, 100, 100)
	completeMatch(t, e, match.ID)

	var first []models.Reward
	require.NoError(t, e.db.Where("match_id = ?", match.ID).Order("player_id ASC").Find(&first).Error)
	require.Len(t, first, 2)

	// A retry after the end-match transaction returns the same rows.
	again, err := e.rewards.DistributeRewards(match.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)

	ids := map[string]bool{}
	for _, r := range first {
		ids[r.ID] = true
	}
	for _, r := range again {
		require.True(t, ids[r.ID], "retry must not mint new reward rows")
	}
}

func TestRewardDistributionRequiresCompletedMatch(t *testing.T) {
	e := newTestEngine(t)
	match, _, _ := startMatch(t, e, models.Format1v1, "m")

	_, err := e.rewards.DistributeRewards(match.ID)
	require.ErrorIs(t, err, ErrMatchNotCompleted)
}

func TestDrawPaysNoWinnerBonus(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")

	applyGift(t, e, match.ID, "ev-1", teamA[0], models.TeamA, 40, 40)
	applyGift(t, e, match.ID, "ev-2", teamA[0], models.TeamB, 40, 40)
	completeMatch(t, e, match.ID)

	var rewards []models.Reward
	require.NoError(t, e.db.Where("match_id = ?", match.ID).Find(&rewards).Error)
	require.Len(t, rewards, 2)
	for _, r := range rewards {
		require.False(t, r.IsWinner)
		require.InDelta(t, 28.0, r.RewardAmountSEK, 1e-9) // 40 * 0.70, no bonus
	}
}

func TestPremiumSplitResolver(t *testing.T) {
	premium := map[string]bool{"m-a1": true}
	e := newTestEngineWithSplit(t, func(playerID string) float64 {
		if premium[playerID] {
			return 0.78
		}
		return 0.70
	})

	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")
	applyGift(t, e, match.ID, "ev-1", teamA[0], models.TeamA, 100, 100)
	applyGift(t, e, match.ID, "ev-2", teamA[0], models.TeamB, 40, 40)
	completeMatch(t, e, match.ID)

	var rewards []models.Reward
	require.NoError(t, e.db.Where("match_id = ?", match.ID).Order("player_id ASC").Find(&rewards).Error)
	require.Len(t, rewards, 2)

	// Premium winner: 100 * 0.78 * 1.5.
	require.Equal(t, "m-a1", rewards[0].PlayerID)
	require.InDelta(t, 0.78, rewards[0].SplitApplied, 1e-9)
	require.InDelta(t, 117.0, rewards[0].RewardAmountSEK, 1e-9)

	// Standard loser: 40 * 0.70.
	require.Equal(t, "m-b1", rewards[1].PlayerID)
	require.InDelta(t, 0.70, rewards[1].SplitApplied, 1e-9)
	require.InDelta(t, 28.0, rewards[1].RewardAmountSEK, 1e-9)
}

func TestTeamPotSplitsProRata(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, teamB := startMatch(t, e, models.Format2v2, "m")

	applyGift(t, e, match.ID, "ev-1", teamB[0], models.TeamA, 100, 100)
	completeMatch(t, e, match.ID)

	var rewards []models.Reward
	require.NoError(t, e.db.Where("match_id = ?", match.ID).Find(&rewards).Error)
	require.Len(t, rewards, 4)

	for _, r := range rewards {
		switch r.Team {
		case models.TeamA:
			// Half the 100 SEK pot each, 70% share, 1.5 winner bonus.
			require.True(t, r.IsWinner)
			require.InDelta(t, 52.5, r.RewardAmountSEK, 1e-9)
			require.Contains(t, teamA, r.PlayerID)
		case models.TeamB:
			require.False(t, r.IsWinner)
			require.Zero(t, r.RewardAmountSEK)
			require.Contains(t, teamB, r.PlayerID)
		}
	}
}

func TestRewardAmountsRoundToWholeOre(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format3v3, "m")

	// 100 SEK over three players: 33.333... * 0.70 * 1.5 = 34.9999...
	applyGift(t, e, match.ID, "ev-1", teamA[0], models.TeamA, 100, 100)
	completeMatch(t, e, match.ID)

	var rewards []models.Reward
	require.NoError(t, e.db.Where("match_id = ? AND team = ?", match.ID, models.TeamA).Find(&rewards).Error)
	require.Len(t, rewards, 3)
	for _, r := range rewards {
		require.InDelta(t, 35.0, r.RewardAmountSEK, 1e-9)
	}
}

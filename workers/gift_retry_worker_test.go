package workers

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
	"roast-battle-engine/services"
)

func newRetryHarness(t *testing.T) (*gorm.DB, *GiftRetryWorker, *models.Match) {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Lobby{},
		&models.LobbyMember{},
		&models.Match{},
		&models.GiftEvent{},
		&models.Reward{},
		&models.MatchmakingBlock{},
	))

	cfg := services.DefaultBattleConfig()
	matches := services.NewMatchService(db, hub.NewHub(), services.NewRewardService(db, cfg, nil), cfg)
	worker := NewGiftRetryWorker(matches, 8)

	lobby := models.Lobby{
		ID:            uuid.NewString(),
		Format:        models.Format1v1,
		Status:        models.LobbyStatusPaired,
		TeamALeaderID: "u1",
		TeamBLeaderID: "u2",
	}
	require.NoError(t, db.Create(&lobby).Error)
	for _, seat := range []models.LobbyMember{
		{ID: uuid.NewString(), LobbyID: lobby.ID, UserID: "u1", Team: models.TeamA, JoinedAt: time.Now()},
		{ID: uuid.NewString(), LobbyID: lobby.ID, UserID: "u2", Team: models.TeamB, JoinedAt: time.Now()},
	} {
		require.NoError(t, db.Create(&seat).Error)
	}

	match := models.Match{
		ID:            uuid.NewString(),
		LobbyAID:      lobby.ID,
		LobbyBID:      lobby.ID,
		Format:        models.Format1v1,
		TeamALeaderID: "u1",
		TeamBLeaderID: "u2",
		Status:        models.MatchStatusActive,
		EndsAt:        time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, db.Create(&match).Error)
	return db, worker, &match
}

func TestSweepAppliesDueGiftsPastWaitingOnes(t *testing.T) {
	db, worker, match := newRetryHarness(t)

	waiting := pendingGift{
		MatchID:  match.ID,
		Input:    services.GiftInput{EventID: "ev-waiting", SenderID: "v1", Team: models.TeamA, Score: 99, AmountSEK: 99},
		Attempts: 2,
		NextTry:  time.Now().Add(time.Hour),
	}
	due := pendingGift{
		MatchID:  match.ID,
		Input:    services.GiftInput{EventID: "ev-due", SenderID: "v2", Team: models.TeamA, Score: 10, AmountSEK: 10},
		Attempts: 1,
	}

	remaining := worker.sweep([]pendingGift{waiting, due})

	// The due gift applied even though an earlier one sits in backoff.
	require.Len(t, remaining, 1)
	require.Equal(t, "ev-waiting", remaining[0].Input.EventID)
	require.Equal(t, 2, remaining[0].Attempts)

	var updated models.Match
	require.NoError(t, db.First(&updated, "id = ?", match.ID).Error)
	require.EqualValues(t, 10, updated.TeamAScore)
}

func TestSweepDropsGiftsForCompletedMatch(t *testing.T) {
	db, worker, match := newRetryHarness(t)
	require.NoError(t, db.Model(&models.Match{}).
		Where("id = ?", match.ID).
		Update("status", models.MatchStatusCompleted).Error)

	late := pendingGift{
		MatchID:  match.ID,
		Input:    services.GiftInput{EventID: "ev-late", SenderID: "v1", Team: models.TeamB, Score: 10, AmountSEK: 10},
		Attempts: 1,
	}

	remaining := worker.sweep([]pendingGift{late})
	require.Empty(t, remaining)

	var updated models.Match
	require.NoError(t, db.First(&updated, "id = ?", match.ID).Error)
	require.Zero(t, updated.TeamBScore)
}

func TestSweepGivesUpAfterAttemptBudget(t *testing.T) {
	_, worker, _ := newRetryHarness(t)

	// A match that never existed fails non-transiently (not found).
	doomed := pendingGift{
		MatchID:  uuid.NewString(),
		Input:    services.GiftInput{EventID: "ev-doomed", SenderID: "v1", Team: models.TeamA, Score: 5, AmountSEK: 5},
		Attempts: maxGiftAttempts,
	}

	remaining := worker.sweep([]pendingGift{doomed})
	require.Empty(t, remaining)
}

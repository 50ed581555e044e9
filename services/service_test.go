package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
)

type testEngine struct {
	db        *gorm.DB
	hub       *hub.Hub
	gate      *GateService
	lobbies   *LobbyService
	matches   *MatchService
	rewards   *RewardService
	rematches *RematchService
	cfg       BattleConfig
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// One shared in-memory database per test, named after the test so
	// parallel tests never collide.
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
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
	return db
}

func newTestEngine(t *testing.T) *testEngine {
	return newTestEngineWithSplit(t, nil)
}

func newTestEngineWithSplit(t *testing.T, split SplitResolver) *testEngine {
	t.Helper()

	db := newTestDB(t)
	cfg := DefaultBattleConfig()
	h := hub.NewHub()

	gate := NewGateService(db, cfg)
	rewards := NewRewardService(db, cfg, split)
	lobbies := NewLobbyService(db, h, gate, cfg)
	matches := NewMatchService(db, h, rewards, cfg)
	rematches := NewRematchService(db, h, lobbies, matches, gate, cfg)

	return &testEngine{
		db:        db,
		hub:       h,
		gate:      gate,
		lobbies:   lobbies,
		matches:   matches,
		rewards:   rewards,
		rematches: rematches,
		cfg:       cfg,
	}
}

// startMatch builds a private lobby with both sides staffed and returns the
// match it was promoted into, plus the two rosters. User ids are derived from
// the prefix so one test can run several matches.
func startMatch(t *testing.T, e *testEngine, format models.BattleFormat, prefix string) (*models.Match, []string, []string) {
	t.Helper()

	n := format.TeamSize()
	require.Greater(t, n, 0)

	creator := prefix + "-a1"
	lobby, _, err := e.lobbies.CreateLobby(creator, format, true, nil)
	require.NoError(t, err)

	teamA := []string{creator}
	for i := 2; i <= n; i++ {
		id := fmt.Sprintf("%s-a%d", prefix, i)
		_, _, err := e.lobbies.JoinLobby(lobby.ID, id, models.TeamA)
		require.NoError(t, err)
		teamA = append(teamA, id)
	}

	var teamB []string
	var match *models.Match
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-b%d", prefix, i)
		_, m, err := e.lobbies.JoinLobby(lobby.ID, id, models.TeamB)
		require.NoError(t, err)
		teamB = append(teamB, id)
		if m != nil {
			match = m
		}
	}

	require.NotNil(t, match, "filling both sides should promote the lobby")
	require.Equal(t, models.MatchStatusActive, match.Status)
	return match, teamA, teamB
}

func completeMatch(t *testing.T, e *testEngine, matchID string) *models.Match {
	t.Helper()

	m, err := e.matches.EndMatch(matchID, "test")
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusCompleted, m.Status)
	return m
}

func applyGift(t *testing.T, e *testEngine, matchID, eventID, sender string, team models.Team, score int64, sek float64) *models.Match {
	t.Helper()

	m, err := e.matches.ApplyGift(matchID, GiftInput{
		EventID:   eventID,
		SenderID:  sender,
		Team:      team,
		Score:     score,
		AmountSEK: sek,
	})
	require.NoError(t, err)
	return m
}

package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"roast-battle-engine/models"
)

func TestGateAllowsUnblockedUser(t *testing.T) {
	e := newTestEngine(t)

	decision, err := e.gate.CanCreateLobby("viewer-1")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Zero(t, decision.CooldownRemaining)
}

func TestGateDeniesBlockedUserWithCooldown(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.gate.BlockUser("viewer-1", "rematch_declined"))

	decision, err := e.gate.CanCreateLobby("viewer-1")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Greater(t, decision.CooldownRemaining, time.Duration(0))
	require.LessOrEqual(t, decision.CooldownRemaining, e.cfg.DeclineCooldown)

	// Other users are unaffected.
	other, err := e.gate.CanCreateLobby("viewer-2")
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestGateIgnoresExpiredBlocks(t *testing.T) {
	e := newTestEngine(t)

	expired := models.MatchmakingBlock{
		ID:        uuid.NewString(),
		UserID:    "viewer-1",
		Reason:    "rematch_declined",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, e.db.Create(&expired).Error)

	decision, err := e.gate.CanCreateLobby("viewer-1")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestGateFailsClosedWhenLookupFails(t *testing.T) {
	e := newTestEngine(t)

	// With the block table gone every lookup errors; the gate must deny
	// rather than wave the user through.
	require.NoError(t, e.db.Migrator().DropTable(&models.MatchmakingBlock{}))

	_, err := e.gate.CanCreateLobby("viewer-1")
	require.Error(t, err)

	lobby, _, err := e.lobbies.CreateLobby("viewer-1", models.Format1v1, true, nil)
	require.Error(t, err)
	var blocked *BlockedError
	require.False(t, errors.As(err, &blocked), "a storage failure is not a cooldown block")
	require.Nil(t, lobby)

	var count int64
	require.NoError(t, e.db.Model(&models.Lobby{}).Count(&count).Error)
	require.Zero(t, count, "no lobby may be created while the gate cannot answer")
}

func TestPurgeExpiredBlocks(t *testing.T) {
	e := newTestEngine(t)

	expired := models.MatchmakingBlock{
		ID:        uuid.NewString(),
		UserID:    "viewer-1",
		Reason:    "rematch_declined",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, e.db.Create(&expired).Error)
	require.NoError(t, e.gate.BlockUser("viewer-2", "rematch_declined"))

	require.NoError(t, e.gate.PurgeExpiredBlocks())

	var count int64
	require.NoError(t, e.db.Model(&models.MatchmakingBlock{}).Count(&count).Error)
	require.EqualValues(t, 1, count, "only the live block should survive the purge")
}

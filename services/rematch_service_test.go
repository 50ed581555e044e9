package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roast-battle-engine/models"
)

func TestRematchHandshake(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, teamB := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	// First leader request arms the handshake.
	res, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)
	require.Equal(t, models.RematchTeamA, res.State)
	require.Nil(t, res.NewMatch)

	// Asking again while the other side decides changes nothing.
	res, err = e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)
	require.Equal(t, models.RematchTeamA, res.State)
	require.Nil(t, res.NewMatch)

	// The opposing leader completes it and a new match spawns.
	res, err = e.rematches.RequestRematch(match.ID, teamB[0])
	require.NoError(t, err)
	require.Equal(t, models.RematchBoth, res.State)
	require.NotNil(t, res.NewMatch)
	require.Equal(t, models.MatchStatusActive, res.NewMatch.Status)
	require.Equal(t, match.Format, res.NewMatch.Format)
	require.NotEqual(t, match.ID, res.NewMatch.ID)

	// Same rosters, pre-seeded lobby, linked back to the old match.
	var seats []models.LobbyMember
	require.NoError(t, e.db.Where("lobby_id IN ?",
		[]string{res.NewMatch.LobbyAID, res.NewMatch.LobbyBID}).Find(&seats).Error)
	require.Len(t, seats, 2)
	roster := map[string]models.Team{}
	for _, seat := range seats {
		roster[seat.UserID] = res.NewMatch.TeamOf(seat)
	}
	require.Equal(t, models.TeamA, roster[teamA[0]])
	require.Equal(t, models.TeamB, roster[teamB[0]])

	var newLobby models.Lobby
	require.NoError(t, e.db.First(&newLobby, "id = ?", res.NewMatch.LobbyAID).Error)
	require.NotNil(t, newLobby.RematchOfMatchID)
	require.Equal(t, match.ID, *newLobby.RematchOfMatchID)

	// The old match stays completed with its handshake recorded.
	var old models.Match
	require.NoError(t, e.db.First(&old, "id = ?", match.ID).Error)
	require.Equal(t, models.MatchStatusCompleted, old.Status)
	require.Equal(t, models.RematchBoth, old.RematchRequestedBy)
}

func TestRematchRequiresCompletedMatch(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")

	_, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.ErrorIs(t, err, ErrMatchNotCompleted)
}

func TestRematchRejectsNonLeader(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format2v2, "m")
	completeMatch(t, e, match.ID)

	_, err := e.rematches.RequestRematch(match.ID, teamA[1])
	require.ErrorIs(t, err, ErrNotLeader)

	var unchanged models.Match
	require.NoError(t, e.db.First(&unchanged, "id = ?", match.ID).Error)
	require.Equal(t, models.RematchNone, unchanged.RematchRequestedBy)
}

func TestDeclineRematchBlocksDecliner(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, teamB := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	_, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)

	require.NoError(t, e.rematches.DeclineRematch(match.ID, teamB[0]))

	var reset models.Match
	require.NoError(t, e.db.First(&reset, "id = ?", match.ID).Error)
	require.Equal(t, models.RematchNone, reset.RematchRequestedBy)
	require.Nil(t, reset.RematchRequestedAt)

	// The decliner is cooled down; the requester stays clear.
	decision, err := e.gate.CanCreateLobby(teamB[0])
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	decision, err = e.gate.CanCreateLobby(teamA[0])
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Nothing left to decline.
	err = e.rematches.DeclineRematch(match.ID, teamB[0])
	require.ErrorIs(t, err, ErrNoPendingRematch)
}

func TestDeclineRequiresOpposingPendingRequest(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	// No request pending at all.
	err := e.rematches.DeclineRematch(match.ID, teamA[0])
	require.ErrorIs(t, err, ErrNoPendingRematch)

	// A leader cannot decline their own request.
	_, err = e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)
	err = e.rematches.DeclineRematch(match.ID, teamA[0])
	require.ErrorIs(t, err, ErrNoPendingRematch)
}

func TestExpireStaleRematchRequests(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	_, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)

	stale := time.Now().Add(-e.cfg.RematchExpiry - time.Minute)
	require.NoError(t, e.db.Model(&models.Match{}).
		Where("id = ?", match.ID).
		Update("rematch_requested_at", stale).Error)

	e.matches.ExpireStaleRematches()

	var reset models.Match
	require.NoError(t, e.db.First(&reset, "id = ?", match.ID).Error)
	require.Equal(t, models.RematchNone, reset.RematchRequestedBy)
	require.Nil(t, reset.RematchRequestedAt)
}

func TestExpirySkipsFreshRequests(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	_, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)

	e.matches.ExpireStaleRematches()

	var kept models.Match
	require.NoError(t, e.db.First(&kept, "id = ?", match.ID).Error)
	require.Equal(t, models.RematchTeamA, kept.RematchRequestedBy)
}

func TestEndBattleForcesActiveMatchToEnd(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format1v1, "m")

	exit, err := e.rematches.EndBattle(match.ID, teamA[0])
	require.NoError(t, err)
	require.Equal(t, "home", exit.Destination)
	require.Equal(t, models.MatchStatusCompleted, exit.Match.Status)

	// The lobby is archived and its players released.
	var archived models.Lobby
	require.NoError(t, e.db.Unscoped().First(&archived, "id = ?", match.LobbyAID).Error)
	require.Equal(t, models.LobbyStatusArchived, archived.Status)

	_, _, err = e.lobbies.CreateLobby(teamA[0], models.Format1v1, true, nil)
	require.NoError(t, err)
}

func TestEndBattleRejectsNonParticipant(t *testing.T) {
	e := newTestEngine(t)
	match, _, _ := startMatch(t, e, models.Format1v1, "m")

	_, err := e.rematches.EndBattle(match.ID, "stranger")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestEndBattleRejectsNonLeaderWhileLeaderSeated(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, _ := startMatch(t, e, models.Format2v2, "m")

	_, err := e.rematches.EndBattle(match.ID, teamA[1])
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestEndBattleKeepsLobbiesAfterAcceptedRematch(t *testing.T) {
	e := newTestEngine(t)
	match, teamA, teamB := startMatch(t, e, models.Format1v1, "m")
	completeMatch(t, e, match.ID)

	_, err := e.rematches.RequestRematch(match.ID, teamA[0])
	require.NoError(t, err)
	res, err := e.rematches.RequestRematch(match.ID, teamB[0])
	require.NoError(t, err)
	require.NotNil(t, res.NewMatch)

	// Leaving the old, rematched battle must not archive anything the new
	// match depends on.
	_, err = e.rematches.EndBattle(match.ID, teamA[0])
	require.NoError(t, err)

	var newLobby models.Lobby
	require.NoError(t, e.db.First(&newLobby, "id = ?", res.NewMatch.LobbyAID).Error)
	require.Equal(t, models.LobbyStatusPaired, newLobby.Status)
}

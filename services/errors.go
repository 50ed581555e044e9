package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Validation errors: surfaced immediately, never retried automatically.
var (
	ErrUnknownFormat     = errors.New("unknown battle format")
	ErrLobbyFull         = errors.New("lobby is full")
	ErrAlreadyInLobby    = errors.New("user is already in an active lobby")
	ErrLobbyNotJoinable  = errors.New("lobby is not open for joining")
	ErrInvalidTeam       = errors.New("invalid team")
	ErrMatchNotCompleted = errors.New("match is not completed")
	ErrNoPendingRematch  = errors.New("no pending rematch request")
)

// Permission errors.
var (
	ErrNotLeader      = errors.New("only a team leader may perform this action")
	ErrNotParticipant = errors.New("user is not a participant of this match")
)

// Conflict errors.
var ErrMatchCompleted = errors.New("match is already completed")

// BlockedError is returned by the matchmaking gate when the user is under a
// temporary block. CooldownRemaining comes from the authoritative expiry row,
// not from the configured cooldown.
type BlockedError struct {
	CooldownRemaining time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("matchmaking blocked for another %s", e.CooldownRemaining.Round(time.Second))
}

// HTTPError maps engine errors onto the JSON error responses the screens
// expect. Unknown errors are treated as transient storage failures.
func HTTPError(c *fiber.Ctx, err error) error {
	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		return c.Status(fiber.StatusLocked).JSON(fiber.Map{
			"error":            "matchmaking blocked",
			"cooldown_seconds": int(blocked.CooldownRemaining.Seconds()),
		})
	case errors.Is(err, ErrUnknownFormat),
		errors.Is(err, ErrInvalidTeam),
		errors.Is(err, ErrMatchNotCompleted),
		errors.Is(err, ErrNoPendingRematch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrLobbyFull),
		errors.Is(err, ErrAlreadyInLobby),
		errors.Is(err, ErrLobbyNotJoinable),
		errors.Is(err, ErrMatchCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotLeader), errors.Is(err, ErrNotParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	default:
		log.Printf("[BATTLE] internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error, retry later"})
	}
}

// IsTransient reports whether an error is worth retrying against storage.
// Everything outside the explicit taxonomy counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return false
	}
	for _, known := range []error{
		ErrUnknownFormat, ErrLobbyFull, ErrAlreadyInLobby, ErrLobbyNotJoinable,
		ErrInvalidTeam, ErrMatchNotCompleted, ErrNoPendingRematch,
		ErrNotLeader, ErrNotParticipant, ErrMatchCompleted,
		gorm.ErrRecordNotFound,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}

// lockForUpdate takes a row lock on Postgres. SQLite (used by the tests) has
// no FOR UPDATE; its single-writer model covers the same races.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// lockUserForMatchmaking serializes booking attempts by the same user for
// the rest of the transaction. Concurrent create/join calls against
// different lobbies lock disjoint lobby rows, so the one-active-lobby check
// needs its own per-user lock to stay race-free. Held until commit; no-op on
// SQLite, whose single writer already serializes the transactions.
func lockUserForMatchmaking(tx *gorm.DB, userID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Error
}

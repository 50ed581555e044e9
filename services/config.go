package services

import (
	"log"
	"os"
	"strconv"
	"time"
)

// BattleConfig carries the tunables of the battle engine. Values are read
// from the environment once in main and passed into the service constructors.
type BattleConfig struct {
	// MatchDuration is the battle timer; the scheduler force-ends matches
	// whose deadline has passed.
	MatchDuration time.Duration

	// DeclineCooldown is how long a user is blocked from matchmaking after
	// declining an offered rematch.
	DeclineCooldown time.Duration

	// RematchExpiry is how long a one-sided rematch request stays pending
	// before the sweep resets it.
	RematchExpiry time.Duration

	// WinnerBonusMultiplier scales the payout of players on the winning team.
	WinnerBonusMultiplier float64

	// DefaultCreatorShare is the creator side of the platform split
	// (0.70 = platform keeps 30%).
	DefaultCreatorShare float64
}

// DefaultBattleConfig returns the production defaults.
func DefaultBattleConfig() BattleConfig {
	return BattleConfig{
		MatchDuration:         5 * time.Minute,
		DeclineCooldown:       3 * time.Minute,
		RematchExpiry:         2 * time.Minute,
		WinnerBonusMultiplier: 1.5,
		DefaultCreatorShare:   0.70,
	}
}

// LoadBattleConfig overlays environment overrides onto the defaults.
func LoadBattleConfig() BattleConfig {
	cfg := DefaultBattleConfig()
	cfg.MatchDuration = envDuration("MATCH_DURATION", cfg.MatchDuration)
	cfg.DeclineCooldown = envDuration("DECLINE_COOLDOWN", cfg.DeclineCooldown)
	cfg.RematchExpiry = envDuration("REMATCH_EXPIRY", cfg.RematchExpiry)
	cfg.WinnerBonusMultiplier = envFloat("WINNER_BONUS_MULTIPLIER", cfg.WinnerBonusMultiplier)
	cfg.DefaultCreatorShare = envFloat("CREATOR_SHARE", cfg.DefaultCreatorShare)
	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return f
}

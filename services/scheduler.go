// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartBattleScheduler runs the periodic sweeps that keep battle state
// moving without client input: timer-expired matches are force-ended, stale
// one-sided rematch requests are reset, and expired matchmaking blocks are
// purged.
func (s *MatchService) StartBattleScheduler(gate *GateService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 15s: end active matches whose battle timer has expired.
	_, _ = sched.NewJob(
		gocron.DurationJob(15*time.Second),
		gocron.NewTask(s.EndDueMatches),
	)

	// Every 30s: reset rematch requests the other side never answered.
	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(s.ExpireStaleRematches),
	)

	// Every 5m: drop matchmaking blocks past their expiry.
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			if err := gate.PurgeExpiredBlocks(); err != nil {
				log.Printf("[Scheduler] block purge failed: %v", err)
			}
		}),
	)
}

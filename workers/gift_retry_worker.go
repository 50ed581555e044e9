package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"roast-battle-engine/services"
)

const maxGiftAttempts = 5

type pendingGift struct {
	MatchID  string
	Input    services.GiftInput
	Attempts int
	NextTry  time.Time
}

// GiftRetryWorker re-applies gift score increments that failed with a
// transient storage error, so active play is not interrupted by a database
// hiccup. Replays are safe because ApplyGift dedupes on the gift event id.
type GiftRetryWorker struct {
	Matches *services.MatchService
	queue   chan pendingGift
}

func NewGiftRetryWorker(matches *services.MatchService, queueSize int) *GiftRetryWorker {
	return &GiftRetryWorker{
		Matches: matches,
		queue:   make(chan pendingGift, queueSize),
	}
}

// Enqueue buffers a failed gift application. Returns false when the buffer
// is full, in which case the caller surfaces the error instead.
func (w *GiftRetryWorker) Enqueue(matchID string, in services.GiftInput) bool {
	select {
	case w.queue <- pendingGift{MatchID: matchID, Input: in, Attempts: 1}:
		return true
	default:
		return false
	}
}

// Run retries buffered gifts until the context is cancelled. Attempts run on
// a ticker sweep over the pending set; a gift waiting out its backoff never
// delays the others. A gift is dropped once its match has completed or the
// attempt budget is spent.
func (w *GiftRetryWorker) Run(ctx context.Context) {
	log.Println("Gift retry worker started")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var pending []pendingGift
	for {
		select {
		case <-ctx.Done():
			log.Println("Gift retry worker stopping")
			return
		case item := <-w.queue:
			pending = append(pending, item)
		case <-ticker.C:
			pending = w.sweep(pending)
		}
	}
}

// sweep attempts every due gift once and returns the gifts still pending.
func (w *GiftRetryWorker) sweep(pending []pendingGift) []pendingGift {
	now := time.Now()
	kept := pending[:0]
	for _, item := range pending {
		if item.NextTry.After(now) {
			kept = append(kept, item)
			continue
		}
		if next, retry := w.attempt(item); retry {
			kept = append(kept, next)
		}
	}
	return kept
}

func (w *GiftRetryWorker) attempt(item pendingGift) (pendingGift, bool) {
	_, err := w.Matches.ApplyGift(item.MatchID, item.Input)
	if err == nil {
		log.Printf("[GIFT_RETRY] applied buffered gift %s on attempt %d", item.Input.EventID, item.Attempts)
		return pendingGift{}, false
	}
	if errors.Is(err, services.ErrMatchCompleted) {
		log.Printf("[GIFT_RETRY] dropping gift %s: match %s completed", item.Input.EventID, item.MatchID)
		return pendingGift{}, false
	}
	if !services.IsTransient(err) || item.Attempts >= maxGiftAttempts {
		log.Printf("[GIFT_RETRY] giving up on gift %s after %d attempts: %v", item.Input.EventID, item.Attempts, err)
		return pendingGift{}, false
	}

	// Linear backoff, tracked per gift so the sweep can skip it until due.
	item.Attempts++
	item.NextTry = time.Now().Add(time.Duration(item.Attempts) * time.Second)
	return item, true
}

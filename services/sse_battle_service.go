package services

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"roast-battle-engine/hub"
	"roast-battle-engine/models"
)

// StreamMatchEventsSSE streams score updates and state transitions for one
// match to a connected client. Each connection gets its own hub subscription
// with explicit teardown on disconnect, so slow or vanished viewers never
// leak subscribers.
func (s *MatchService) StreamMatchEventsSSE(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return HTTPError(c, err)
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	client := make(hub.Client, 16)
	s.Hub.Subscribe(matchID, client)

	ctx := c.Context()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer s.Hub.Unsubscribe(matchID, client)

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case payload, ok := <-client:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: battle\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

// middleware/sse_auth.go
package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware authenticates EventSource connections. Browsers cannot
// set headers on an EventSource, so the Gateway re-signs stream URLs with
// the service token and user id as query params.
//
// Usage:
//
//	app.Get("/battles/matches/:id/stream", middleware.SSEAuthMiddleware(), matchService.StreamMatchEventsSSE)
func SSEAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("BATTLE_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ BATTLE_SERVICE_TOKEN is not set — SSE auth cannot run")
	}

	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		userID := strings.TrimSpace(c.Query("user_id"))

		if token == "" || userID == "" {
			log.Printf("[SSEAuth] ❌ missing token or user_id on %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or user_id in query",
			})
		}

		if token != expectedToken {
			log.Printf("[SSEAuth] ❌ invalid token for user %s on %s", userID, c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

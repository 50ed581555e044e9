package handlers

import (
	"github.com/gofiber/fiber/v2"

	"roast-battle-engine/middleware"
	"roast-battle-engine/services"
)

// SetupBattleRoutes wires the battle engine's HTTP surface. Everything runs
// behind the gateway user context; the SSE stream authenticates via query
// params because EventSource cannot set headers.
func SetupBattleRoutes(
	app *fiber.App,
	gate *services.GateService,
	lobbies *services.LobbyService,
	matches *services.MatchService,
	rewards *services.RewardService,
	rematches *services.RematchService,
) {
	// Real-time match stream (query-param auth)
	app.Get("/battles/matches/:id/stream", middleware.SSEAuthMiddleware(), matches.StreamMatchEventsSSE)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Matchmaking gate
	secured.Get("/battles/gate", gate.CheckGate)

	// Lobby lifecycle
	secured.Post("/battles/lobbies", lobbies.CreateLobbyHandler)
	secured.Get("/battles/lobbies/:id", lobbies.GetLobbyHandler)
	secured.Post("/battles/lobbies/:id/join", lobbies.JoinLobbyHandler)
	secured.Post("/battles/lobbies/leave", lobbies.LeaveLobbyHandler)

	// Match lifecycle
	secured.Get("/battles/matches/:id", matches.GetMatchHandler)
	secured.Post("/battles/matches/:id/gifts", matches.ApplyGiftHandler)
	secured.Post("/battles/matches/:id/end", matches.EndMatchHandler)
	secured.Get("/battles/matches/:id/rewards", rewards.GetMatchRewardsHandler)

	// Rematch negotiation and exit
	secured.Post("/battles/matches/:id/rematch", rematches.RequestRematchHandler)
	secured.Post("/battles/matches/:id/rematch/decline", rematches.DeclineRematchHandler)
	secured.Post("/battles/matches/:id/leave", rematches.EndBattleHandler)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roast-battle-engine/handlers"
	"roast-battle-engine/hub"
	"roast-battle-engine/middleware"
	"roast-battle-engine/models"
	"roast-battle-engine/services"
	"roast-battle-engine/utils"
	"roast-battle-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New()

	// 🔐 GLOBAL: only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Lobby{},
		&models.LobbyMember{},
		&models.Match{},
		&models.GiftEvent{},
		&models.Reward{},
		&models.MatchmakingBlock{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg := services.LoadBattleConfig()
	eventHub := hub.NewHub()

	gateService := services.NewGateService(db, cfg)
	rewardService := services.NewRewardService(db, cfg, nil)
	lobbyService := services.NewLobbyService(db, eventHub, gateService, cfg)
	matchService := services.NewMatchService(db, eventHub, rewardService, cfg)
	rematchService := services.NewRematchService(db, eventHub, lobbyService, matchService, gateService, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryWorker := workers.NewGiftRetryWorker(matchService, 1024)
	matchService.EnqueueRetry = retryWorker.Enqueue
	go retryWorker.Run(ctx)

	if os.Getenv("CLOUDFLARE_ACCOUNT_ID") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archiveWorker := workers.NewArchiveWorker(db)
		go workers.PollArchives(ctx, archiveWorker, 30*time.Second)
		log.Println("✅ Match archiving to R2 enabled (every 30s)")
	} else {
		log.Println("⚠️  CLOUDFLARE_ACCOUNT_ID not set — match archiving disabled")
	}

	matchService.StartBattleScheduler(gateService)

	handlers.SetupBattleRoutes(app, gateService, lobbyService, matchService, rewardService, rematchService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Battle engine running on http://localhost:5300")
	log.Println("✅ Gift retry worker running")
	log.Println("✅ Battle scheduler running (timers, rematch expiry, block purge)")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}

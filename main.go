package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"steam-family-bot/internal/aggregate"
	"steam-family-bot/internal/api"
	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/checker"
	"steam-family-bot/internal/config"
	"steam-family-bot/internal/database"
	"steam-family-bot/internal/orchestrator"
	"steam-family-bot/internal/ratelimit"
	"steam-family-bot/internal/services/discordapi"
	"steam-family-bot/internal/services/itad"
	"steam-family-bot/internal/services/steam"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	if !cfg.HasSteamKey() {
		log.Println("⚠️  Steam Web API key not configured; library and wishlist fetches disabled")
	}
	if !cfg.HasITADKey() {
		log.Println("⚠️  ITAD API key not configured; historical-low lookups disabled")
	}

	// Database is the one fatal dependency: abort rather than run
	// half-initialized.
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	database.ImportLegacyState(db, cfg.SeedMembers, cfg.LegacyRegistrationsPath, cfg.LegacySavedGamesPath)

	// One limiter instance per upstream API class; every caller shares
	// them.
	webLimiter := ratelimit.NewIntervalLimiter(cfg.SteamAPIInterval)
	storeLimiter := ratelimit.NewIntervalLimiter(cfg.StoreAPIInterval)
	itadLimiter := ratelimit.NewIntervalLimiter(cfg.ITADAPIInterval)
	discordLimiter := ratelimit.NewIntervalLimiter(cfg.DiscordAPIInterval)
	retry := ratelimit.RetryPolicy{MaxRetries: cfg.MaxRetries, Base: cfg.RetryBackoffBase}

	// Placeholder keys from example env files count as missing: clients
	// get an empty key so every call site short-circuits instead of
	// attempting doomed fetches.
	steamKey, itadKey, discordToken := "", "", ""
	if cfg.HasSteamKey() {
		steamKey = cfg.SteamAPIKey
	}
	if cfg.HasITADKey() {
		itadKey = cfg.ITADAPIKey
	}
	if cfg.HasDiscordToken() {
		discordToken = cfg.DiscordBotToken
	}

	steamClient := steam.NewClient(steamKey, cfg.HTTPTimeout, webLimiter, storeLimiter, retry)
	itadClient := itad.NewClient(itadKey, cfg.HTTPTimeout, itadLimiter, retry)
	discordClient := discordapi.NewClient(discordToken, cfg.HTTPTimeout, discordLimiter, retry)

	store := cache.NewStore(db)
	policy := cache.TTLPolicy{
		OwnedGames:    cfg.OwnedGamesTTL,
		Wishlist:      cfg.WishlistTTL,
		FamilyLibrary: cfg.FamilyLibraryTTL,
		ITADPrice:     cfg.ITADPriceTTL,
		DiscordName:   cfg.DiscordNameTTL,
	}
	typed := cache.NewTyped(store, policy)
	orch := orchestrator.New(store, policy)

	hub := api.NewHub()
	chk := checker.New(db, store, typed, orch, steamClient, hub, cfg.FamilySteamID, cfg.PopulateWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	go chk.Run(ctx, cfg.NewGameCheckInterval, cfg.WishlistRefreshEvery, cfg.CleanupInterval)

	// Gin router with the usual CORS shim for the dashboard
	r := gin.Default()
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	thresholds := aggregate.Thresholds{
		HighDiscount: cfg.DealHighDiscount,
		LowDiscount:  cfg.DealLowDiscount,
		LowBand:      cfg.DealLowBand,
	}
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, db, store, typed, orch, chk, itadClient, discordClient, hub, thresholds, cfg.PopulateWorkers)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	srv.Shutdown(context.Background())
}

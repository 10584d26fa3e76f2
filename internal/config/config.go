package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabasePath    string
	SteamAPIKey     string
	ITADAPIKey      string
	DiscordBotToken string
	Port            string
	Environment     string

	// Family configuration
	FamilySteamID string // account whose family group is polled
	SeedMembers   string // "steamid:name,steamid:name" one-time import

	// Legacy flat-file state imported on first run
	LegacyRegistrationsPath string
	LegacySavedGamesPath    string

	// Cache TTLs
	OwnedGamesTTL    time.Duration
	WishlistTTL      time.Duration
	FamilyLibraryTTL time.Duration
	ITADPriceTTL     time.Duration
	DiscordNameTTL   time.Duration

	// Rate limiting
	SteamAPIInterval   time.Duration
	StoreAPIInterval   time.Duration
	ITADAPIInterval    time.Duration
	DiscordAPIInterval time.Duration
	MaxRetries         int
	RetryBackoffBase   time.Duration
	HTTPTimeout        time.Duration

	// Deal detection thresholds
	DealHighDiscount int     // % discount that is a deal on its own
	DealLowDiscount  int     // % discount that needs a historical-low match
	DealLowBand      float64 // price <= historical_low * band

	// Background jobs
	NewGameCheckInterval time.Duration
	WishlistRefreshEvery time.Duration
	CleanupInterval      time.Duration

	// Bulk population
	PopulateWorkers   int
	PopulateBatchSize int
}

func Load() *Config {
	return &Config{
		DatabasePath:    getEnv("DATABASE_PATH", "family_bot.db"),
		SteamAPIKey:     getEnv("STEAM_API_KEY", ""),
		ITADAPIKey:      getEnv("ITAD_API_KEY", ""),
		DiscordBotToken: getEnv("DISCORD_BOT_TOKEN", ""),
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),

		FamilySteamID: getEnv("FAMILY_STEAM_ID", ""),
		SeedMembers:   getEnv("FAMILY_SEED_MEMBERS", ""),

		LegacyRegistrationsPath: getEnv("LEGACY_REGISTRATIONS_PATH", "registrations.txt"),
		LegacySavedGamesPath:    getEnv("LEGACY_SAVED_GAMES_PATH", "saved_games.txt"),

		OwnedGamesTTL:    getDuration("OWNED_GAMES_TTL", 6*time.Hour),
		WishlistTTL:      getDuration("WISHLIST_TTL", 2*time.Hour),
		FamilyLibraryTTL: getDuration("FAMILY_LIBRARY_TTL", 30*time.Minute),
		ITADPriceTTL:     getDuration("ITAD_PRICE_TTL", 6*time.Hour),
		DiscordNameTTL:   getDuration("DISCORD_NAME_TTL", time.Hour),

		SteamAPIInterval:   getDuration("STEAM_API_INTERVAL", time.Second),
		StoreAPIInterval:   getDuration("STORE_API_INTERVAL", 1500*time.Millisecond),
		ITADAPIInterval:    getDuration("ITAD_API_INTERVAL", time.Second),
		DiscordAPIInterval: getDuration("DISCORD_API_INTERVAL", time.Second),
		MaxRetries:         getInt("MAX_RETRIES", 3),
		RetryBackoffBase:   getDuration("RETRY_BACKOFF_BASE", time.Second),
		HTTPTimeout:        getDuration("HTTP_TIMEOUT", 15*time.Second),

		DealHighDiscount: getInt("DEAL_HIGH_DISCOUNT", 30),
		DealLowDiscount:  getInt("DEAL_LOW_DISCOUNT", 15),
		DealLowBand:      getFloat("DEAL_LOW_BAND", 1.2),

		NewGameCheckInterval: getDuration("NEW_GAME_CHECK_INTERVAL", 30*time.Minute),
		WishlistRefreshEvery: getDuration("WISHLIST_REFRESH_INTERVAL", 2*time.Hour),
		CleanupInterval:      getDuration("CLEANUP_INTERVAL", 6*time.Hour),

		PopulateWorkers:   getInt("POPULATE_WORKERS", 10),
		PopulateBatchSize: getInt("POPULATE_BATCH_SIZE", 100),
	}
}

// HasSteamKey reports whether a usable Steam Web API key is configured.
// Placeholder values from example env files count as missing.
func (c *Config) HasSteamKey() bool {
	return c.SteamAPIKey != "" && c.SteamAPIKey != "your-steam-api-key"
}

func (c *Config) HasITADKey() bool {
	return c.ITADAPIKey != "" && c.ITADAPIKey != "your-itad-api-key"
}

func (c *Config) HasDiscordToken() bool {
	return c.DiscordBotToken != "" && c.DiscordBotToken != "your-bot-token"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/config"
	"steam-family-bot/internal/database"
	"steam-family-bot/internal/models"
	"steam-family-bot/internal/orchestrator"
	"steam-family-bot/internal/ratelimit"
	"steam-family-bot/internal/services/discordapi"
	"steam-family-bot/internal/services/itad"
	"steam-family-bot/internal/services/steam"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// One bulk-population tool for every cache kind, replacing the
// generations of per-kind fetch scripts: pick the kind, the id source,
// the concurrency backend and the rate-limit mode on the command line.
var (
	kindFlag     = flag.String("kind", "game_details", "cache kind: game_details | owned_games | wishlist | itad_price | discord_name")
	idsFlag      = flag.String("ids", "", "comma-separated ids (appids or steam ids)")
	rangeFlag    = flag.String("range", "", "numeric appid range start-end, e.g. 10-1000")
	membersFlag  = flag.Bool("members", false, "use all registered family members as ids")
	workersFlag  = flag.Int("workers", 0, "concurrent fetchers (default from config)")
	backendFlag  = flag.String("backend", "pool", "concurrency backend: pool | fanout")
	rateFlag     = flag.String("rate", "fixed", "rate limiter: fixed | adaptive | bucket")
	intervalFlag = flag.Duration("interval", 0, "per-call interval override")
	dryRunFlag   = flag.Bool("dry-run", false, "fetch and count without writing to the cache")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}

	kind := cache.Kind(*kindFlag)
	ids, err := resolveIDs(db, kind)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Fatal("No ids to process; pass -ids, -range or -members")
	}

	store := cache.NewStore(db)
	policy := cache.TTLPolicy{
		OwnedGames:    cfg.OwnedGamesTTL,
		Wishlist:      cfg.WishlistTTL,
		FamilyLibrary: cfg.FamilyLibraryTTL,
		ITADPrice:     cfg.ITADPriceTTL,
		DiscordName:   cfg.DiscordNameTTL,
	}
	orch := orchestrator.New(store, policy)
	retry := ratelimit.RetryPolicy{MaxRetries: cfg.MaxRetries, Base: cfg.RetryBackoffBase}

	webLimiter := buildLimiter(*rateFlag, pick(*intervalFlag, cfg.SteamAPIInterval), *workersFlag)
	storeLimiter := buildLimiter(*rateFlag, pick(*intervalFlag, cfg.StoreAPIInterval), *workersFlag)
	itadLimiter := buildLimiter(*rateFlag, pick(*intervalFlag, cfg.ITADAPIInterval), *workersFlag)
	discordLimiter := buildLimiter(*rateFlag, pick(*intervalFlag, cfg.DiscordAPIInterval), *workersFlag)

	// Placeholder keys count as missing; an empty key makes the kind
	// short-circuit instead of issuing doomed calls.
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

	fetch, fallback := fetcherFor(kind, cfg, steamClient, itadClient, discordClient)
	if fetch == nil {
		log.Fatalf("Kind %s cannot run: unknown kind or missing API key", kind)
	}

	workers := *workersFlag
	if workers <= 0 {
		workers = cfg.PopulateWorkers
	}
	backend := orchestrator.BackendPool
	if *backendFlag == string(orchestrator.BackendFanout) {
		backend = orchestrator.BackendFanout
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Interrupted, finishing in-flight work...")
		cancel()
	}()

	log.Printf("Populating %s: %d ids, %d workers, backend %s, rate %s, dry-run %v",
		kind, len(ids), workers, backend, *rateFlag, *dryRunFlag)

	_, report := orch.Populate(ctx, kind, ids, fetch, fallback, orchestrator.Options{
		Workers:   workers,
		Backend:   backend,
		BatchSize: cfg.PopulateBatchSize,
		DryRun:    *dryRunFlag,
	})

	log.Printf("Done: requested %d, cached-skip %d, fetched %d, failed %d, written %d, elapsed %v",
		report.Requested, report.CachedSkip, report.Fetched, report.Failed, report.Written,
		report.Elapsed.Truncate(time.Millisecond))
}

func resolveIDs(db *gorm.DB, kind cache.Kind) ([]string, error) {
	if *idsFlag != "" {
		return strings.Split(*idsFlag, ","), nil
	}
	if *rangeFlag != "" {
		return parseRange(*rangeFlag)
	}
	if *membersFlag {
		members, err := database.ListMembers(db)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			if kind == cache.KindDiscordName {
				if m.DiscordID != nil && *m.DiscordID != "" {
					ids = append(ids, *m.DiscordID)
				}
				continue
			}
			ids = append(ids, m.SteamID)
		}
		return ids, nil
	}
	return nil, nil
}

func pick(override, fallback time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return fallback
}

func buildLimiter(mode string, interval time.Duration, workers int) ratelimit.Limiter {
	switch mode {
	case "adaptive":
		return ratelimit.NewAdaptiveLimiter(interval/4, 10*time.Millisecond, 10*interval)
	case "bucket":
		capacity := workers
		if capacity <= 0 {
			capacity = 5
		}
		return ratelimit.NewTokenBucket(capacity, interval)
	default:
		return ratelimit.NewIntervalLimiter(interval)
	}
}

func fetcherFor(kind cache.Kind, cfg *config.Config, steamClient *steam.Client, itadClient *itad.Client, discordClient *discordapi.Client) (orchestrator.FetchFunc, orchestrator.FetchFunc) {
	switch kind {
	case cache.KindGameDetails:
		fetch := func(ctx context.Context, appid string) ([]byte, error) {
			d, err := steamClient.AppDetails(ctx, appid)
			if err != nil || d == nil {
				return nil, err
			}
			return json.Marshal(d)
		}
		fallback := func(ctx context.Context, appid string) ([]byte, error) {
			name, err := steamClient.AppName(ctx, appid)
			if err != nil || name == "" {
				return nil, err
			}
			return json.Marshal(&models.GameDetails{AppID: appid, Name: name})
		}
		return fetch, fallback

	case cache.KindOwnedGames:
		if !cfg.HasSteamKey() {
			return nil, nil
		}
		return func(ctx context.Context, steamID string) ([]byte, error) {
			owned, err := steamClient.OwnedGames(ctx, steamID)
			if err != nil || owned == nil {
				return nil, err
			}
			return json.Marshal(owned)
		}, nil

	case cache.KindWishlist:
		if !cfg.HasSteamKey() {
			return nil, nil
		}
		return func(ctx context.Context, steamID string) ([]byte, error) {
			wl, err := steamClient.Wishlist(ctx, steamID)
			if err != nil || wl == nil {
				return nil, err
			}
			return json.Marshal(wl)
		}, nil

	case cache.KindITADPrice:
		if !cfg.HasITADKey() {
			return nil, nil
		}
		return func(ctx context.Context, appid string) ([]byte, error) {
			low, err := itadClient.HistoricalLow(ctx, appid)
			if err != nil || low == nil {
				return nil, err
			}
			return json.Marshal(low)
		}, nil

	case cache.KindDiscordName:
		if !cfg.HasDiscordToken() {
			return nil, nil
		}
		return func(ctx context.Context, discordID string) ([]byte, error) {
			name, err := discordClient.Username(ctx, discordID)
			if err != nil || name == nil {
				return nil, err
			}
			return json.Marshal(name)
		}, nil
	}
	return nil, nil
}

func parseRange(spec string) ([]string, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range %q, want start-end", spec)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid range start: %w", err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid range end: %w", err)
	}
	if end < start {
		return nil, fmt.Errorf("range end %d before start %d", end, start)
	}
	ids := make([]string, 0, end-start+1)
	for id := start; id <= end; id++ {
		ids = append(ids, strconv.Itoa(id))
	}
	return ids, nil
}

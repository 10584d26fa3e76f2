package checker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"steam-family-bot/internal/aggregate"
	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/database"
	"steam-family-bot/internal/models"
	"steam-family-bot/internal/orchestrator"
	"steam-family-bot/internal/services/steam"

	"gorm.io/gorm"
)

// Notifier receives announcement events from the scheduled checks.
// The gin layer plugs in its websocket hub; tests plug in a recorder.
type Notifier interface {
	Announce(event string, payload interface{})
}

// Checker runs the periodic background jobs: new-game detection,
// wishlist refresh and the cache cleanup sweep. Each iteration's work
// is batched into its own transactions, so cancelling between ticks
// leaves nothing dangling.
type Checker struct {
	db       *gorm.DB
	store    *cache.Store
	typed    *cache.Typed
	orch     *orchestrator.Orchestrator
	steam    *steam.Client
	notifier Notifier

	familySteamID string
	workers       int
}

func New(db *gorm.DB, store *cache.Store, typed *cache.Typed, orch *orchestrator.Orchestrator,
	steamClient *steam.Client, notifier Notifier, familySteamID string, workers int) *Checker {
	return &Checker{
		db:            db,
		store:         store,
		typed:         typed,
		orch:          orch,
		steam:         steamClient,
		notifier:      notifier,
		familySteamID: familySteamID,
		workers:       workers,
	}
}

// Run drives the three job loops until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, newGameEvery, wishlistEvery, cleanupEvery time.Duration) {
	newGameTicker := time.NewTicker(newGameEvery)
	wishlistTicker := time.NewTicker(wishlistEvery)
	cleanupTicker := time.NewTicker(cleanupEvery)
	defer newGameTicker.Stop()
	defer wishlistTicker.Stop()
	defer cleanupTicker.Stop()

	log.Printf("Background checks started: new-game %v, wishlist %v, cleanup %v",
		newGameEvery, wishlistEvery, cleanupEvery)

	for {
		select {
		case <-ctx.Done():
			log.Println("Background checks stopped")
			return
		case <-newGameTicker.C:
			if err := c.CheckNewGames(ctx); err != nil {
				log.Printf("New-game check failed: %v", err)
			}
		case <-wishlistTicker.C:
			c.RefreshWishlists(ctx)
		case <-cleanupTicker.C:
			removed, err := c.store.CleanupExpired()
			if err != nil {
				log.Printf("Cache cleanup failed: %v", err)
				continue
			}
			log.Printf("Cache cleanup removed %d expired rows", removed)
		}
	}
}

// CheckNewGames refreshes the family-library snapshot, diffs it
// against the announced set, announces additions and replaces the
// saved set wholesale.
func (c *Checker) CheckNewGames(ctx context.Context) error {
	if !c.steam.HasKey() || c.familySteamID == "" {
		log.Println("New-game check skipped: steam key or family steam id not configured")
		return nil
	}

	lib, err := c.typed.FamilyLibrary()
	if err != nil {
		return err
	}
	if lib == nil {
		fetched, err := c.steam.FamilySharedLibrary(ctx, c.familySteamID)
		if err != nil {
			return err
		}
		if fetched == nil {
			log.Println("New-game check: no family library data available")
			return nil
		}
		if err := c.typed.PutFamilyLibrary(fetched); err != nil {
			log.Printf("Family library cache write failed: %v", err)
		}
		lib = fetched
	}

	saved, err := database.SavedGameIDs(c.db)
	if err != nil {
		return err
	}

	var added []string
	for _, appid := range lib.AppIDs {
		if !saved[appid] {
			added = append(added, appid)
		}
	}

	if len(added) == 0 {
		return nil
	}
	log.Printf("New-game check: %d new shared games detected", len(added))

	// Populate details for the new appids so announcements carry names.
	details, _ := c.orch.Populate(ctx, cache.KindGameDetails, added, c.DetailsFetcher(), c.NameFallback(), orchestrator.Options{
		Workers: c.workers,
		Backend: orchestrator.BackendPool,
	})

	for _, appid := range added {
		name := appid
		if payload, ok := details[appid]; ok {
			var d models.GameDetails
			if err := json.Unmarshal(payload, &d); err == nil && d.Name != "" {
				name = d.Name
			}
		}
		if c.notifier != nil {
			c.notifier.Announce("new_game", map[string]string{"appid": appid, "name": name})
		}
	}

	return database.ReplaceSavedGames(c.db, lib.AppIDs)
}

// RefreshWishlists re-fetches every registered member's wishlist
// through the orchestrator so the overlap data stays inside its TTL.
func (c *Checker) RefreshWishlists(ctx context.Context) {
	if !c.steam.HasKey() {
		log.Println("Wishlist refresh skipped: steam key not configured")
		return
	}
	members, err := database.ListMembers(c.db)
	if err != nil {
		log.Printf("Wishlist refresh failed: %v", err)
		return
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.SteamID)
	}

	_, report := c.orch.Populate(ctx, cache.KindWishlist, ids, c.WishlistFetcher(), nil, orchestrator.Options{
		Workers: c.workers,
		Backend: orchestrator.BackendPool,
	})
	log.Printf("Wishlist refresh: %d fetched, %d cached, %d failed", report.Fetched, report.CachedSkip, report.Failed)
}

// DetailsFetcher adapts the store appdetails call to the orchestrator.
func (c *Checker) DetailsFetcher() orchestrator.FetchFunc {
	return func(ctx context.Context, appid string) ([]byte, error) {
		details, err := c.steam.AppDetails(ctx, appid)
		if err != nil || details == nil {
			return nil, err
		}
		return json.Marshal(details)
	}
}

// NameFallback answers with a minimal details record from the bulk
// applist when appdetails yields nothing.
func (c *Checker) NameFallback() orchestrator.FetchFunc {
	return func(ctx context.Context, appid string) ([]byte, error) {
		name, err := c.steam.AppName(ctx, appid)
		if err != nil || name == "" {
			return nil, err
		}
		return json.Marshal(&models.GameDetails{AppID: appid, Name: name})
	}
}

// SteamConfigured reports whether the steam client has a usable key,
// so API-triggered population can short-circuit key-gated kinds.
func (c *Checker) SteamConfigured() bool {
	return c.steam.HasKey()
}

// OwnedFetch exposes the owned-games call to other orchestrator
// consumers.
func (c *Checker) OwnedFetch(ctx context.Context, steamID string) (*models.OwnedGames, error) {
	return c.steam.OwnedGames(ctx, steamID)
}

// WishlistFetcher adapts the wishlist call to the orchestrator.
func (c *Checker) WishlistFetcher() orchestrator.FetchFunc {
	return func(ctx context.Context, steamID string) ([]byte, error) {
		wl, err := c.steam.Wishlist(ctx, steamID)
		if err != nil || wl == nil {
			return nil, err
		}
		return json.Marshal(wl)
	}
}

// OverlapDeals computes the current wishlist-overlap deal candidates,
// used by the scheduled check and the admin force path with different
// thresholds.
func (c *Checker) OverlapDeals(finder *aggregate.Finder, steamIDs []string, th aggregate.Thresholds) []models.DealCandidate {
	overlap := finder.CommonWishlist(steamIDs)
	shareable := finder.FilterShareable(overlap)

	appids := make([]string, 0, len(shareable))
	for appid := range shareable {
		appids = append(appids, appid)
	}
	return finder.Deals(appids, shareable, th)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"steam-family-bot/internal/aggregate"
	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/checker"
	"steam-family-bot/internal/database"
	"steam-family-bot/internal/orchestrator"
	"steam-family-bot/internal/services/discordapi"
	"steam-family-bot/internal/services/itad"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// APIHandler exposes the cache, orchestrator and aggregation functions
// to the dashboard and scripts. Everything returns plain data; partial
// results are normal, stack traces are not.
type APIHandler struct {
	db      *gorm.DB
	store   *cache.Store
	typed   *cache.Typed
	orch    *orchestrator.Orchestrator
	checker *checker.Checker
	finder  *aggregate.Finder
	itad    *itad.Client
	discord *discordapi.Client
	hub     *Hub

	defaultThresholds aggregate.Thresholds
	workers           int

	// population job state, one at a time
	jobMu sync.Mutex
	job   *populateJob
}

type populateJob struct {
	Kind     cache.Kind           `json:"kind"`
	Running  bool                 `json:"running"`
	Started  time.Time            `json:"started"`
	Report   *orchestrator.Report `json:"report,omitempty"`
	cancelFn context.CancelFunc
}

func SetupRoutes(r *gin.RouterGroup, db *gorm.DB, store *cache.Store, typed *cache.Typed,
	orch *orchestrator.Orchestrator, chk *checker.Checker, itadClient *itad.Client,
	discordClient *discordapi.Client, hub *Hub, thresholds aggregate.Thresholds, workers int) *APIHandler {

	handler := &APIHandler{
		db:                db,
		store:             store,
		typed:             typed,
		orch:              orch,
		checker:           chk,
		finder:            aggregate.NewFinder(typed),
		itad:              itadClient,
		discord:           discordClient,
		hub:               hub,
		defaultThresholds: thresholds,
		workers:           workers,
	}

	cacheGroup := r.Group("/cache")
	{
		cacheGroup.GET("/stats", handler.CacheStats)
		cacheGroup.POST("/purge/:kind", handler.PurgeCache)
		cacheGroup.POST("/cleanup", handler.RunCleanup)
	}

	members := r.Group("/members")
	{
		members.GET("", handler.ListMembers)
		members.POST("/register", handler.Register)
	}

	games := r.Group("/games")
	{
		games.GET("/common", handler.CommonGames)
		games.GET("/overlap", handler.WishlistOverlap)
		games.GET("/deals", handler.Deals)
		games.POST("/check-new", handler.ForceNewGameCheck)
	}

	populate := r.Group("/populate")
	{
		populate.POST("/:kind/start", handler.StartPopulate)
		populate.GET("/status", handler.PopulateStatus)
		populate.POST("/stop", handler.StopPopulate)
	}

	r.GET("/ws", hub.Serve)

	return handler
}

func (h *APIHandler) CacheStats(c *gin.Context) {
	stats := make(map[string]int64, len(cache.Kinds()))
	for _, kind := range cache.Kinds() {
		n, err := h.store.Count(kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache stats"})
			return
		}
		stats[string(kind)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"tables":     stats,
		"ws_clients": h.hub.ClientCount(),
	})
}

func (h *APIHandler) PurgeCache(c *gin.Context) {
	kind := cache.Kind(c.Param("kind"))
	valid := false
	for _, k := range cache.Kinds() {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown cache kind"})
		return
	}

	removed, err := h.store.Purge(kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "removed": removed})
}

func (h *APIHandler) RunCleanup(c *gin.Context) {
	removed, err := h.store.CleanupExpired()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *APIHandler) ListMembers(c *gin.Context) {
	members, err := database.ListMembers(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *APIHandler) Register(c *gin.Context) {
	var req struct {
		DiscordID string `json:"discord_id" binding:"required"`
		SteamID   string `json:"steam_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "discord_id and steam_id are required"})
		return
	}
	if len(req.SteamID) != 17 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "steam_id must be a 17-digit SteamID64"})
		return
	}

	if err := database.Register(h.db, req.DiscordID, req.SteamID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "steam account already linked to another user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"discord_id": req.DiscordID, "steam_id": req.SteamID})
}

// memberSteamIDs resolves the steam_ids query param, defaulting to all
// registered family members.
func (h *APIHandler) memberSteamIDs(c *gin.Context) []string {
	if raw := c.Query("steam_ids"); raw != "" {
		return strings.Split(raw, ",")
	}
	members, err := database.ListMembers(h.db)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.SteamID)
	}
	return ids
}

func (h *APIHandler) CommonGames(c *gin.Context) {
	ids := h.memberSteamIDs(c)
	common := h.finder.CommonLibrary(ids)
	c.JSON(http.StatusOK, gin.H{"members": ids, "common": common, "count": len(common)})
}

func (h *APIHandler) WishlistOverlap(c *gin.Context) {
	ids := h.memberSteamIDs(c)
	overlap := h.finder.FilterShareable(h.finder.CommonWishlist(ids))
	c.JSON(http.StatusOK, gin.H{"members": ids, "overlap": overlap})
}

// Deals runs deal detection over the current wishlist overlap.
// Threshold query params let the admin path be stricter or looser than
// the scheduled check.
func (h *APIHandler) Deals(c *gin.Context) {
	th := h.defaultThresholds
	if v, err := strconv.Atoi(c.Query("high")); err == nil {
		th.HighDiscount = v
	}
	if v, err := strconv.Atoi(c.Query("low")); err == nil {
		th.LowDiscount = v
	}
	if v, err := strconv.ParseFloat(c.Query("band"), 64); err == nil {
		th.LowBand = v
	}

	ids := h.memberSteamIDs(c)
	deals := h.checker.OverlapDeals(h.finder, ids, th)
	c.JSON(http.StatusOK, gin.H{"thresholds": th, "deals": deals, "count": len(deals)})
}

func (h *APIHandler) ForceNewGameCheck(c *gin.Context) {
	if err := h.checker.CheckNewGames(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "new-game check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartPopulate launches a background population run for one cache
// kind, one job at a time, mirroring the start/status/stop triple of
// long sweeps.
func (h *APIHandler) StartPopulate(c *gin.Context) {
	kind := cache.Kind(c.Param("kind"))

	var req struct {
		IDs     []string `json:"ids"`
		Workers int      `json:"workers"`
		Backend string   `json:"backend"`
		DryRun  bool     `json:"dry_run"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ids := req.IDs
	if len(ids) == 0 {
		switch kind {
		case cache.KindOwnedGames, cache.KindWishlist:
			ids = h.memberSteamIDs(c)
		case cache.KindDiscordName:
			ids = h.memberDiscordIDs()
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids are required for this kind"})
			return
		}
	}

	fetch, fallback := h.fetcherFor(kind)
	if fetch == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fetcher available for kind (API key configured?)"})
		return
	}

	h.jobMu.Lock()
	if h.job != nil && h.job.Running {
		h.jobMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a population job is already running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &populateJob{Kind: kind, Running: true, Started: time.Now(), cancelFn: cancel}
	h.job = job
	h.jobMu.Unlock()

	workers := req.Workers
	if workers <= 0 {
		workers = h.workers
	}
	backend := orchestrator.BackendPool
	if req.Backend == string(orchestrator.BackendFanout) {
		backend = orchestrator.BackendFanout
	}

	go func() {
		defer cancel()
		_, report := h.orch.Populate(ctx, kind, ids, fetch, fallback, orchestrator.Options{
			Workers: workers,
			Backend: backend,
			DryRun:  req.DryRun,
		})
		h.jobMu.Lock()
		job.Running = false
		job.Report = &report
		h.jobMu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{"kind": kind, "ids": len(ids), "workers": workers, "backend": backend})
}

func (h *APIHandler) PopulateStatus(c *gin.Context) {
	h.jobMu.Lock()
	defer h.jobMu.Unlock()
	if h.job == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, h.job)
}

func (h *APIHandler) StopPopulate(c *gin.Context) {
	h.jobMu.Lock()
	defer h.jobMu.Unlock()
	if h.job == nil || !h.job.Running {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	h.job.cancelFn()
	c.JSON(http.StatusOK, gin.H{"stopping": true})
}

// fetcherFor maps a cache kind to its upstream strategy pair. A nil
// primary means the kind's API key is missing and the run must
// short-circuit.
func (h *APIHandler) fetcherFor(kind cache.Kind) (orchestrator.FetchFunc, orchestrator.FetchFunc) {
	switch kind {
	case cache.KindGameDetails:
		return h.checker.DetailsFetcher(), h.checker.NameFallback()
	case cache.KindWishlist:
		if !h.checker.SteamConfigured() {
			return nil, nil
		}
		return h.checker.WishlistFetcher(), nil
	case cache.KindOwnedGames:
		if !h.checker.SteamConfigured() {
			return nil, nil
		}
		return h.ownedGamesFetcher(), nil
	case cache.KindITADPrice:
		if h.itad == nil || !h.itad.HasKey() {
			return nil, nil
		}
		return h.itadFetcher(), nil
	case cache.KindDiscordName:
		if h.discord == nil || !h.discord.HasToken() {
			return nil, nil
		}
		return h.discordNameFetcher(), nil
	}
	return nil, nil
}

func (h *APIHandler) ownedGamesFetcher() orchestrator.FetchFunc {
	return func(ctx context.Context, steamID string) ([]byte, error) {
		owned, err := h.checker.OwnedFetch(ctx, steamID)
		if err != nil || owned == nil {
			return nil, err
		}
		return json.Marshal(owned)
	}
}

// memberDiscordIDs lists the Discord accounts linked to family
// members. Members without a linked account are skipped.
func (h *APIHandler) memberDiscordIDs() []string {
	members, err := database.ListMembers(h.db)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.DiscordID != nil && *m.DiscordID != "" {
			ids = append(ids, *m.DiscordID)
		}
	}
	return ids
}

func (h *APIHandler) discordNameFetcher() orchestrator.FetchFunc {
	return func(ctx context.Context, discordID string) ([]byte, error) {
		name, err := h.discord.Username(ctx, discordID)
		if err != nil || name == nil {
			return nil, err
		}
		return json.Marshal(name)
	}
}

func (h *APIHandler) itadFetcher() orchestrator.FetchFunc {
	return func(ctx context.Context, appid string) ([]byte, error) {
		low, err := h.itad.HistoricalLow(ctx, appid)
		if err != nil || low == nil {
			return nil, err
		}
		return json.Marshal(low)
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"steam-family-bot/internal/aggregate"
	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/checker"
	"steam-family-bot/internal/database"
	"steam-family-bot/internal/models"
	"steam-family-bot/internal/orchestrator"
	"steam-family-bot/internal/ratelimit"
	"steam-family-bot/internal/services/discordapi"
	"steam-family-bot/internal/services/itad"
	"steam-family-bot/internal/services/steam"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) (*gin.Engine, *cache.Typed) {
	return testRouterWithSteamKey(t, "test-key")
}

func testRouterWithSteamKey(t *testing.T, steamKey string) (*gin.Engine, *cache.Typed) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(":memory:")
	require.NoError(t, err)

	store := cache.NewStore(db)
	typed := cache.NewTyped(store, cache.DefaultTTLPolicy())
	orch := orchestrator.New(store, cache.DefaultTTLPolicy())

	limiter := ratelimit.NewIntervalLimiter(0)
	retry := ratelimit.RetryPolicy{MaxRetries: 0, Base: time.Millisecond}
	steamClient := steam.NewClient(steamKey, time.Second, limiter, limiter, retry)
	itadClient := itad.NewClient("", time.Second, limiter, retry)
	discordClient := discordapi.NewClient("", time.Second, limiter, retry)

	hub := NewHub()
	chk := checker.New(db, store, typed, orch, steamClient, hub, "76561198000000001", 2)

	r := gin.New()
	SetupRoutes(r.Group("/api/v1"), db, store, typed, orch, chk, itadClient, discordClient, hub,
		aggregate.DefaultThresholds(), 2)
	return r, typed
}

func doRequest(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCacheStatsCountsRows(t *testing.T) {
	r, typed := testRouter(t)
	require.NoError(t, typed.PutGameDetails(&models.GameDetails{AppID: "10", Name: "x"}))

	w := doRequest(r, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tables map[string]int64 `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Tables["game_details"])
	assert.Zero(t, resp.Tables["wishlist"])
}

func TestPurgeRejectsUnknownKind(t *testing.T) {
	r, _ := testRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/cache/purge/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurgeRemovesRows(t *testing.T) {
	r, typed := testRouter(t)
	require.NoError(t, typed.PutWishlist(&models.Wishlist{SteamID: "A", AppIDs: []string{"1"}}))

	w := doRequest(r, http.MethodPost, "/api/v1/cache/purge/wishlist", nil)
	require.Equal(t, http.StatusOK, w.Code)

	wl, err := typed.Wishlist("A")
	require.NoError(t, err)
	assert.Nil(t, wl)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := testRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/members/register", []byte(`{"discord_id":"d1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/members/register", []byte(`{"discord_id":"d1","steam_id":"123"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/members/register",
		[]byte(`{"discord_id":"d1","steam_id":"76561198000000001"}`))
	assert.Equal(t, http.StatusOK, w.Code)

	// Second user claiming the same steam account conflicts.
	w = doRequest(r, http.MethodPost, "/api/v1/members/register",
		[]byte(`{"discord_id":"d2","steam_id":"76561198000000001"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDealsReadsCaches(t *testing.T) {
	r, typed := testRouter(t)

	require.NoError(t, typed.PutWishlist(&models.Wishlist{SteamID: "A", AppIDs: []string{"10"}}))
	require.NoError(t, typed.PutWishlist(&models.Wishlist{SteamID: "B", AppIDs: []string{"10"}}))
	require.NoError(t, typed.PutGameDetails(&models.GameDetails{
		AppID: "10", Name: "Sale Game", FamilySharing: true, ReviewCount: 50,
		DiscountPercent: 40, PriceFinal: 12.0, PriceInitial: 20.0,
	}))

	w := doRequest(r, http.MethodGet, "/api/v1/games/deals?steam_ids=A,B", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Deals []models.DealCandidate `json:"deals"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Sale Game", resp.Deals[0].Name)
	assert.Equal(t, []string{"A", "B"}, resp.Deals[0].InterestedUsers)
}

func TestDealsThresholdOverride(t *testing.T) {
	r, typed := testRouter(t)

	require.NoError(t, typed.PutWishlist(&models.Wishlist{SteamID: "A", AppIDs: []string{"10"}}))
	require.NoError(t, typed.PutWishlist(&models.Wishlist{SteamID: "B", AppIDs: []string{"10"}}))
	require.NoError(t, typed.PutGameDetails(&models.GameDetails{
		AppID: "10", Name: "Weak Sale", FamilySharing: true, ReviewCount: 50,
		DiscountPercent: 40, PriceFinal: 12.0, PriceInitial: 20.0,
	}))

	w := doRequest(r, http.MethodGet, "/api/v1/games/deals?steam_ids=A,B&high=50", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count, "stricter admin threshold filters the deal out")
}

func TestPopulateRequiresIDsForDetails(t *testing.T) {
	r, _ := testRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/populate/game_details/start", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPopulateWithoutSteamKeyShortCircuits(t *testing.T) {
	r, _ := testRouterWithSteamKey(t, "")

	// Explicit ids, so only the missing key can stop the run.
	body := []byte(`{"ids":["76561198000000001"]}`)

	w := doRequest(r, http.MethodPost, "/api/v1/populate/wishlist/start", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, "wishlist populate must not start without a key")

	w = doRequest(r, http.MethodPost, "/api/v1/populate/owned_games/start", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, "owned-games populate must not start without a key")
}

func TestPopulateStatusIdleByDefault(t *testing.T) {
	r, _ := testRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/populate/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":false}`, w.Body.String())
}

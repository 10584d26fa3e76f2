package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *cache.Store) {
	t.Helper()
	db, err := database.Initialize(":memory:")
	require.NoError(t, err)
	store := cache.NewStore(db)
	return New(store, cache.DefaultTTLPolicy()), store
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	data  map[string][]byte
	errs  map[string]error
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls: make(map[string]int),
		data:  make(map[string][]byte),
		errs:  make(map[string]error),
	}
}

func (f *countingFetcher) fetch(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.data[id], nil
}

func (f *countingFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestPopulateSkipsCachedIDs(t *testing.T) {
	orch, store := testOrchestrator(t)
	require.NoError(t, store.Put(cache.KindGameDetails, "1", []byte(`{"name":"cached"}`), cache.Permanent))

	fetcher := newCountingFetcher()
	fetcher.data["2"] = []byte(`{"name":"fetched"}`)

	results, report := orch.Populate(context.Background(), cache.KindGameDetails,
		[]string{"1", "2"}, fetcher.fetch, nil, Options{Workers: 2})

	assert.Equal(t, 2, report.Requested)
	assert.Equal(t, 1, report.CachedSkip)
	assert.Equal(t, 1, report.Fetched)
	assert.Zero(t, report.Failed)
	assert.Zero(t, fetcher.callCount("1"), "cached-fresh ids never hit upstream")
	assert.JSONEq(t, `{"name":"cached"}`, string(results["1"]))
	assert.JSONEq(t, `{"name":"fetched"}`, string(results["2"]))

	// The fetched result must also be persisted.
	payload, err := store.Get(cache.KindGameDetails, "2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fetched"}`, string(payload))
}

func TestPopulateFailedIDsAbsentAndNotCached(t *testing.T) {
	orch, store := testOrchestrator(t)

	fetcher := newCountingFetcher()
	fetcher.data["ok"] = []byte(`{}`)
	fetcher.errs["down"] = errors.New("upstream exploded")
	// "ghost" returns (nil, nil): a soft miss

	results, report := orch.Populate(context.Background(), cache.KindGameDetails,
		[]string{"ok", "down", "ghost"}, fetcher.fetch, nil, Options{Workers: 3})

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, results, "ok")
	assert.NotContains(t, results, "down")
	assert.NotContains(t, results, "ghost")

	// Failures are not poisoned into the cache; the next run retries.
	payload, err := store.Get(cache.KindGameDetails, "ghost")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestPopulateUsesFallbackStrategy(t *testing.T) {
	orch, _ := testOrchestrator(t)

	primary := newCountingFetcher() // yields nothing
	fallback := newCountingFetcher()
	fallback.data["1"] = []byte(`{"name":"from fallback"}`)

	results, report := orch.Populate(context.Background(), cache.KindGameDetails,
		[]string{"1"}, primary.fetch, fallback.fetch, Options{Workers: 1})

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, primary.callCount("1"))
	assert.Equal(t, 1, fallback.callCount("1"))
	assert.JSONEq(t, `{"name":"from fallback"}`, string(results["1"]))
}

func TestPopulateDryRunWritesNothing(t *testing.T) {
	orch, store := testOrchestrator(t)

	fetcher := newCountingFetcher()
	fetcher.data["1"] = []byte(`{}`)

	_, report := orch.Populate(context.Background(), cache.KindGameDetails,
		[]string{"1"}, fetcher.fetch, nil, Options{Workers: 1, DryRun: true})

	assert.Equal(t, 1, report.Fetched)
	assert.Zero(t, report.Written)

	n, err := store.Count(cache.KindGameDetails)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPopulateShortCircuitsWithoutFetcher(t *testing.T) {
	orch, _ := testOrchestrator(t)

	results, report := orch.Populate(context.Background(), cache.KindITADPrice,
		[]string{"1", "2"}, nil, nil, Options{})

	assert.Empty(t, results)
	assert.Equal(t, 2, report.Requested)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, report.Failed)
}

func TestPopulateFanoutBackend(t *testing.T) {
	orch, _ := testOrchestrator(t)

	fetcher := newCountingFetcher()
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		id := string(rune('0'+i/10)) + string(rune('0'+i%10))
		ids = append(ids, id)
		fetcher.data[id] = []byte(`{}`)
	}

	results, report := orch.Populate(context.Background(), cache.KindGameDetails,
		ids, fetcher.fetch, nil, Options{Workers: 8, Backend: BackendFanout})

	assert.Equal(t, 50, report.Fetched)
	assert.Len(t, results, 50)
	for _, id := range ids {
		assert.Equal(t, 1, fetcher.callCount(id), "each id fetched exactly once")
	}
}

func TestPopulateTTLFollowsKindPolicy(t *testing.T) {
	orch, store := testOrchestrator(t)

	fetcher := newCountingFetcher()
	fetcher.data["user"] = []byte(`{"appids":[]}`)

	_, _ = orch.Populate(context.Background(), cache.KindWishlist,
		[]string{"user"}, fetcher.fetch, nil, Options{Workers: 1})

	// Fresh now...
	payload, err := store.Get(cache.KindWishlist, "user")
	require.NoError(t, err)
	assert.NotNil(t, payload)

	// ...but stale once the clock passes the wishlist TTL.
	store.SetClock(func() time.Time { return time.Now().Add(3 * time.Hour) })
	payload, err = store.Get(cache.KindWishlist, "user")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

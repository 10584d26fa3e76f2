package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"steam-family-bot/internal/cache"
)

// FetchFunc retrieves the payload for one id from upstream. A (nil,
// nil) return is a soft miss: the id exists nowhere and is excluded
// from the result without being cached, so the next run retries it.
type FetchFunc func(ctx context.Context, id string) ([]byte, error)

// Backend selects the concurrency strategy for the fetch phase. Both
// funnel through the same limiter state inside the FetchFunc, so the
// choice only affects fan-out shape.
type Backend string

const (
	// BackendPool runs a fixed worker pool consuming an id channel.
	BackendPool Backend = "pool"
	// BackendFanout launches one goroutine per id behind a semaphore.
	BackendFanout Backend = "fanout"
)

type Options struct {
	Workers   int
	Backend   Backend
	BatchSize int
	DryRun    bool
}

// Report is the observability result of one population run. Partial
// failure is normal and never surfaces as an error.
type Report struct {
	Requested  int           `json:"requested"`
	CachedSkip int           `json:"cached_skip"`
	Fetched    int           `json:"fetched"`
	Failed     int           `json:"failed"`
	Written    int           `json:"written"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Orchestrator implements the two-phase batch pattern: concurrent
// collection into memory, then serialized transactional writes.
type Orchestrator struct {
	store  *cache.Store
	policy cache.TTLPolicy
}

func New(store *cache.Store, policy cache.TTLPolicy) *Orchestrator {
	return &Orchestrator{store: store, policy: policy}
}

// Populate produces a best-effort-complete id->payload map for one
// resource kind. Cached-fresh ids are returned without upstream calls;
// the rest are fetched under the configured backend and written back
// in batches. fallback may be nil.
func (o *Orchestrator) Populate(ctx context.Context, kind cache.Kind, ids []string, fetch, fallback FetchFunc, opts Options) (map[string][]byte, Report) {
	start := time.Now()
	report := Report{Requested: len(ids)}
	results := make(map[string][]byte, len(ids))

	if fetch == nil {
		// Key not configured for this kind: short-circuit the whole
		// run rather than attempt calls doomed to fail.
		log.Printf("Populate %s skipped: no fetcher configured", kind)
		report.Elapsed = time.Since(start)
		return results, report
	}

	// Phase 1: partition into cached-fresh vs needs-fetch.
	var missing []string
	for _, id := range ids {
		payload, err := o.store.Get(kind, id)
		if err != nil {
			log.Printf("Cache read failed for %s/%s: %v", kind, id, err)
			missing = append(missing, id)
			continue
		}
		if payload != nil {
			results[id] = payload
			report.CachedSkip++
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		report.Elapsed = time.Since(start)
		return results, report
	}

	log.Printf("Populate %s: %d requested, %d cached, %d to fetch", kind, len(ids), report.CachedSkip, len(missing))

	// Phase 2: concurrent fetch into memory, no writes yet.
	fetched := o.fetchAll(ctx, missing, fetch, fallback, opts, &report)

	// Phase 3: serialized batch write.
	if !opts.DryRun && len(fetched) > 0 {
		entries := make([]cache.Entry, 0, len(fetched))
		ttl := o.policy.TTL(kind)
		for id, payload := range fetched {
			entries = append(entries, cache.Entry{Key: id, Payload: payload, TTL: ttl})
		}
		written, err := o.store.BatchPut(kind, entries, opts.BatchSize)
		if err != nil {
			log.Printf("Populate %s: batch write error: %v", kind, err)
		}
		report.Written = written
	}

	for id, payload := range fetched {
		results[id] = payload
	}

	report.Elapsed = time.Since(start)
	log.Printf("Populate %s done: fetched %d, cached-skip %d, failed %d, written %d in %v",
		kind, report.Fetched, report.CachedSkip, report.Failed, report.Written, report.Elapsed.Truncate(time.Millisecond))
	return results, report
}

type fetchResult struct {
	id      string
	payload []byte
}

func (o *Orchestrator) fetchAll(ctx context.Context, ids []string, fetch, fallback FetchFunc, opts Options, report *Report) map[string][]byte {
	workers := opts.Workers
	if workers <= 0 {
		workers = 5
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	var (
		mu      sync.Mutex
		fetched = make(map[string][]byte, len(ids))
		failed  int
		done    int
	)

	collect := func(id string) {
		payload := o.fetchOne(ctx, id, fetch, fallback)

		mu.Lock()
		defer mu.Unlock()
		if payload != nil {
			fetched[id] = payload
		} else {
			failed++
		}
		done++
		if done%100 == 0 {
			log.Printf("Fetch progress: %d/%d, failed %d", done, len(ids), failed)
		}
	}

	switch opts.Backend {
	case BackendFanout:
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()
				collect(id)
			}(id)
		}
		wg.Wait()

	default: // BackendPool
		tasks := make(chan string)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for id := range tasks {
					collect(id)
				}
			}()
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			tasks <- id
		}
		close(tasks)
		wg.Wait()
	}

	report.Fetched = len(fetched)
	report.Failed = failed
	return fetched
}

// fetchOne tries the primary strategy, then the fallback. All failures
// reduce to a nil payload; the id is counted and skipped, never fatal
// to the batch.
func (o *Orchestrator) fetchOne(ctx context.Context, id string, fetch, fallback FetchFunc) []byte {
	payload, err := fetch(ctx, id)
	if err != nil {
		log.Printf("Fetch %s failed: %v", id, err)
	}
	if payload != nil {
		return payload
	}

	if fallback == nil {
		return nil
	}
	payload, err = fallback(ctx, id)
	if err != nil {
		log.Printf("Fallback fetch %s failed: %v", id, err)
		return nil
	}
	return payload
}

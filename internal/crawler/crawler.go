// Package crawler provides the core web crawling functionality.
// It implements a depth-bounded recursive crawler: every unit resolves its
// page from the cache or the network, extracts links, and spawns one child
// unit per unseen link while fetches stay under a concurrency limit.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/depthcrawl/internal/config"
	"github.com/masahif/depthcrawl/internal/parser"
)

// Crawler runs depth-bounded crawls against a shared store
type Crawler struct {
	config    *config.Config
	store     Store
	fetcher   Fetcher
	extractor Extractor
	recorder  Recorder
	publisher Publisher
	limiter   *Limiter
	client    *HTTPClient
}

// Option configures a Crawler
type Option func(*Crawler)

// WithFetcher replaces the HTTP fetcher
func WithFetcher(f Fetcher) Option {
	return func(c *Crawler) {
		c.fetcher = f
	}
}

// WithExtractor replaces the link extractor
func WithExtractor(e Extractor) Option {
	return func(c *Crawler) {
		c.extractor = e
	}
}

// WithRecorder reports crawl activity to r
func WithRecorder(r Recorder) Option {
	return func(c *Crawler) {
		c.recorder = r
	}
}

// WithPublisher announces completed units to p
func WithPublisher(p Publisher) Option {
	return func(c *Crawler) {
		c.publisher = p
	}
}

// NewCrawler creates a new crawler with the provided configuration and store.
// It builds the limiter, HTTP fetcher and link extractor from the configuration
// unless options replace them.
func NewCrawler(cfg *config.Config, store Store, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limiter := NewLimiter(cfg.Concurrency, cfg.RequestDelay)
	client := NewHTTPClient(limiter, cfg.UserAgent, cfg.RequestTimeout, cfg.MaxBodyBytes)

	c := &Crawler{
		config:    cfg,
		store:     store,
		fetcher:   client,
		extractor: parser.NewLinkExtractor(cfg.IgnoreRegexp()),
		recorder:  nopRecorder{},
		limiter:   limiter,
		client:    client,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Limiter returns the fetch permit pool
func (c *Crawler) Limiter() *Limiter {
	return c.limiter
}

// Close releases idle HTTP connections
func (c *Crawler) Close() error {
	c.client.Close()
	return nil
}

// Run crawls from seedURL until no units remain.
// The seen set is reset first, so each URL is crawled at most once per run.
// Page-level failures never fail the run; store errors and cancellation do.
// On error the returned result holds whatever completed before the abort.
func (c *Crawler) Run(ctx context.Context, seedURL string) (*RunResult, error) {
	r := newRun(c, seedURL)
	slog.Info("Starting crawl", "run_id", r.id, "seed_url", seedURL, "max_depth", c.config.MaxDepth, "concurrency", c.config.Concurrency)

	if err := c.store.Reset(ctx); err != nil {
		return r.result(), fmt.Errorf("failed to reset seen set: %w", err)
	}

	if _, err := c.store.MarkSeen(ctx, seedURL); err != nil {
		return r.result(), fmt.Errorf("failed to mark seed URL seen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	r.ctx = gctx

	r.spawn(Unit{URL: seedURL, Depth: 0})

	err := g.Wait()
	result := r.result()

	if ctx.Err() != nil {
		slog.Info("Crawling cancelled", "run_id", r.id, "units_crawled", result.Stats.UnitsCrawled)
		return result, ctx.Err()
	}
	if err != nil {
		slog.Error("Crawling aborted", "run_id", r.id, "error", err)
		return result, err
	}

	slog.Info("Crawling completed", "run_id", r.id,
		"units_crawled", result.Stats.UnitsCrawled,
		"cache_hits", result.Stats.CacheHits,
		"links_found", result.Stats.LinksFound,
		"duration", result.Stats.Duration)
	return result, nil
}

// run holds the state of a single crawl; nothing outlives it
type run struct {
	c       *Crawler
	id      string
	seedURL string
	started time.Time

	group *errgroup.Group
	ctx   context.Context

	outstanding atomic.Int64
	peak        atomic.Int64

	mu      sync.Mutex
	pages   []PageRecord
	fetches map[FetchOutcome]int
}

func newRun(c *Crawler, seedURL string) *run {
	return &run{
		c:       c,
		id:      uuid.NewString(),
		seedURL: seedURL,
		started: time.Now(),
		fetches: make(map[FetchOutcome]int),
	}
}

// spawn schedules u as an independent unit. The outstanding count rises
// before the goroutine starts, so it cannot reach zero while a parent is
// still spawning.
func (r *run) spawn(u Unit) {
	n := r.outstanding.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.c.recorder.SetOutstanding(n)

	r.group.Go(func() error {
		defer r.complete(u)
		return r.process(u)
	})
}

// complete is the Done transition of a unit
func (r *run) complete(u Unit) {
	remaining := r.outstanding.Add(-1)
	r.c.recorder.SetOutstanding(remaining)
	slog.Debug("Unit done", "url", u.URL, "depth", u.Depth, "remaining", remaining)
}

// process resolves, extracts and spawns for one unit
func (r *run) process(u Unit) error {
	ctx := r.ctx
	if ctx.Err() != nil {
		return nil
	}

	slog.Info("Crawling", "url", u.URL, "depth", u.Depth)

	text, record, err := r.resolve(ctx, u)
	if err != nil {
		return err
	}

	links := r.c.extractor.Extract(u.URL, text)
	record.Links = len(links)

	// Units at the depth limit never produce children
	if u.Depth < r.c.config.MaxDepth {
		for _, link := range links {
			if ctx.Err() != nil {
				break
			}

			added, err := r.c.store.MarkSeen(ctx, link)
			if err != nil {
				return fmt.Errorf("failed to mark %s seen: %w", link, err)
			}
			if !added {
				continue
			}

			slog.Debug("Enqueueing", "url", link, "parent", u.URL, "depth", u.Depth+1)
			r.spawn(Unit{URL: link, Depth: u.Depth + 1})
			record.Children++
		}
	}

	record.CrawledAt = time.Now().UTC()
	r.record(record)
	r.c.recorder.UnitCompleted(u.Depth, record.Children)

	if r.c.publisher != nil {
		if err := r.c.publisher.PublishPage(ctx, r.id, record); err != nil {
			slog.Warn("Failed to publish page event", "url", u.URL, "error", err)
		}
	}

	return nil
}

// resolve returns the unit's page text from the cache or a fresh fetch.
// Only store failures are returned as errors.
func (r *run) resolve(ctx context.Context, u Unit) (string, PageRecord, error) {
	record := PageRecord{URL: u.URL, Depth: u.Depth, Source: SourceNone}

	cached, found, err := r.c.store.TryGet(ctx, u.URL)
	if err != nil {
		return "", record, fmt.Errorf("failed to read cache for %s: %w", u.URL, err)
	}
	r.c.recorder.CacheLookup(found)

	if found {
		slog.Debug("Retrieved from cache", "url", u.URL)
		record.Source = SourceCache
		return cached, record, nil
	}

	slog.Debug("Not in cache", "url", u.URL)
	result := r.c.fetcher.Fetch(ctx, u.URL)
	r.c.recorder.FetchCompleted(string(result.Outcome), result.Duration)

	record.Outcome = result.Outcome
	record.StatusCode = result.StatusCode
	record.Truncated = result.Truncated
	r.countFetch(result.Outcome)

	if !result.OK() || result.Text == "" {
		return "", record, nil
	}

	if err := r.c.store.Put(ctx, u.URL, result.Text, r.c.config.CacheTTL); err != nil {
		return "", record, fmt.Errorf("failed to cache %s: %w", u.URL, err)
	}

	record.Source = SourceFetch
	return result.Text, record, nil
}

func (r *run) countFetch(outcome FetchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[outcome]++
}

func (r *run) record(page PageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, page)
}

// result snapshots the run. Pages are ordered by depth, then URL.
func (r *run) result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	pages := make([]PageRecord, len(r.pages))
	copy(pages, r.pages)
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Depth != pages[j].Depth {
			return pages[i].Depth < pages[j].Depth
		}
		return pages[i].URL < pages[j].URL
	})

	stats := CrawlStats{
		UnitsCrawled:    len(pages),
		Fetches:         make(map[FetchOutcome]int, len(r.fetches)),
		PeakOutstanding: r.peak.Load(),
	}
	for outcome, n := range r.fetches {
		stats.Fetches[outcome] = n
	}
	for _, page := range pages {
		if page.Source == SourceCache {
			stats.CacheHits++
		}
		stats.LinksFound += page.Links
		stats.UnitsSpawned += page.Children
	}

	finished := time.Now()
	stats.Duration = finished.Sub(r.started)

	return &RunResult{
		RunID:      r.id,
		SeedURL:    r.seedURL,
		MaxDepth:   r.c.config.MaxDepth,
		StartedAt:  r.started.UTC(),
		FinishedAt: finished.UTC(),
		Stats:      stats,
		Pages:      pages,
	}
}

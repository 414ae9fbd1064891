package crawler

import "time"

// Unit is one URL-and-depth pair scheduled for crawling
type Unit struct {
	URL   string // Absolute fetch target
	Depth int    // Link hops from the seed (seed = 0)
}

// FetchOutcome classifies a single fetch attempt
type FetchOutcome string

const (
	OutcomeOK             FetchOutcome = "ok"              // Body decoded (possibly empty)
	OutcomeTransportError FetchOutcome = "transport_error" // Bad URL, DNS, refused connection, redirect loop
	OutcomeTimeout        FetchOutcome = "timeout"         // Request budget elapsed before headers arrived
	OutcomeDecodeError    FetchOutcome = "decode_error"    // Body unreadable or not valid text
	OutcomeCanceled       FetchOutcome = "canceled"        // Run context canceled
)

// FetchResult is the outcome of a single fetch attempt
type FetchResult struct {
	Text       string        // Decoded page text, empty unless Outcome is OutcomeOK
	Outcome    FetchOutcome  // Classification of the attempt
	StatusCode int           // HTTP status code when a response arrived
	Duration   time.Duration // Time from permit acquisition to completion
	Truncated  bool          // Body was cut at the configured size limit
	Err        error         // Underlying cause for failed outcomes
}

// OK reports whether the fetch produced usable text
func (r FetchResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// ContentSource tells where a unit's page text came from
type ContentSource string

const (
	SourceCache ContentSource = "cache" // Served from the page cache
	SourceFetch ContentSource = "fetch" // Fetched and cached during this run
	SourceNone  ContentSource = "none"  // Fetch failed or returned nothing
)

// PageRecord describes one completed unit
type PageRecord struct {
	URL        string        `json:"url" yaml:"url"`
	Depth      int           `json:"depth" yaml:"depth"`
	Source     ContentSource `json:"source" yaml:"source"`
	Outcome    FetchOutcome  `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	StatusCode int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Truncated  bool          `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Links      int           `json:"links" yaml:"links"`       // Links extracted from the page
	Children   int           `json:"children" yaml:"children"` // Units spawned from those links
	CrawledAt  time.Time     `json:"crawled_at" yaml:"crawled_at"`
}

// CrawlStats summarizes a run
type CrawlStats struct {
	UnitsCrawled    int                  `json:"units_crawled" yaml:"units_crawled"`
	CacheHits       int                  `json:"cache_hits" yaml:"cache_hits"`
	Fetches         map[FetchOutcome]int `json:"fetches" yaml:"fetches"`
	LinksFound      int                  `json:"links_found" yaml:"links_found"`
	UnitsSpawned    int                  `json:"units_spawned" yaml:"units_spawned"`
	PeakOutstanding int64                `json:"peak_outstanding" yaml:"peak_outstanding"`
	Duration        time.Duration        `json:"duration" yaml:"duration"`
}

// RunResult is everything a run produced
type RunResult struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	SeedURL    string       `json:"seed_url" yaml:"seed_url"`
	MaxDepth   int          `json:"max_depth" yaml:"max_depth"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	Stats      CrawlStats   `json:"stats" yaml:"stats"`
	Pages      []PageRecord `json:"pages" yaml:"pages"`
}

package crawler

import (
	"context"
	"time"
)

// Store is the dedup set and page cache shared by every unit of a run.
// Implementations must make MarkSeen an atomic test-and-insert.
// Any returned error aborts the run.
type Store interface {
	MarkSeen(ctx context.Context, url string) (added bool, err error)
	TryGet(ctx context.Context, url string) (content string, found bool, err error)
	Put(ctx context.Context, url, content string, ttl time.Duration) error
	Reset(ctx context.Context) error
	Close() error
}

// Fetcher retrieves page text. Failures are reported in the result, never panicked or returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// Extractor finds link targets in page text
type Extractor interface {
	Extract(baseURL, text string) []string
}

// Recorder receives crawl activity for metrics
type Recorder interface {
	CacheLookup(hit bool)
	FetchCompleted(outcome string, duration time.Duration)
	UnitCompleted(depth, children int)
	SetOutstanding(n int64)
}

// Publisher announces completed units to an external stream
type Publisher interface {
	PublishPage(ctx context.Context, runID string, page PageRecord) error
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(bool) {}
func (nopRecorder) FetchCompleted(string, time.Duration) {}
func (nopRecorder) UnitCompleted(int, int) {}
func (nopRecorder) SetOutstanding(int64) {}

package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// siteServer serves a small site and tracks how many requests overlap
type siteServer struct {
	*httptest.Server
	current, peak atomic.Int32
	requests      atomic.Int32
	assetHits     atomic.Int32
}

func newSiteServer(t *testing.T, fanout int) *siteServer {
	t.Helper()
	s := &siteServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString(`<html><head><link href="/style.css" rel="stylesheet"></head><body>`)
		for i := 0; i < fanout; i++ {
			fmt.Fprintf(&b, `<a href="/p%d?ref=home#top">page %d</a>`, i, i)
		}
		b.WriteString(`<a href="/slow">slow</a></body></html>`)
		_, _ = w.Write([]byte(b.String()))
	})
	for i := 0; i < fanout; i++ {
		mux.HandleFunc(fmt.Sprintf("/p%d", i), func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(10 * time.Millisecond)
			_, _ = w.Write([]byte(`<a href="/">home</a> <a href='deep'>deep</a>`))
		})
	}
	mux.HandleFunc("/deep", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<a href="/deeper">deeper</a>`))
	})
	mux.HandleFunc("/deeper", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Page beyond the depth limit was fetched")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		s.assetHits.Add(1)
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		n := s.current.Add(1)
		defer s.current.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestIntegrationCrawlSite(t *testing.T) {
	site := newSiteServer(t, 10)

	cfg := testConfig(2)
	cfg.Concurrency = 3
	cfg.RequestTimeout = 200 * time.Millisecond

	c := newTestCrawler(t, cfg, newTestStore(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := c.Run(ctx, site.URL+"/")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Seed, ten pages, the slow page and /deep
	if result.Stats.UnitsCrawled != 13 {
		t.Errorf("Crawled %d units, want 13: %v", result.Stats.UnitsCrawled, pageURLs(result))
	}
	if got := site.requests.Load(); got != 13 {
		t.Errorf("Server received %d requests, want 13", got)
	}
	if got := site.peak.Load(); got > 3 {
		t.Errorf("Server saw %d concurrent requests, limit is 3", got)
	}
	if site.assetHits.Load() != 0 {
		t.Errorf("Ignored stylesheet was fetched")
	}
	if result.Stats.Fetches[OutcomeTimeout] != 1 {
		t.Errorf("Fetches = %v, want one timeout", result.Stats.Fetches)
	}
	if got := c.Limiter().InFlight(); got != 0 {
		t.Errorf("InFlight = %d after run, want 0", got)
	}

	for _, p := range result.Pages {
		if strings.ContainsAny(p.URL, "?#") {
			t.Errorf("Query or fragment kept in %s", p.URL)
		}
		if strings.HasSuffix(p.URL, "/deep") && p.Depth != 2 {
			t.Errorf("/deep crawled at depth %d, want 2", p.Depth)
		}
	}
}

func TestIntegrationSecondRunServedFromCache(t *testing.T) {
	site := newSiteServer(t, 3)

	cfg := testConfig(2)
	cfg.RequestTimeout = 200 * time.Millisecond
	s := newTestStore(t)
	c := newTestCrawler(t, cfg, s)

	ctx := context.Background()
	if _, err := c.Run(ctx, site.URL+"/"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first := site.requests.Load()

	result, err := c.Run(ctx, site.URL+"/")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	// Only the slow page, which never produced text, is fetched again
	if got := site.requests.Load() - first; got != 1 {
		t.Errorf("Second run made %d requests, want 1", got)
	}
	if result.Stats.UnitsCrawled != 6 || result.Stats.CacheHits != 5 {
		t.Errorf("Unexpected stats: %+v", result.Stats)
	}
}

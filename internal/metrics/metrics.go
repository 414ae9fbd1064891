// Package metrics exposes crawl activity as Prometheus metrics
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records crawl activity on its own registry, so several
// collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	units         *prometheus.CounterVec
	spawned       prometheus.Counter
	outstanding   prometheus.Gauge
}

// NewCollector creates a collector with every crawl metric registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depthcrawl_cache_lookups_total",
				Help: "Page cache lookups, labeled by result.",
			},
			[]string{"result"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depthcrawl_fetches_total",
				Help: "Fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depthcrawl_fetch_duration_seconds",
				Help:    "Duration of fetches in seconds, including the wait for a permit.",
				Buckets: prometheus.DefBuckets,
			},
		),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depthcrawl_units_completed_total",
				Help: "Completed crawl units, labeled by depth.",
			},
			[]string{"depth"},
		),
		spawned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depthcrawl_units_spawned_total",
				Help: "Child units spawned from newly seen links.",
			},
		),
		outstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "depthcrawl_units_outstanding",
				Help: "Units spawned but not yet done.",
			},
		),
	}

	c.registry.MustRegister(
		c.cacheLookups,
		c.fetches,
		c.fetchDuration,
		c.units,
		c.spawned,
		c.outstanding,
	)
	return c
}

// WatchInFlight exports the number of held fetch permits, read on every scrape
func (c *Collector) WatchInFlight(inFlight func() int64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "depthcrawl_fetches_in_flight",
			Help: "Fetch permits currently held.",
		},
		func() float64 { return float64(inFlight()) },
	))
}

// CacheLookup counts a cache hit or miss
func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// FetchCompleted counts a fetch by outcome and observes its duration
func (c *Collector) FetchCompleted(outcome string, duration time.Duration) {
	c.fetches.WithLabelValues(outcome).Inc()
	c.fetchDuration.Observe(duration.Seconds())
}

// UnitCompleted counts a finished unit at depth and the children it spawned
func (c *Collector) UnitCompleted(depth, children int) {
	c.units.WithLabelValues(strconv.Itoa(depth)).Inc()
	c.spawned.Add(float64(children))
}

// SetOutstanding reports the number of units not yet done
func (c *Collector) SetOutstanding(n int64) {
	c.outstanding.Set(float64(n))
}

// Handler serves the collector's registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("Exposing Prometheus metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
		return err
	}
	return nil
}

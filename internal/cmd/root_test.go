package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/masahif/depthcrawl/internal/config"
	"github.com/masahif/depthcrawl/internal/store"
)

// newTestCommand returns a bare command whose output is captured
func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	// Reset viper and restore the default logger runCrawler replaces
	viper.Reset()
	prev := slog.Default()
	t.Cleanup(func() {
		viper.Reset()
		slog.SetDefault(prev)
	})

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.Flags().Bool("show-config", false, "")
	cmd.SetOut(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	cmd.SetContext(ctx)

	viper.Set("log.level", "error")
	return cmd, &out
}

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<a href="/about">about</a><a href="/logo.png">logo</a>`))
		case "/about":
			_, _ = w.Write([]byte(`<a href="/">home</a>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSetVersionInfo(t *testing.T) {
	version := "1.2.3"
	buildTime := "2023-12-01T10:00:00Z"

	SetVersionInfo(version, buildTime)

	expected := "1.2.3 (built 2023-12-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
	if got := generateUserAgent(); got != "DepthCrawl/1.2.3" {
		t.Errorf("Expected versioned user agent, got %s", got)
	}

	SetVersionInfo("dev", "unknown")
	if got := generateUserAgent(); got != "DepthCrawl/dev" {
		t.Errorf("Expected dev user agent, got %s", got)
	}
}

func TestRootCmd(t *testing.T) {
	if rootCmd.Use != "depthcrawl [seed URL]" {
		t.Errorf("Expected use 'depthcrawl [seed URL]', got %s", rootCmd.Use)
	}

	if rootCmd.RunE == nil {
		t.Error("RunE should be set to runCrawler")
	}

	if err := rootCmd.Args(rootCmd, []string{"http://a.test/", "http://b.test/"}); err == nil {
		t.Error("Expected an error for more than one seed URL")
	}
}

func TestFlagBinding(t *testing.T) {
	flags := rootCmd.Flags()

	for _, bind := range flagBindings {
		if flags.Lookup(bind.flagName) == nil {
			t.Errorf("Expected flag %s to be defined", bind.flagName)
		}
	}

	if flags.Lookup("show-config") == nil {
		t.Error("Expected flag show-config to be defined")
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("Expected persistent flag 'config' to be defined")
	}
}

func TestInitConfig(t *testing.T) {
	cmd, _ := newTestCommand(t)

	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "depthcrawl.yml")

	configContent := `
max_depth: 3
concurrency: 5
request_timeout: 2s
cache_ttl: 1h
store:
  backend: sqlite
  database_path: ./crawl.db
kafka:
  brokers:
    - localhost:9092
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	// Environment overrides the file
	t.Setenv("DC_CONCURRENCY", "7")

	cfgFile = configFile
	defer func() { cfgFile = "" }()
	initConfig()

	if viper.ConfigFileUsed() != configFile {
		t.Errorf("Expected config file %s, got %s", configFile, viper.ConfigFileUsed())
	}

	cfg, err := loadConfig(cmd, []string{"http://a.test/"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.SeedURL != "http://a.test/" {
		t.Errorf("SeedURL = %q", cfg.SeedURL)
	}
	if cfg.MaxDepth != 3 || cfg.Concurrency != 7 {
		t.Errorf("MaxDepth = %d, Concurrency = %d; want 3, 7", cfg.MaxDepth, cfg.Concurrency)
	}
	if cfg.RequestTimeout != 2*time.Second || cfg.CacheTTL != time.Hour {
		t.Errorf("RequestTimeout = %v, CacheTTL = %v", cfg.RequestTimeout, cfg.CacheTTL)
	}
	if cfg.Store.Backend != config.BackendSQLite || cfg.Store.DatabasePath != "./crawl.db" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	// Untouched nested defaults survive
	if cfg.Store.RedisPrefix != "depthcrawl:" || cfg.Kafka.Topic != "depthcrawl.pages" {
		t.Errorf("Nested defaults lost: %+v %+v", cfg.Store, cfg.Kafka)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Kafka brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestInitConfigEnvOnlyKeys(t *testing.T) {
	cmd, _ := newTestCommand(t)

	t.Setenv("DC_MAX_BODY_BYTES", "2048")
	t.Setenv("DC_STORE_REDIS_DB", "3")
	t.Setenv("DC_STORE_MEMORY_PAGES", "50")
	t.Setenv("DC_LOG_MAX_SIZE_MB", "7")
	t.Setenv("DC_LOG_MAX_BACKUPS", "2")

	cfgFile = filepath.Join(t.TempDir(), "missing.yml")
	defer func() { cfgFile = "" }()
	initConfig()

	cfg, err := loadConfig(cmd, []string{"http://a.test/"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.MaxBodyBytes != 2048 {
		t.Errorf("MaxBodyBytes = %d, want 2048", cfg.MaxBodyBytes)
	}
	if cfg.Store.RedisDB != 3 || cfg.Store.MemoryPages != 50 {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.Log.MaxSizeMB != 7 || cfg.Log.MaxBackups != 2 {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestShowConfig(t *testing.T) {
	cmd, out := newTestCommand(t)
	if err := cmd.Flags().Set("show-config", "true"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	viper.Set("max_depth", 4)

	if err := runCrawler(cmd, nil); err != nil {
		t.Fatalf("runCrawler with show-config failed: %v", err)
	}

	for _, want := range []string{"max_depth: 4", "backend: redis", "DC_ prefix", "ignore_pattern:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show-config output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunCrawlerValidation(t *testing.T) {
	t.Run("NoSeedURL", func(t *testing.T) {
		cmd, _ := newTestCommand(t)

		err := runCrawler(cmd, nil)
		if !errors.Is(err, config.ErrNoSeedURL) {
			t.Errorf("Expected ErrNoSeedURL, got %v", err)
		}
	})

	t.Run("InvalidConcurrency", func(t *testing.T) {
		cmd, _ := newTestCommand(t)
		viper.Set("concurrency", 0)

		err := runCrawler(cmd, []string{"http://a.test/"})
		if !errors.Is(err, config.ErrInvalidConcurrency) {
			t.Errorf("Expected ErrInvalidConcurrency, got %v", err)
		}
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		cmd, _ := newTestCommand(t)
		viper.Set("store.backend", "etcd")

		err := runCrawler(cmd, []string{"http://a.test/"})
		if !errors.Is(err, config.ErrUnknownBackend) {
			t.Errorf("Expected ErrUnknownBackend, got %v", err)
		}
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		cmd, _ := newTestCommand(t)
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		addr := mr.Addr()
		mr.Close()
		viper.Set("store.redis_addr", addr)

		err = runCrawler(cmd, []string{"http://a.test/"})
		if !errors.Is(err, store.ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
	})
}

func TestRunCrawlerBackends(t *testing.T) {
	site := newTestSite(t)

	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{"memory", func(t *testing.T, dir string) {
			viper.Set("store.backend", config.BackendMemory)
		}},
		{"sqlite", func(t *testing.T, dir string) {
			viper.Set("store.backend", config.BackendSQLite)
			viper.Set("store.database_path", filepath.Join(dir, "db", "crawl.db"))
		}},
		{"redis", func(t *testing.T, dir string) {
			mr := miniredis.RunT(t)
			viper.Set("store.backend", config.BackendRedis)
			viper.Set("store.redis_addr", mr.Addr())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, out := newTestCommand(t)
			dir := t.TempDir()
			output := filepath.Join(dir, "results.json")
			viper.Set("output", output)
			tt.setup(t, dir)

			if err := runCrawler(cmd, []string{site.URL + "/"}); err != nil {
				t.Fatalf("runCrawler failed: %v", err)
			}

			data, err := os.ReadFile(output)
			if err != nil {
				t.Fatalf("Report not written: %v", err)
			}

			var report struct {
				SeedURL string `json:"seed_url"`
				Stats   struct {
					UnitsCrawled int `json:"units_crawled"`
				} `json:"stats"`
			}
			if err := json.Unmarshal(data, &report); err != nil {
				t.Fatalf("Invalid report: %v", err)
			}
			if report.SeedURL != site.URL+"/" || report.Stats.UnitsCrawled != 2 {
				t.Errorf("Unexpected report: %+v", report)
			}
			if !strings.Contains(out.String(), "Crawled 2 pages") {
				t.Errorf("Missing summary in output:\n%s", out.String())
			}
		})
	}
}

func TestRunCrawlerWithMetrics(t *testing.T) {
	site := newTestSite(t)
	cmd, _ := newTestCommand(t)

	viper.Set("store.backend", config.BackendMemory)
	viper.Set("output", "")
	viper.Set("metrics_addr", "127.0.0.1:0")

	if err := runCrawler(cmd, []string{site.URL + "/"}); err != nil {
		t.Fatalf("runCrawler with metrics failed: %v", err)
	}
}

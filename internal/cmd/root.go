// Package cmd provides the command-line interface for DepthCrawl.
// It handles command parsing, configuration loading, and crawler execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/masahif/depthcrawl/internal/config"
	"github.com/masahif/depthcrawl/internal/crawler"
	"github.com/masahif/depthcrawl/internal/events"
	"github.com/masahif/depthcrawl/internal/logging"
	"github.com/masahif/depthcrawl/internal/metrics"
	"github.com/masahif/depthcrawl/internal/report"
	"github.com/masahif/depthcrawl/internal/store"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "depthcrawl [seed URL]",
	Short: "A depth-bounded concurrent web crawler",
	Long: `DepthCrawl crawls outward from a seed URL up to a fixed link depth.

Every page is fetched at most once per run, fetched text is cached with a TTL,
and the number of simultaneous fetches is bounded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrawler,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./depthcrawl.yml)")

	// Configuration management flags
	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	defaults := config.DefaultConfig()

	// Crawl flags
	rootCmd.Flags().Int("max-depth", defaults.MaxDepth, "Maximum link hops from the seed URL")
	rootCmd.Flags().IntP("concurrency", "c", defaults.Concurrency, "Maximum simultaneous fetches")
	rootCmd.Flags().DurationP("timeout", "t", defaults.RequestTimeout, "Per-fetch timeout, including body decode")
	rootCmd.Flags().Duration("delay", defaults.RequestDelay, "Minimum spacing between fetch starts (0 disables)")
	rootCmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "How long fetched pages stay cached")
	rootCmd.Flags().String("ignore-pattern", defaults.IgnorePattern, "Regex of links that are never crawled")
	rootCmd.Flags().StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")

	// Store flags
	rootCmd.Flags().String("store", defaults.Store.Backend, "Store backend: redis, sqlite or memory")
	rootCmd.Flags().String("redis-addr", defaults.Store.RedisAddr, "Redis server address")
	rootCmd.Flags().String("redis-prefix", defaults.Store.RedisPrefix, "Prefix for Redis keys")
	rootCmd.Flags().StringP("database", "d", defaults.Store.DatabasePath, "Path to SQLite database file")

	// Output flags
	rootCmd.Flags().StringP("output", "o", defaults.Output, "Run report path (.json, .yaml or .yml, empty disables)")
	rootCmd.Flags().String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	rootCmd.Flags().String("log-file", defaults.Log.File, "Write logs to this file with rotation instead of stdout")
	rootCmd.Flags().String("metrics-addr", defaults.MetricsAddr, "Expose Prometheus metrics on this address (empty disables)")

	// Event flags
	rootCmd.Flags().StringSlice("kafka-brokers", defaults.Kafka.Brokers, "Kafka brokers for page events (empty disables)")
	rootCmd.Flags().String("kafka-topic", defaults.Kafka.Topic, "Kafka topic for page events")

	bindFlags(rootCmd)
}

// flagBindings maps viper keys to command-line flags
var flagBindings = []struct {
	viperKey string
	flagName string
}{
	{"max_depth", "max-depth"},
	{"concurrency", "concurrency"},
	{"request_timeout", "timeout"},
	{"request_delay", "delay"},
	{"cache_ttl", "cache-ttl"},
	{"ignore_pattern", "ignore-pattern"},
	{"user_agent", "user-agent"},
	{"store.backend", "store"},
	{"store.redis_addr", "redis-addr"},
	{"store.redis_prefix", "redis-prefix"},
	{"store.database_path", "database"},
	{"output", "output"},
	{"log.level", "log-level"},
	{"log.file", "log-file"},
	{"metrics_addr", "metrics-addr"},
	{"kafka.brokers", "kafka-brokers"},
	{"kafka.topic", "kafka-topic"},
}

func bindFlags(cmd *cobra.Command) {
	for _, bind := range flagBindings {
		flag := cmd.Flags().Lookup(bind.flagName)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(bind.viperKey, flag); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("depthcrawl")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("DC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	setDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers the keys without a flag so AutomaticEnv can resolve them
func setDefaults() {
	defaults := config.DefaultConfig()
	viper.SetDefault("max_body_bytes", defaults.MaxBodyBytes)
	viper.SetDefault("store.redis_db", defaults.Store.RedisDB)
	viper.SetDefault("store.memory_pages", defaults.Store.MemoryPages)
	viper.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	viper.SetDefault("log.max_backups", defaults.Log.MaxBackups)
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("DepthCrawl/%s", version)
	}
	return "DepthCrawl/dev"
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(args) > 0 {
		cfg.SeedURL = args[0]
	}

	// Update User-Agent with dynamic version if not explicitly set
	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == config.DefaultConfig().UserAgent {
		cfg.UserAgent = generateUserAgent()
	}

	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current DepthCrawl Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./depthcrawl.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: DC_\n\n")

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (DC_ prefix)\n")
	fmt.Fprintf(w, "# 3. Configuration file (depthcrawl.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawler(cmd *cobra.Command, args []string) error {
	// Handle --show-config flag first
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if cfg.SeedURL == "" {
		return fmt.Errorf("%w\nUsage: %s [seed URL]", config.ErrNoSeedURL, cmd.Root().Name())
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err := logging.SetDefault(logging.Config{
		Level:      logging.ParseLevel(cfg.Log.Level),
		FilePath:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     30,
		Compress:   true,
		Console:    cfg.Log.File == "",
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting crawler with configuration:\n")
	fmt.Fprintf(out, "  Seed URL: %s\n", cfg.SeedURL)
	fmt.Fprintf(out, "  Max Depth: %d\n", cfg.MaxDepth)
	fmt.Fprintf(out, "  Concurrency: %d\n", cfg.Concurrency)
	fmt.Fprintf(out, "  Request Timeout: %v\n", cfg.RequestTimeout)
	fmt.Fprintf(out, "  Store: %s\n", describeStore(cfg))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() { _ = st.Close() }()

	result, err := crawl(ctx, cfg, st)

	if result != nil && cfg.Output != "" {
		if writeErr := report.Write(cfg.Output, result); writeErr != nil {
			return errors.Join(err, fmt.Errorf("failed to write report: %w", writeErr))
		}
		fmt.Fprintf(out, "Report written to %s\n", cfg.Output)
	}

	if result != nil {
		fmt.Fprintf(out, "Crawled %d pages (%d from cache) in %v\n",
			result.Stats.UnitsCrawled, result.Stats.CacheHits, result.Stats.Duration.Round(time.Millisecond))
	}

	return err
}

// crawl wires the optional metrics and event sinks around a single run
func crawl(ctx context.Context, cfg *config.Config, st crawler.Store) (*crawler.RunResult, error) {
	var opts []crawler.Option

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector()
		opts = append(opts, crawler.WithRecorder(collector))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = publisher.Close() }()
		opts = append(opts, crawler.WithPublisher(publisher))
	}

	c, err := crawler.NewCrawler(cfg, st, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crawler: %w", err)
	}
	defer func() { _ = c.Close() }()

	if collector == nil {
		return c.Run(ctx, cfg.SeedURL)
	}

	if err := collector.WatchInFlight(c.Limiter().InFlight); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// The metrics server lives exactly as long as the run
	serveCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return collector.Serve(serveCtx, cfg.MetricsAddr)
	})

	result, runErr := c.Run(ctx, cfg.SeedURL)
	cancel()
	if err := g.Wait(); err != nil {
		return result, errors.Join(runErr, fmt.Errorf("metrics server: %w", err))
	}
	return result, runErr
}

// openStore creates the configured backend and checks that it is usable
func openStore(ctx context.Context, cfg *config.Config) (crawler.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		st := store.NewRedisStore(store.RedisOptions{
			Addr:   cfg.Store.RedisAddr,
			DB:     cfg.Store.RedisDB,
			Prefix: cfg.Store.RedisPrefix,
		})
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil

	case config.BackendSQLite:
		dbDir := filepath.Dir(cfg.Store.DatabasePath)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
		if err != nil {
			return nil, err
		}
		return st, nil

	case config.BackendMemory:
		st, err := store.NewMemoryStore(cfg.Store.MemoryPages)
		if err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, config.ErrUnknownBackend
	}
}

func describeStore(cfg *config.Config) string {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return fmt.Sprintf("redis (%s, prefix %q)", cfg.Store.RedisAddr, cfg.Store.RedisPrefix)
	case config.BackendSQLite:
		return fmt.Sprintf("sqlite (%s)", cfg.Store.DatabasePath)
	default:
		return cfg.Store.Backend
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"recarmend/listingworker/config"
	"recarmend/listingworker/helpers"
	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/internal/scraper/factory"
	"recarmend/listingworker/logger"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/proxy"
	"recarmend/listingworker/services/publisher"
	"recarmend/listingworker/services/scheduler"
	"recarmend/listingworker/services/sink"
	"recarmend/listingworker/services/uploader"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	runName := flag.String("run", "", "run the named source adapter once and exit")
	runAll := flag.Bool("run-all", false, "run every source adapter once and exit")
	status := flag.Bool("status", false, "print the last-run status per source and exit")
	flag.Parse()

	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Dur("run_interval", cfg.RunInterval).
		Dur("check_interval", cfg.CheckInterval).
		Msg("Starting listing worker")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	// Create source adapters and the registry
	metrics := scraper.NewMetrics()
	registry := scraper.NewRegistry(metrics)
	for _, s := range factory.CreateScrapers(cfg, services.Sink, services.Cache, metrics, services.Proxy) {
		registry.Register(s)
	}
	log.Info().Strs("sources", registry.Names()).Msg("Registered source adapters")

	// Keep the uploader a nil interface when Postgres is not configured.
	var up scheduler.Uploader
	if services.Uploader != nil {
		up = services.Uploader
	}
	sched := scheduler.New(registry, services.Store, up, services.Publisher, services.Cache, cfg.RunInterval, cfg.CheckInterval)

	// One-shot operator modes
	switch {
	case *status:
		printStatus(sched)
		return
	case *runName != "":
		res, err := sched.TriggerRun(ctx, *runName)
		if err != nil {
			log.Fatal().Err(err).Msg("Run failed to start")
		}
		printResults([]scraper.RunResult{res})
		return
	case *runAll:
		printResults(sched.TriggerAll(ctx))
		return
	}

	// Daemon mode: metrics endpoint plus the scheduling loop
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, metrics)
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-schedulerDone
	case <-schedulerDone:
	}

	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Uploader  *uploader.PostgresUploader
	Sink      sink.Sink
	Store     *scheduler.Store
	Proxy     proxy.Rotator
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Sink != nil {
		s.Sink.Close()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Uploader != nil {
		s.Uploader.Close()
	}
}

// initializeServices initializes all required services. Optional
// collaborators (memcache, redis, postgres, proxies) stay nil when their
// address is not configured.
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	csvSink, err := sink.NewCSVSink(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	services.Sink = csvSink

	store, err := scheduler.NewStore(cfg.RunStateFile)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	services.Store = store

	if cfg.MemcacheAddr != "" {
		memcacheSvc := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := memcacheSvc.Ping(); err != nil {
			logger.Warn("Memcache at %s unreachable, cooldowns disabled: %v", cfg.MemcacheAddr, err)
		} else {
			services.Cache = memcacheSvc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	if cfg.RedisAddr != "" {
		services.Publisher = publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	if cfg.PostgresDSN != "" {
		up, err := uploader.New(ctx, cfg.PostgresDSN, cfg.UploadChunkSize)
		if err != nil {
			return nil, fmt.Errorf("connect uploader: %w", err)
		}
		services.Uploader = up
		logger.Info("Connected to Postgres")
	}

	if cfg.ProxyEnabled {
		manager := proxy.NewManager(splitAddrs(cfg.ProxyAddrs), cfg.ProxyListURL)
		if err := manager.Refresh(); err != nil {
			logger.Warn("Proxy pool refresh failed: %v", err)
		} else if addr, ok := manager.Current(); ok {
			if err := helpers.UseSocks5Proxy(addr); err != nil {
				logger.Warn("Failed to route HTTP fetches through proxy %s: %v", addr, err)
			}
		}
		services.Proxy = manager
		logger.Info("Proxy rotation enabled (%d working)", manager.Len())
	}

	return services, nil
}

// serveMetrics exposes the acquisition metrics registry over HTTP.
func serveMetrics(addr string, metrics *scraper.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	logger.Info("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped: %v", err)
	}
}

// printStatus writes the per-source run records for operators.
func printStatus(sched *scheduler.Scheduler) {
	records := sched.Status()
	if len(records) == 0 {
		fmt.Println("no run records yet")
		return
	}
	for _, rec := range records {
		line := fmt.Sprintf("%-12s outcome=%-8s count=%-6d", rec.Source, orDash(string(rec.Outcome)), rec.Count)
		if !rec.LastAttempt.IsZero() {
			line += " last_attempt=" + rec.LastAttempt.Format("2006-01-02 15:04:05")
		}
		if !rec.LastSuccess.IsZero() {
			line += " last_success=" + rec.LastSuccess.Format("2006-01-02 15:04:05")
		}
		if rec.ErrorSummary != "" {
			line += " error=" + rec.ErrorSummary
		}
		fmt.Println(line)
	}
}

// printResults writes the outcome of a one-shot trigger.
func printResults(results []scraper.RunResult) {
	for _, res := range results {
		line := fmt.Sprintf("%-12s outcome=%-8s count=%-6d duration=%s",
			res.Source, res.Outcome, res.Count, res.Finished.Sub(res.Started).Round(time.Millisecond))
		if res.Err != nil {
			line += " error=" + res.Err.Error()
		}
		fmt.Println(line)
		for _, abort := range res.Aborts {
			fmt.Printf("  aborted category=%q page=%d rows=%d reason=%s\n",
				abort.Category, abort.Page, abort.Rows, abort.Reason)
		}
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// splitAddrs parses the comma-separated PROXY_ADDRS value into a clean
// address list.
func splitAddrs(raw string) []string {
	var addrs []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

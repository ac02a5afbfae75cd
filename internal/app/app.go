package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alex-user-go/listings/internal/alerting"
	"github.com/alex-user-go/listings/internal/config"
	"github.com/alex-user-go/listings/internal/handler"
	"github.com/alex-user-go/listings/internal/health"
	"github.com/alex-user-go/listings/internal/middleware"
	"github.com/alex-user-go/listings/internal/obs"
	"github.com/alex-user-go/listings/internal/providers"
	"github.com/alex-user-go/listings/internal/search"
	"github.com/alex-user-go/listings/internal/search/cache"
	"github.com/alex-user-go/listings/internal/search/ratelimit"
	"github.com/alex-user-go/listings/internal/store"
)

const channelTimeout = 10 * time.Second

// Run initializes and runs the application.
func Run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	metrics := obs.NewMetrics()

	// Response cache
	var responseCache cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to init redis cache: %w", err)
		}
		defer func() {
			_ = rc.Close()
		}()
		responseCache = rc
	default:
		responseCache = cache.NewMemory(cfg.Cache.Size, cfg.Search.CacheTTL)
	}

	// Local store
	localStore := store.NewMemoryStore()
	if cfg.Store.SeedFile != "" {
		if err := localStore.LoadSeed(cfg.Store.SeedFile); err != nil {
			return fmt.Errorf("failed to seed local store: %w", err)
		}
	}

	// Provider registry from configuration
	descriptors := make([]*providers.Descriptor, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = cfg.Search.ProviderTimeout
		}
		p := providers.NewHTTPProvider(pc.ID, pc.BaseURL, timeout)
		descriptors = append(descriptors, providers.NewDescriptor(pc.ID, pc.Name, pc.ServiceType, pc.MaxListings, p))
	}
	registry, err := providers.NewRegistry(descriptors...)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	// Health monitor
	monitor := health.NewMonitor(registry, metrics, logger,
		health.WithInterval(cfg.Health.Interval),
		health.WithProbeTimeout(cfg.Health.ProbeTimeout),
		health.WithFailureThreshold(cfg.Health.FailureThreshold),
	)

	// Alert manager
	alertManager, err := alerting.NewManager(
		monitor,
		buildChannels(cfg, logger),
		buildRules(cfg),
		metrics,
		logger,
		alerting.WithScanInterval(cfg.Alerting.ScanInterval),
	)
	if err != nil {
		return fmt.Errorf("failed to init alert manager: %w", err)
	}

	// Aggregator
	aggregator := search.NewAggregator(
		localStore,
		registry,
		responseCache,
		cfg.Search.CacheTTL,
		cfg.Search.ProviderTimeout,
		metrics,
		logger,
	)

	// Rate limiter
	limiter := ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Window)
	defer limiter.Close()

	// Background loops run for the process lifetime.
	monitor.Start()
	defer monitor.Stop()
	alertManager.Start()
	defer alertManager.Stop()

	// HTTP surface
	h := handler.New(aggregator, monitor, alertManager, limiter, logger)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      middleware.Logging(logger)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", "addr", srv.Addr, "providers", len(descriptors))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// buildChannels assembles the configured alert channels. The log channel is
// always present so a bare configuration still surfaces alerts somewhere.
func buildChannels(cfg *config.Config, logger *slog.Logger) []alerting.Channel {
	channels := []alerting.Channel{alerting.NewLogChannel(logger)}

	cc := cfg.Alerting.Channels
	if cc.ChatWebhookURL != "" {
		channels = append(channels, alerting.NewChatChannel(cc.ChatWebhookURL, channelTimeout))
	}
	if cc.WebhookURL != "" {
		channels = append(channels, alerting.NewWebhookChannel("webhook", cc.WebhookURL, channelTimeout))
	}
	if cc.EmailAddr != "" && len(cc.EmailTo) > 0 {
		var auth smtp.Auth
		channels = append(channels, alerting.NewEmailChannel(cc.EmailAddr, cc.EmailFrom, cc.EmailTo, auth))
	}
	return channels
}

func buildRules(cfg *config.Config) []alerting.Rule {
	rules := make([]alerting.Rule, 0, len(cfg.Alerting.Rules))
	for _, rc := range cfg.Alerting.Rules {
		rules = append(rules, alerting.Rule{
			ID:        rc.ID,
			Type:      alerting.RuleType(rc.Type),
			Threshold: rc.Threshold,
			Enabled:   rc.Enabled,
			Cooldown:  rc.Cooldown,
			Channels:  rc.Channels,
		})
	}
	return rules
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"easytrip/internal/api"
	"easytrip/internal/booking"
	"easytrip/internal/config"
	"easytrip/internal/database"
	"easytrip/internal/eligibility"
	"easytrip/internal/events"
	"easytrip/internal/metrics"
	"easytrip/internal/monitor"
	"easytrip/internal/notify"
	"easytrip/internal/repository"
	"easytrip/internal/session"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	configPath := os.Getenv("EASYTRIP_CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLogger := logger.With().Str("component", "database").Logger()
	db, err := database.NewDB(cfg.Database.Path, &dbLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var (
		journeys repository.JourneyRepository = db
		store    session.Store
		rdb      *redis.Client
	)
	sessLogger := logger.With().Str("component", "session").Logger()
	memStore := session.NewMemoryStore()
	memStore.StartCleanup(ctx, 10*time.Minute)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if ttl := cfg.CacheTTL(); ttl > 0 {
			journeys = repository.NewCachedJourneys(db, rdb, ttl)
		}
		store = session.NewFailoverStore(session.NewRedisStore(rdb), memStore, &sessLogger)
	} else {
		store = memStore
	}

	rules := eligibility.NewRuleSet(cfg.Booking.Rules())
	if err := config.WatchRules(ctx, configPath, cfg.ReloadInterval(), func(r eligibility.Rules) {
		rules.Set(r)
		logger.Info().
			Dur("cutoff", r.Cutoff).
			Dur("rebooking_wait", r.RebookingWait).
			Int("maintenance_start", r.MaintenanceStartHour).
			Int("maintenance_end", r.MaintenanceEndHour).
			Msg("Booking rules loaded")
	}); err != nil {
		logger.Fatal().Err(err).Msg("watch booking rules")
	}

	busLogger := logger.With().Str("component", "events").Logger()
	bus := events.NewEventBus(&busLogger)

	svcLogger := logger.With().Str("component", "booking").Logger()
	svc := booking.NewService(journeys, db, db, rules, bus, &svcLogger)

	if cfg.Telegram.BotToken != "" {
		startNotifier(ctx, cfg, bus, &logger)
	} else {
		logger.Info().Msg("telegram.bot_token not set, operator notifications disabled")
	}

	monLogger := logger.With().Str("component", "monitor").Logger()
	mon := monitor.New(journeys, svc, rules, bus, cfg.MonitorInterval(), &monLogger)
	go mon.Start(ctx)

	backupLogger := logger.With().Str("component", "backup").Logger()
	go database.NewBackupService(db, cfg.Backup, &backupLogger).Start(ctx)

	checks := map[string]api.ReadyCheck{
		"database": db.PingContext,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	go serve(ctx, "health", cfg.Monitoring.HealthCheckPort, api.HealthHandler(checks), cfg.ShutdownTimeout(), &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go serve(ctx, "metrics", cfg.Monitoring.PrometheusPort, mux, cfg.ShutdownTimeout(), &logger)
	}

	apiLogger := logger.With().Str("component", "api").Logger()
	sessions := session.NewManager(store, cfg.SessionTTL(), &sessLogger)
	server := api.NewServer(svc, sessions, api.RateConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, checks, &apiLogger)

	logger.Info().Int("port", cfg.Server.Port).Msg("EasyTrip started")
	serve(ctx, "api", cfg.Server.Port, server.Handler(), cfg.ShutdownTimeout(), &logger)
	mon.Stop()
	logger.Info().Msg("EasyTrip stopped")
}

func startNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot init failed, operator notifications disabled")
		return
	}
	notifyLogger := logger.With().Str("component", "notify").Str("bot", bot.Self.UserName).Logger()
	n := notify.New(bot, notify.Config{ChatIDs: cfg.Telegram.OperatorChatIDs}, &notifyLogger)
	n.Subscribe(bus)
	go n.Run(ctx)
}

// serve runs an HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, name string, port int, h http.Handler, shutdown time.Duration, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdown)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yoyaku/internal/alert"
	"yoyaku/internal/api"
	"yoyaku/internal/bot"
	"yoyaku/internal/config"
	"yoyaku/internal/database"
	"yoyaku/internal/domain"
	"yoyaku/internal/events"
	"yoyaku/internal/google"
	"yoyaku/internal/logging"
	"yoyaku/internal/mail"
	"yoyaku/internal/metrics"
	"yoyaku/internal/models"
	"yoyaku/internal/notify"
	"yoyaku/internal/pricing"
	"yoyaku/internal/repository"
	"yoyaku/internal/service"
	"yoyaku/internal/slots"
	"yoyaku/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// integrations holds the optional outbound clients. Unconfigured ones stay
// nil interfaces.
type integrations struct {
	calendar domain.CalendarWriter
	mailer   domain.Mailer
	ledger   domain.LedgerWriter
	alerter  domain.Alerter
	telegram *tgbotapi.BotAPI
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	cache := initCache(redisClient, &logger)

	loc := cfg.Location()
	engine, err := slots.NewEngine(slots.Config{
		OpenTime:          cfg.Schedule.OpenTime,
		CloseTime:         cfg.Schedule.CloseTime,
		StepMinutes:       cfg.Schedule.StepMinutes,
		PreBufferMinutes:  *cfg.Schedule.PreBufferMinutes,
		PostBufferMinutes: *cfg.Schedule.PostBufferMinutes,
		MinLeadMinutes:    *cfg.Schedule.MinLeadMinutes,
		Location:          loc,
	})
	if err != nil {
		return fmt.Errorf("slot engine: %w", err)
	}
	resolver := pricing.NewResolver(db, db, coursePrices(cfg), *cfg.Pricing.MatchName, pricing.WithLocation(loc))

	ext := initIntegrations(ctx, cfg, &logger)

	var queue domain.TaskQueue
	if *cfg.Worker.Enabled {
		w := worker.NewNotificationWorker(db, worker.Handlers{
			Calendar: ext.calendar,
			Mailer:   ext.mailer,
			Ledger:   ext.ledger,
			Alerter:  ext.alerter,
		}, redisClient, worker.PolicyFromConfig(cfg.Worker), cfg.Worker.PollInterval, &logger)
		go w.Start(ctx)
		queue = w
	}

	orchestrator := notify.NewOrchestrator(notify.Deps{
		Calendar: ext.calendar,
		Mailer:   ext.mailer,
		Alerter:  ext.alerter,
		Queue:    queue,
	}, notify.SettingsFrom(cfg, ext.ledger != nil), &logger)

	eventBus := events.NewEventBus()
	if cfg.Events.AMQPURL != "" {
		forwarder, err := events.NewAMQPForwarder(cfg.Events.AMQPURL, cfg.Events.AMQPQueue, &logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, lifecycle events stay in process")
		} else {
			forwarder.Register(eventBus)
			defer func() { _ = forwarder.Close() }()
		}
	}

	svc := service.NewReservationService(db, cache,
		repository.NewConfirmedCache(db, cache, cfg.Schedule.SlotCacheTTL, &logger),
		engine, resolver, orchestrator, eventBus,
		service.Options{
			CreateLimitPerPhone:    cfg.API.CreateLimit.PerPhone,
			CreateLimitWindow:      cfg.API.CreateLimit.Window,
			VerifySlotOnCreate:     *cfg.Lifecycle.VerifySlotOnCreate,
			RejectOverlapOnConfirm: *cfg.Lifecycle.RejectOverlapOnConfirm,
			NotifyOnCreate:         *cfg.Notify.OnCreate,
		}, &logger)

	backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
	go backup.Start(ctx)

	if cfg.Telegram.OperatorBot && ext.telegram != nil {
		operator := bot.NewBot(bot.NewBotWrapper(ext.telegram), svc, db, cfg.Telegram.ChatIDs, loc, &logger)
		go operator.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, db, &logger)
	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initCache(client *redis.Client, logger *zerolog.Logger) domain.CacheRepository {
	memory := repository.NewMemoryCacheRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverCacheRepository(repository.NewRedisCacheRepository(client), memory, logger)
}

func coursePrices(cfg *config.Config) map[models.Course]pricing.CoursePrice {
	out := make(map[models.Course]pricing.CoursePrice)
	for course, p := range cfg.CoursePrices() {
		out[course] = pricing.CoursePrice{Normal: p.NormalPrice, FirstTime: p.FirstTimePrice}
	}
	return out
}

func initIntegrations(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) integrations {
	var ext integrations

	if m := mail.NewClient(cfg.Mail, logger); m != nil {
		ext.mailer = m
	} else {
		logger.Warn().Msg("mail is not configured, emails will be skipped")
	}

	cal, err := google.NewCalendarClient(ctx, cfg.Google, cfg.Location(), logger)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("google calendar init failed, continuing without calendar")
	case cal != nil:
		ext.calendar = cal
		logger.Info().Str("auth_mode", cal.Mode()).Msg("google calendar connected")
	}

	ledger, err := google.NewLedgerService(ctx, cfg.Google, logger)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger")
	case ledger != nil:
		if err := prepareLedger(ctx, ledger); err != nil {
			logger.Warn().Err(err).Msg("google sheets ledger unavailable, continuing without ledger")
		} else {
			ext.ledger = ledger
			logger.Info().Msg("google sheets ledger connected")
		}
	}

	tg, err := alert.Connect(cfg.Telegram)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
	case tg != nil:
		ext.telegram = tg
		ext.alerter = alert.New(tg, cfg.Telegram.ChatIDs, logger)
	}

	return ext
}

func prepareLedger(ctx context.Context, ledger *google.LedgerService) error {
	if err := ledger.TestConnection(ctx); err != nil {
		return err
	}
	if err := ledger.EnsureHeader(ctx); err != nil {
		return err
	}
	return ledger.WarmUpCache(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// Command server runs the letter workflow HTTP API together with the SLA
// monitor.
//
// @title       Letter Workflow API
// @version     1.0
// @description Incoming letter lifecycle: classification, drafting, multi-department approval, reservations and SLA tracking.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-letter-workflow/internal/clock"
	"github.com/tbourn/go-letter-workflow/internal/config"
	httpapi "github.com/tbourn/go-letter-workflow/internal/http"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/observability"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/sysutil"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log.Logger = sysutil.NewLogger(os.Stderr, sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	dbLog := log.Logger
	db, err := repo.Open(repo.Options{
		Driver:       cfg.DB.Driver,
		Path:         cfg.DB.Path,
		URL:          cfg.DB.URL,
		Tracing:      cfg.OTEL.Enabled,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		Log:          &dbLog,
		SlowQuery:    cfg.DB.SlowQuery,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")

	policy, err := workflow.LoadPolicy(cfg.Workflow.RoutingPolicyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load routing policy")
	}

	// Events always go to the log; Kafka is added when brokers are configured.
	notifiers := notify.Multi{notify.LogNotifier{Log: log.With().Str("component", "notify").Logger()}}
	// Replies are only logged unless a broker carries them to the mail relay.
	var dispatcher notify.Dispatcher = notify.LogNotifier{Log: log.With().Str("component", "dispatch").Logger()}
	var kafkaWriters []*notify.KafkaNotifier
	if brokers := notify.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		events := notify.NewKafkaNotifier(brokers, cfg.Kafka.Topic)
		replies := notify.NewKafkaNotifier(brokers, cfg.Kafka.ReplyTopic)
		notifiers = append(notifiers, events)
		dispatcher = replies
		kafkaWriters = append(kafkaWriters, events, replies)
		log.Info().Strs("brokers", brokers).
			Str("topic", cfg.Kafka.Topic).
			Str("reply_topic", cfg.Kafka.ReplyTopic).
			Msg("kafka notifier enabled")
	}

	engine := services.NewEngine(db, clock.Real(), notifiers, log.With().Str("component", "workflow").Logger())
	engine.Dispatcher = dispatcher

	monitor := services.NewSLAMonitor(engine, cfg.Workflow.SLAWarningFraction, cfg.Workflow.SLAPollInterval)
	monitor.ReservationTTL = cfg.Workflow.ReservationTTL
	monitor.Reservations = services.NewReservationService(engine)
	monitor.Idempotency = services.NewIdempotencyService(db, engine.Clock, cfg.IdempotencyTTL)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, engine, policy, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("api", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	<-monitorDone
	for _, w := range kafkaWriters {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka writer close")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("stopped")
}

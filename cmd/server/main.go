// Command server runs the reservation queue backend: the chat-platform
// webhook, the operator API, and the background retention janitor.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-queue-backend/internal/config"
	httpapi "github.com/tbourn/go-queue-backend/internal/http"
	"github.com/tbourn/go-queue-backend/internal/jobs"
	"github.com/tbourn/go-queue-backend/internal/messaging"
	"github.com/tbourn/go-queue-backend/internal/observability"
	"github.com/tbourn/go-queue-backend/internal/repo"
	"github.com/tbourn/go-queue-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// @title       Queue Backend API
// @version     1.0
// @description Walk-up reservation queue mediated through a chat bot, with an operator API for calling and finishing tickets.
// @BasePath    /
func main() {
	sysutil.LoadDotenv()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so everything below is instrumented.
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin failed")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Outbound messaging. Without a channel token the service still accepts
	// commands; it just cannot reply or push.
	var msg httpapi.Messaging
	if cfg.Messaging.ChannelToken != "" {
		var opts []messaging.Option
		if cfg.Messaging.APIBase != "" {
			opts = append(opts, messaging.WithBaseURL(cfg.Messaging.APIBase))
		}
		client := messaging.NewClient(cfg.Messaging.ChannelToken, opts...)
		msg = httpapi.Messaging{Pusher: client, Replier: client}
	} else {
		log.Warn().Msg("no channel token configured, outbound messaging disabled")
	}

	// HTTP
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, msg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Retention janitor
	janitor := jobs.NewJanitor(db, cfg.LogRetention, cfg.JanitorInterval)
	go janitor.Run(ctx)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

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
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/database"
	"github.com/ksred/brokerlink-api/internal/scheduler"
	"github.com/ksred/brokerlink-api/internal/server"
)

// setupLogging configures pretty printing outside production and the global
// level from LOG_LEVEL. DEBUG=true still forces debug logging.
func setupLogging(cfg *config.Config) {
	if cfg.Env != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the API server and its background jobs with graceful shutdown
func main() {
	cfg := config.MustLoad()
	setupLogging(cfg)

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	app := server.New(cfg, db)

	jobs, err := scheduler.New()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	if err := app.RegisterJobs(jobs); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to register background jobs")
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobs.Stop(); err != nil {
		zlog.Error().Err(err).Msg("Scheduler did not stop cleanly")
	}

	zlog.Info().Msg("Server exiting")
}

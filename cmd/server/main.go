// Command server runs the purchases HTTP API.
//
//	@title			Purchases API
//	@version		1.0
//	@description	CRUD endpoints over confirmed purchases.
//	@BasePath		/api/v1
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

	"github.com/tbourn/go-purchases-api/internal/config"
	httpapi "github.com/tbourn/go-purchases-api/internal/http"
	"github.com/tbourn/go-purchases-api/internal/observability"
	"github.com/tbourn/go-purchases-api/internal/repo"
	"github.com/tbourn/go-purchases-api/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.SetupLogger(os.Stdout, sysutil.LoggerOptions{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		App:     cfg.AppName,
		Env:     cfg.AppEnv,
		Version: appVersion,
	})
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownOTel, err := observability.SetupOTel(startupCtx, cfg.OTEL, appVersion, cfg.AppEnv)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.Store.DSN).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing not enabled")
		}
	}

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db, cfg)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", cfg.Store.Driver).
			Bool("mutations", cfg.Store.Mutations).
			Msg("http server listening")
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	case <-stopCtx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

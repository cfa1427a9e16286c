package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/duressvault/internal/api"
	"github.com/org/duressvault/internal/duress"
	"github.com/org/duressvault/internal/events"
	"github.com/org/duressvault/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr       string `yaml:"listen_addr"`
	TLSCertFile      string `yaml:"tls_cert"`
	TLSKeyFile       string `yaml:"tls_key"`
	DBUrl            string `yaml:"db_url"`
	DevMode          bool   `yaml:"dev_mode"`
	MigrationsDir    string `yaml:"migrations_dir"`
	LogLevel         string `yaml:"log_level"`
	NATSURL          string `yaml:"nats_url"`
	EventSubject     string `yaml:"event_subject"`
	SweepBuffer      uint64 `yaml:"sweep_buffer"`
	ProtectedMinimum uint64 `yaml:"protected_minimum"`
	RateLimit        int    `yaml:"rate_limit"`
	RateBurst        int    `yaml:"rate_burst"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("DURESS_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8400",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("DURESS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	// Storage: in-memory in dev mode, Postgres otherwise
	var store storage.Backend
	if cfg.DevMode {
		log.Warn().Msg("dev mode: using in-memory storage, all state is lost on exit")
		store = storage.NewMemoryBackend()
	} else {
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg

		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}
	defer store.Close()

	// Event publisher: NATS if configured, otherwise a no-op
	var pub events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.EventSubject, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		pub = np
	}
	defer pub.Close()

	srv := api.NewServer(store, pub, duress.Options{
		SweepBuffer:      cfg.SweepBuffer,
		ProtectedMinimum: cfg.ProtectedMinimum,
		Logger:           log.Logger,
	}, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		DevMode:     cfg.DevMode,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

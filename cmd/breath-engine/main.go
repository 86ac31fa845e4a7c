package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	breathengine "github.com/serena-health/breath-engine"
	"github.com/serena-health/breath-engine/internal/api"
	"github.com/serena-health/breath-engine/internal/config"
	"github.com/serena-health/breath-engine/internal/database"
	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/feedback"
	"github.com/serena-health/breath-engine/internal/paramset"
	"github.com/serena-health/breath-engine/internal/pipeline"
	"github.com/serena-health/breath-engine/internal/session"
	"github.com/serena-health/breath-engine/internal/store"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("breath-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, breathengine.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}

	st := store.New(db)

	paramLog := log.With().Str("component", "paramset").Logger()
	params := paramset.NewRegistry(st, paramLog)

	sessionLog := log.With().Str("component", "session").Logger()
	devices := session.NewRegistry(params, sessionLog)

	bus := fanout.NewBus(log.With().Str("component", "fanout").Logger())

	feedbackLog := log.With().Str("component", "feedback").Logger()
	gen := feedback.NewGenerator(st.FeedbackRules, feedbackLog)

	pipelineLog := log.With().Str("component", "pipeline").Logger()
	proc := pipeline.NewProcessor(devices, gen, bus, st, st, pipelineLog)
	defer proc.Close()

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		DB:        db,
		Store:     st,
		Devices:   devices,
		Bus:       bus,
		Pipeline:  proc,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("breath-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("breath-engine stopped")
}

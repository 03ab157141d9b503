package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yhlam/guildcore/internal/adapters/discord"
	"github.com/yhlam/guildcore/internal/adapters/repository"
	app "github.com/yhlam/guildcore/internal/app"
	"github.com/yhlam/guildcore/internal/config"
	"github.com/yhlam/guildcore/internal/domain/points"
	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Error(ctx, "failed to open store", logger.Error(err))
		return
	}
	log.Info(ctx, "store ready", logger.String("path", cfg.StorePath))

	opts := []app.Option{
		app.WithInboxSize(cfg.InboxSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithCountdownInterval(cfg.CountdownInterval),
		app.WithMaxGiveawayDuration(cfg.MaxGiveawayDuration),
		app.WithPointsTable(points.New(
			points.WithSignupCredit(cfg.SignupCredit),
			points.WithRoleBonuses(cfg.RoleBonuses),
			points.WithRatingValues(cfg.RatingValues),
		)),
	}

	// The gateway is optional: without a token the core still runs, driven
	// by whatever feeds the inbox (tests, future transports).
	var gateway *discord.Gateway
	if cfg.DiscordToken != "" {
		gateway, err = discord.New(cfg.DiscordToken, cfg.CommandChannelID)
		if err != nil {
			log.Error(ctx, "failed to create discord gateway", logger.Error(err))
			return
		}
		opts = append(opts,
			app.WithPublisher(gateway),
			app.WithIdentity(gateway),
			app.WithReverter(gateway),
		)
	}

	svc := app.New(store, opts...)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer svc.Stop()

	if gateway != nil {
		gateway.Attach(svc)
		if err := gateway.Open(); err != nil {
			log.Error(ctx, "failed to open discord gateway", logger.Error(err))
			return
		}
		defer func() { _ = gateway.Close() }()
		log.Info(ctx, "discord gateway connected")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(svc.Stats())
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
}

// openStore selects SQLite when a path is configured, otherwise the
// in-memory store.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StorePath == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.OpenSQLite(cfg.StorePath)
}

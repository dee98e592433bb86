package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/config"
	"github.com/AdamBeresnev/op-tournament/internal/db"
	"github.com/AdamBeresnev/op-tournament/internal/middleware"
	"github.com/AdamBeresnev/op-tournament/internal/notify"
	"github.com/AdamBeresnev/op-tournament/internal/service"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mode, err := service.ParseAdmissionMode(cfg.AdmissionMode)
	if err != nil {
		return err
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, cfg.MigrationsPath); err != nil {
		return err
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.SessionLifetime
	sessionManager.Store = sqlite3store.New(database.DB)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTPEnabled() {
		notifier = notify.NewSMTPNotifier(cfg.SMTP)
	}
	dispatcher := notify.NewDispatcher(logger, cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.NotifyTimeout)

	tournamentStore := store.NewTournamentStore(database)
	queueStore := store.NewQueueStore(database)
	userStore := store.NewUserStore(database)

	roster := service.NewRosterService(database, queueStore, tournamentStore)
	matchNotifier := service.NewMatchNotifier(dispatcher, notifier, userStore, logger)

	app := &application{
		logger:      logger,
		db:          database,
		sessions:    sessionManager,
		auth:        middleware.NewAuth(cfg.JWTSecret, sessionManager),
		validate:    newValidator(),
		corsOrigins: cfg.CORSAllowedOrigins,
		tournaments: service.NewTournamentService(database, tournamentStore, roster, service.NewBracketGeneration(nil), matchNotifier, mode, logger),
		matches:     service.NewMatchService(database, tournamentStore, userStore, logger),
		roster:      roster,
		users:       service.NewUserService(userStore),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      newRouter(app),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", server.Addr, "admission_mode", mode, "smtp", cfg.SMTPEnabled())
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	// Let queued notifications go out before the database closes.
	if err := dispatcher.Close(); err != nil {
		logger.Error("notification dispatcher stopped with error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diegodamacenoo/banban-core/internal/analytics"
	"github.com/diegodamacenoo/banban-core/internal/auth"
	"github.com/diegodamacenoo/banban-core/internal/config"
	"github.com/diegodamacenoo/banban-core/internal/db"
	"github.com/diegodamacenoo/banban-core/internal/eca"
	"github.com/diegodamacenoo/banban-core/internal/repository"
	"github.com/diegodamacenoo/banban-core/internal/server"
	"github.com/diegodamacenoo/banban-core/internal/snapshot"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
	"github.com/diegodamacenoo/banban-core/internal/webhook"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(".")
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	if err := db.Migrate(cfg.DB.URL(), "up"); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	entityRepo := repository.NewEntityRepository(conn.Pool)
	relationshipRepo := repository.NewRelationshipRepository(conn.Pool)
	transactionRepo := repository.NewTransactionRepository(conn.Pool)
	snapshotRepo := repository.NewSnapshotRepository(conn.Pool)
	eventRepo := repository.NewEventRepository(conn.Pool)
	outcomeRepo := repository.NewOutcomeRepository(conn.Pool)

	registry := eca.NewRegistry()
	machine := statemachine.New(transactionRepo)
	updater := snapshot.NewUpdater(snapshotRepo)
	processor := eca.NewProcessor(registry, entityRepo, transactionRepo, relationshipRepo, eventRepo, machine, updater)
	engine := analytics.NewEngine(transactionRepo, relationshipRepo, entityRepo)

	var issuer *auth.KeyIssuer
	if cfg.Auth.SigningSecret != "" {
		issuer = auth.NewKeyIssuer(cfg.Auth.SigningSecret, cfg.Auth.Issuer)
	}
	webhookHandler := webhook.NewHandler(processor, outcomeRepo, issuer, cfg.Auth.WebhookSecret, cfg.Server.RequestTimeout, logger)

	srv := server.New(
		webhookHandler,
		registry,
		engine,
		transactionRepo,
		entityRepo,
		cfg.Auth.WebhookSecret,
		cfg.Server.AllowedOrigins,
		logger,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}
	logger.Info("server exited")
}

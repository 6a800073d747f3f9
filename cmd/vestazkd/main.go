package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/clients"
	"vestazk-backend/internal/config"
	"vestazk-backend/internal/db"
	"vestazk-backend/internal/events"
	"vestazk-backend/internal/handlers"
	"vestazk-backend/internal/repository"
	"vestazk-backend/internal/router"
	"vestazk-backend/internal/services"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	repo, err := buildRepository(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize commitment store")
	}

	gateway, err := clients.NewGatewayClient(cfg.Gateway.Endpoint)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to vault gateway")
	}
	defer gateway.Close()

	prover := clients.NewProverClient(cfg.Prover.BaseURL, cfg.ProverTimeout())

	var pub *events.Publisher
	if cfg.NATS.Enabled {
		pub, err = events.Connect(cfg.NATS.URL)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to NATS")
		}
		defer pub.Close()
	}

	depositSvc := services.NewDepositService(gateway, repo)
	actionSvc := services.NewActionService(gateway, prover, repo, pub, cfg)
	statsSvc := services.NewPoolStatsService(gateway, pub, cfg.StatsInterval())
	statsSvc.Start()
	defer statsSvc.Stop()

	engine := router.New(handlers.New(depositSvc, actionSvc, statsSvc))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("forced shutdown")
	}
}

// buildRepository selects the commitment store backend: Postgres when a
// DSN is configured, otherwise the per-owner file store.
func buildRepository(cfg *config.Config) (repository.CommitmentRepository, error) {
	if cfg.Database.DSN != "" {
		gdb, err := db.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		return repository.NewCommitmentRepository(gdb, nil), nil
	}
	dir := cfg.Database.Dir
	if dir == "" {
		dir = "data"
	}
	return repository.NewFileStore(dir, nil)
}

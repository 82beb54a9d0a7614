// Command server runs the flows backend: REST API, event ingestion and the
// run scheduler.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"vex-flows/backend/internal/api"
	"vex-flows/backend/internal/auth"
	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/config"
	"vex-flows/backend/internal/logging"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/internal/scheduler"
	"vex-flows/backend/internal/services"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "server",
		Short:        "Run the vex-flows backend service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg)
	log := logging.Component(logger, "server")
	log.WithField("environment", cfg.Environment).Info("starting vex-flows service")

	pool, err := initDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	if err := repository.InitSchema(ctx, pool); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	store := repository.NewPostgresStore(pool)
	dispatcher := channels.NewDispatcher(cfg, logger)

	retry := services.RetryPolicy{
		MaxAttempts:     cfg.Scheduler.MaxAttempts,
		InitialInterval: cfg.Scheduler.RetryInterval,
	}
	executor := services.NewExecutor(store, dispatcher, retry, cfg.Channels.Slack.WebhookURL, logger)
	events := services.NewEventService(store, executor, logger)

	authSvc, err := auth.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := api.NewServer(store, events, executor, dispatcher, cfg, logger)
	srv.Register(e, authSvc.Middleware())
	log.Info("REST API handlers mounted")

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(store, executor, scheduler.Config{
			Cron:        cfg.Scheduler.Cron,
			BatchSize:   cfg.Scheduler.BatchSize,
			TickTimeout: cfg.Scheduler.TickTimeout,
			StaleAfter:  cfg.Scheduler.StaleAfter,
		}, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, queued runs will not execute")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.WithField("address", addr).Info("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.WithField("signal", sig.String()).Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if sched != nil {
			if err := sched.Stop(shutdownCtx); err != nil {
				log.WithError(err).Error("scheduler stop failed")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server shutdown failed")
			if err := server.Close(); err != nil {
				log.WithError(err).Error("server close failed")
			}
		}
		log.Info("server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

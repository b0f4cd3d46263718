package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtrntr/stocksim/internal/api"
	"github.com/xtrntr/stocksim/internal/auth"
	"github.com/xtrntr/stocksim/internal/config"
	"github.com/xtrntr/stocksim/internal/db"
	"github.com/xtrntr/stocksim/internal/exchange"
	"github.com/xtrntr/stocksim/internal/memstore"
	"github.com/xtrntr/stocksim/internal/notify"
)

// store is everything the server needs from persistence; both the Postgres
// and the in-memory store provide it.
type store interface {
	api.Store
	auth.UserStore
	exchange.Store
}

// Main entry point: loads config, opens the store, and serves the API
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	mintTTL := flag.Duration("mint-service-token", 0, "print a service token valid for the given duration and exit")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if *mintTTL > 0 {
		token, err := auth.NewAuthService(nil, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).MintServiceToken(*mintTTL)
		if err != nil {
			logger.Error("failed to mint service token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on exit")
		st = memstore.New()
	default:
		database, err := db.NewDB(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer database.Close(context.Background())
		st = database
	}

	ex := exchange.NewExchange(st, exchange.Config{
		LoadTimeout:   cfg.Engine.LoadTimeout,
		SettleTimeout: cfg.Engine.SettleTimeout,
	}, logger.With(slog.String("component", "exchange")))

	authService := auth.NewAuthService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	hub := notify.NewHub(logger.With(slog.String("component", "hub")))
	publishers := notify.Multi{hub}
	if cfg.Kafka.Enabled() {
		producer, err := notify.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Error("failed to create kafka producer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		kafka := notify.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		defer kafka.Close()
		publishers = append(publishers, kafka)
		logger.Info("publishing matches to kafka", slog.String("topic", cfg.Kafka.Topic))
	}

	handler := api.NewHandler(st, ex, authService, publishers, logger)
	// The scheduler waits this long for a report; the server should too.
	handler.TriggerWriteTimeout = cfg.Scheduler.Timeout
	router := api.NewRouter(handler, hub, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Server.Addr), slog.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}

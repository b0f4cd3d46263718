package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtrntr/stocksim/internal/config"
	"github.com/xtrntr/stocksim/internal/scheduler"
)

// Calls the matching trigger on a fixed cadence until interrupted
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	once := flag.Bool("once", false, "trigger a single run and exit")
	flag.Parse()

	cfg, err := config.LoadScheduler(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	s := scheduler.New(scheduler.Config{
		URL:      cfg.Scheduler.URL,
		Token:    cfg.Auth.ServiceToken,
		Interval: cfg.Scheduler.Interval,
		Timeout:  cfg.Scheduler.Timeout,
	}, &http.Client{}, logger)

	if *once {
		report, err := s.Trigger(context.Background())
		if err != nil {
			logger.Error("matching trigger failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("matching trigger complete", slog.Int("matches", len(report.Matches)))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Scheduler.Timeout)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}
}

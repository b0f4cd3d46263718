// Package scheduler invokes the matching trigger on a fixed cadence.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xtrntr/stocksim/internal/models"
)

// Config holds scheduler configuration.
type Config struct {
	URL      string        // trigger endpoint
	Token    string        // service-role bearer token
	Interval time.Duration // time between runs (default: 5m)
	Timeout  time.Duration // per-request timeout (default: 60s)
}

// DefaultConfig returns the cadence used when none is configured.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  60 * time.Second,
	}
}

// Scheduler POSTs to the trigger endpoint every interval. A failed call is
// logged and the next attempt waits for the following tick.
type Scheduler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler. client may be nil.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, client: client, logger: logger}
}

// Start begins the trigger loop. The first run happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("scheduler started",
		slog.String("url", s.cfg.URL),
		slog.Duration("interval", s.cfg.Interval),
	)
}

// Stop cancels the loop and waits for an in-flight trigger, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	report, err := s.Trigger(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("matching trigger failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return
	}
	s.logger.Info("matching trigger complete",
		slog.Int("matches", len(report.Matches)),
		slog.Int("skipped", report.Skipped.Total()),
		slog.Duration("duration", time.Since(start)),
	)
}

// Trigger makes one call to the trigger endpoint and decodes its report.
// Any non-2xx status is an error.
func (s *Scheduler) Trigger(ctx context.Context) (models.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, nil)
	if err != nil {
		return models.Report{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Report{}, fmt.Errorf("post trigger: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Report{}, fmt.Errorf("read response: %w", err)
	}

	var report models.Report
	decodeErr := json.Unmarshal(body, &report)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := report.Error
		if decodeErr != nil || msg == "" {
			msg = string(body)
		}
		return report, fmt.Errorf("trigger returned %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return models.Report{}, fmt.Errorf("decode report: %w", decodeErr)
	}
	return report, nil
}

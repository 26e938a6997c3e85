// Package hygiene expires records past their TTL and trims the
// persisted event log and dead-letter queue.
package hygiene

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// Config tunes the sweeper.
type Config struct {
	// Schedule is either a cron expression or empty; when empty the
	// sweeper runs every Interval.
	Schedule        string
	Interval        time.Duration
	BatchSize       int
	MaxDeletePerRun int
	BusRetention    time.Duration
	DLQRetention    time.Duration
}

// LoadConfigFromEnv reads the HYGIENE_* configuration surface.
func LoadConfigFromEnv() Config {
	return Config{
		Schedule:        os.Getenv("HYGIENE_SCHEDULE"),
		Interval:        time.Duration(getEnvInt("HYGIENE_INTERVAL_SECONDS", 300)) * time.Second,
		BatchSize:       getEnvInt("HYGIENE_BATCH_SIZE", 100),
		MaxDeletePerRun: getEnvInt("HYGIENE_MAX_DELETE_PER_RUN", 1000),
		BusRetention:    time.Duration(getEnvInt("HYGIENE_BUS_RETENTION_HOURS", 24)) * time.Hour,
		DLQRetention:    time.Duration(getEnvInt("HYGIENE_DLQ_RETENTION_HOURS", 24)) * time.Hour,
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Sweeper runs the TTL and retention sweeps on a cron schedule.
type Sweeper struct {
	store     *store.Store
	publisher *events.Publisher
	cfg       Config
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(st *store.Store, pub *events.Publisher, cfg Config) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxDeletePerRun <= 0 {
		cfg.MaxDeletePerRun = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Sweeper{
		store:     st,
		publisher: pub,
		cfg:       cfg,
		logger:    slog.Default().With("component", "hygiene"),
	}
}

// Start schedules the sweep. Returns an error only when the configured
// cron expression cannot be parsed.
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := s.cfg.Schedule
	if schedule == "" {
		schedule = fmt.Sprintf("@every %s", s.cfg.Interval)
	} else if !strings.HasPrefix(schedule, "@") && len(strings.Fields(schedule)) == 1 {
		// A bare duration string is accepted as shorthand.
		schedule = "@every " + schedule
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("hygiene sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid hygiene schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info("hygiene sweeper started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("hygiene sweeper stopped")
}

// RunOnce performs one full sweep and returns how many records were
// expired. Also trims bus_events and the DLQ by retention.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired := 0
	for expired < s.cfg.MaxDeletePerRun {
		batch := s.cfg.BatchSize
		if remaining := s.cfg.MaxDeletePerRun - expired; remaining < batch {
			batch = remaining
		}

		envelopes, err := s.store.PurgeExpired(ctx, batch)
		if err != nil {
			return expired, err
		}
		for _, env := range envelopes {
			if _, err := s.publisher.Publish(ctx, *env); err != nil {
				// The record is already gone; the event is best-effort.
				s.logger.Warn("failed to publish expiry event",
					"record_id", env.RecordID, "error", err)
			}
		}
		expired += len(envelopes)
		if len(envelopes) < batch {
			break
		}
	}

	if s.cfg.BusRetention > 0 {
		if n, err := s.store.SweepBusEvents(ctx, s.cfg.BusRetention); err != nil {
			s.logger.Error("bus event sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("swept bus events", "removed", n)
		}
	}
	if s.cfg.DLQRetention > 0 {
		if n, err := s.store.SweepDLQ(ctx, s.cfg.DLQRetention); err != nil {
			s.logger.Error("DLQ sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("swept DLQ", "removed", n)
		}
	}

	if expired > 0 {
		s.logger.Info("expired records purged", "count", expired)
	}
	return expired, nil
}

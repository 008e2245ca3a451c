package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/twweather/tempmap/internal/service"
)

// Refresher runs one dataset refresh. *service.TemperatureService satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, trigger string) (service.RefreshResult, error)
}

// Scheduler periodically refreshes the dataset in the background so the
// dashboard stays current without anyone pressing the refresh button.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. interval <= 0 disables scheduling; timeout
// bounds each refresh run.
func New(refresher Refresher, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled; refresh via POST /api/refresh only")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		result, err := s.refresher.Refresh(ctx, "scheduler")
		if err != nil {
			s.logger.Warn("scheduled refresh failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled refresh complete", zap.Int("rows", result.Rows), zap.Duration("duration", result.Duration))
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

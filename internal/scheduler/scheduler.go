package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Poller runs one fetch+normalize cycle.
type Poller interface {
	Poll(ctx context.Context) error
}

// Scheduler triggers poll cycles at a fixed interval. A failed cycle is
// logged and the next one still runs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	poller    Poller
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(poller Poller, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		poller:    poller,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the first cycle one interval from now and starts the
// underlying scheduler. Runs never overlap.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("polling scheduled", "interval", s.interval.String())
	return nil
}

func (s *Scheduler) run() {
	s.logger.Debug("scheduler: running poll job")

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if err := s.poller.Poll(ctx); err != nil {
		s.logger.Warn("scheduler: poll failed; will retry next interval", "error", err)
		return
	}
	s.logger.Debug("scheduler: completed poll job")
}

// Stop prevents further cycles. A cycle already in flight is left to finish.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

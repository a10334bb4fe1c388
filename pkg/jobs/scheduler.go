package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a unit of scheduled work
type Job interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}

// Scheduler runs jobs on cron expressions. Overlapping runs of the same job
// are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  logrus.FieldLogger
	timeout time.Duration
}

// NewScheduler creates a scheduler. Each run is bounded by timeout when positive.
func NewScheduler(logger logrus.FieldLogger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		timeout: timeout,
	}
}

// Add schedules job on spec (standard five-field cron or a descriptor like @daily)
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", job.Name(), err)
	}
	s.logger.WithFields(logrus.Fields{"job": job.Name(), "schedule": spec}).Info("Job scheduled")
	return nil
}

func (s *Scheduler) runJob(job Job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := job.Run(ctx); err != nil {
		s.logger.WithError(err).WithField("job", job.Name()).Error("Scheduled job failed")
	}
}

// Entries returns the number of scheduled jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

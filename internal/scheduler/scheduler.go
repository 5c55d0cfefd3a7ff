// Package scheduler runs the periodic background jobs of the API server.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Task is one run of a job. Errors are logged, never retried early.
type Task func(ctx context.Context) error

type Scheduler struct {
	scheduler gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// NewIntervalJob runs fn every interval. A run that overlaps the previous one
// is skipped.
func (s *Scheduler) NewIntervalJob(name string, fn Task, interval time.Duration, startImmediately bool) error {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if startImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(withRecover(name, fn)),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", name, err)
	}
	return nil
}

func withRecover(name string, fn Task) func(ctx context.Context) {
	return func(ctx context.Context) {
		logger := log.With().Str("job", name).Logger()

		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("stacktrace", string(debug.Stack())).
					Msg("panic recovered in scheduled job")
			}
		}()

		start := time.Now()
		logger.Debug().Msg("job start")

		if err := fn(ctx); err != nil {
			logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
			return
		}
		logger.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
	}
}

// Package schedule runs the daily cron jobs: dispatch, check-in invitations,
// and the admin report.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"
)

// job is one named cron entry.
type job struct {
	name string
	expr string
	run  func(ctx context.Context) error
}

// Scheduler evaluates cron expressions in a fixed timezone and runs each
// job's function at its ticks until the context is cancelled.
type Scheduler struct {
	location *time.Location
	jobs     []job
	log      *logger.Logger
	now      func() time.Time
}

// New creates a scheduler for the given IANA timezone name.
func New(timezone string, log *logger.Logger) (*Scheduler, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone '%s': %w", timezone, err)
	}

	return &Scheduler{
		location: location,
		log:      log,
		now:      time.Now,
	}, nil
}

// Add registers a job. The expression is validated up front so a bad config
// fails at startup, not at the first missed tick.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression '%s' for job '%s'", expr, name)
	}

	s.jobs = append(s.jobs, job{name: name, expr: expr, run: run})

	return nil
}

// Run blocks until the context is cancelled, firing each job at its ticks.
// A failing job run is logged and the schedule keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for _, entry := range s.jobs {
		group.Go(func() error {
			s.runJob(groupCtx, entry)

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("scheduler group failed: %w", err)
	}

	return nil
}

func (s *Scheduler) runJob(ctx context.Context, entry job) {
	for {
		next, err := gronx.NextTickAfter(entry.expr, s.now().In(s.location), false)
		if err != nil {
			s.log.Error("Failed to compute next tick for job '%s': %v", entry.name, err)

			return
		}

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}

		s.log.Info("Running scheduled job '%s'", entry.name)

		runErr := entry.run(ctx)
		if runErr != nil {
			s.log.Error("Scheduled job '%s' failed: %v", entry.name, runErr)
		}
	}
}

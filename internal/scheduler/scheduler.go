// Package scheduler triggers the todo generation cycle on a cron schedule
// inside the server process. Deployments that prefer an external trigger run
// cmd/generate instead and disable this with SCHEDULER_ENABLED=false.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tbourn/nightlife-crm/internal/services"
)

// Runner runs one generation cycle. *services.TodoGenerator satisfies it.
type Runner interface {
	RunCycle(ctx context.Context, now time.Time) (*services.CycleReport, error)
}

// Scheduler wraps a cron.Cron with a single generation job.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration
	entry   cron.EntryID
}

// New parses spec (standard 5-field cron) in loc and registers the job.
// Overlapping ticks are skipped; the distributed lock inside RunCycle covers
// other replicas.
func New(spec string, loc *time.Location, r Runner, lg zerolog.Logger, now func() time.Time, timeout time.Duration) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = func() time.Time { return time.Now().In(loc) }
	}
	cl := cronLogger{l: lg}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  r,
		log:     lg,
		now:     now,
		timeout: timeout,
	}
	id, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		_ = s.RunOnce(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("parse generation cron %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Time("next_run", s.Next()).Msg("generation scheduler started")
}

// Stop prevents new runs and waits for a running cycle or ctx, whichever
// finishes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is the next scheduled fire time (zero before Start).
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunOnce executes one cycle and logs the outcome per store. A cycle held by
// another process is not an error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	rep, err := s.runner.RunCycle(ctx, s.now())
	if errors.Is(err, services.ErrCycleInProgress) {
		s.log.Info().Msg("generation skipped: cycle already running")
		return nil
	}
	if rep != nil {
		for _, st := range rep.Stores {
			ev := s.log.Info()
			if st.Err != nil {
				ev = s.log.Error().Err(st.Err)
			}
			ev.Str("store_id", st.StoreID).
				Int("created", st.Created).
				Int("skipped", st.Skipped).
				Int("failed", st.Failed).
				Int("failed_rules", st.FailedRules).
				Msg("generation store result")
		}
		s.log.Info().
			Int("stores", len(rep.Stores)).
			Int("created", rep.Created).
			Int("failed_stores", rep.Failed).
			Dur("duration", rep.Duration).
			Msg("generation cycle finished")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("generation cycle failed")
		return err
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}

package decay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs decay four times a day
const DefaultSchedule = "@every 6h"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron expression or descriptor such as "@every 6h"
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid decay schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler triggers decay runs on a cron schedule. A tick that fires while
// the previous run is still executing is skipped, and a panicking run is
// recovered without stopping the schedule.
type Scheduler struct {
	runner   *Runner
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun RunReport
	lastErr error
}

// NewScheduler creates a scheduler for runner. timeout bounds each run; zero
// means no bound.
func NewScheduler(runner *Runner, schedule string, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With().Str("component", "decay-scheduler").Logger(),
	}, nil
}

// Start begins scheduling runs. It is a no-op if already started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("failed to schedule decay: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	c.Start()

	s.logger.Info().Str("schedule", s.schedule).Msg("Decay scheduler started")
	return nil
}

// Stop cancels any in-flight run and waits for it to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info().Msg("Decay scheduler stopped")
}

// RunNow triggers a run outside the schedule. It fails with
// ErrRunInProgress if a run is executing.
func (s *Scheduler) RunNow(ctx context.Context) (RunReport, error) {
	report, err := s.runner.Run(ctx)
	s.record(report, err)
	return report, err
}

// LastRun returns the report and error of the most recent run
func (s *Scheduler) LastRun() (RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Decay run panicked")
			s.record(RunReport{}, fmt.Errorf("decay run panicked: %v", r))
		}
	}()

	report, err := s.runner.Run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Info().Msg("Decay run already in progress, skipping tick")
		return
	}
	s.record(report, err)
}

func (s *Scheduler) record(report RunReport, err error) {
	if errors.Is(err, ErrRunInProgress) {
		return
	}
	s.mu.Lock()
	s.lastRun, s.lastErr = report, err
	s.mu.Unlock()
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

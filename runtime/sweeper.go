package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// QueueMaintainer is the part of the memory queue the sweeper drives.
type QueueMaintainer interface {
	Drain(ctx context.Context) (memory.DrainStats, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper periodically fails items abandoned in processing and drains
// pending items whose delayed trigger was lost, e.g. across a restart.
type Sweeper struct {
	queue      QueueMaintainer
	schedule   cron.Schedule
	spec       string
	staleAfter time.Duration
	cron       *cron.Cron
	logger     zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// NewSweeper creates a Sweeper that runs on spec (cron expression or duration).
func NewSweeper(queue QueueMaintainer, spec string, staleAfter time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "sweeper").Logger()
	cl := cronLogger{logger: logger}
	return &Sweeper{
		queue:      queue,
		schedule:   sched,
		spec:       spec,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		logger:     logger,
		ctx:        context.Background(),
	}, nil
}

// Start schedules the sweep. Jobs receive ctx; cancelling it stops the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(s.jobContext()) }))
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Dur("staleAfter", s.staleAfter).Msg("Sweeper started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

func (s *Sweeper) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep: stale items first, then pending ones.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.staleAfter > 0 {
		if _, err := s.queue.FailStale(ctx, s.staleAfter); err != nil {
			s.logger.Error().Err(err).Msg("Failed to sweep stale queue items")
		}
	}
	stats, err := s.queue.Drain(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep drain failed")
		return
	}
	if stats.Fetched > 0 {
		s.logger.Info().
			Int("fetched", stats.Fetched).
			Int("completed", stats.Completed).
			Int("failed", stats.Failed).
			Msg("Sweep drained orphaned items")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

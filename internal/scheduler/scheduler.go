// Package scheduler drives flow run execution. A cron-triggered tick claims
// a batch of pending runs from the store and executes them sequentially;
// claiming uses row locks so multiple service instances never pick up the
// same run twice.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/pkg/models"
)

// RunSource is the slice of the repository the scheduler polls.
type RunSource interface {
	ClaimRuns(ctx context.Context, limit int) ([]*models.FlowRun, error)
	RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunExecutor executes a claimed run to a terminal status.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.FlowRun)
}

// ErrAlreadyStarted is returned when Start is called on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

const (
	DefaultCron        = "* * * * *"
	DefaultBatchSize   = 5
	DefaultTickTimeout = 55 * time.Second
)

// Config controls the polling loop.
type Config struct {
	// Cron is a standard 5-field cron expression for the tick cadence.
	Cron string
	// BatchSize caps the number of runs claimed per tick.
	BatchSize int
	// TickTimeout bounds a whole tick, claim and execution included.
	TickTimeout time.Duration
	// StaleAfter requeues runs stuck in running longer than this before
	// each claim. Zero disables the reaper.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cron == "" {
		c.Cron = DefaultCron
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = DefaultTickTimeout
	}
	return c
}

// Scheduler is the process-wide polling loop handle. Construct it once with
// New and keep the reference; Start refuses to run twice.
type Scheduler struct {
	store    RunSource
	executor RunExecutor
	cfg      Config
	cron     *cron.Cron
	entry    cron.EntryID
	started  atomic.Bool
	log      *logrus.Entry
}

// New builds a scheduler without starting it.
func New(store RunSource, executor RunExecutor, cfg Config, logger *logrus.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:    store,
		executor: executor,
		cfg:      cfg,
		cron:     cron.New(),
		log: logger.WithFields(logrus.Fields{
			"component":    "scheduler",
			"scheduler_id": uuid.New().String(),
		}),
	}
}

// Start registers the tick job and begins polling. A second call returns
// ErrAlreadyStarted without side effects.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	entry, err := s.cron.AddFunc(s.cfg.Cron, s.tickJob)
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.entry = entry
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"cron":       s.cfg.Cron,
		"batch_size": s.cfg.BatchSize,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for an in-flight tick to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tickJob wraps Tick with the configured deadline and a panic guard so one
// bad run cannot kill the polling loop.
func (s *Scheduler) tickJob() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("tick panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()
	if err := s.Tick(ctx); err != nil {
		s.log.WithError(err).Error("tick failed")
	}
}

// Tick performs one polling pass: requeue stale runs when configured, claim
// a batch, execute each claimed run. Execution outcomes are settled on the
// run rows by the executor; Tick only fails on claim-side errors.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.cfg.StaleAfter > 0 {
		requeued, err := s.store.RequeueStaleRuns(ctx, s.cfg.StaleAfter)
		if err != nil {
			s.log.WithError(err).Warn("stale run requeue failed")
		} else if requeued > 0 {
			s.log.WithField("requeued", requeued).Info("requeued stale runs")
		}
	}

	runs, err := s.store.ClaimRuns(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	s.log.WithField("claimed", len(runs)).Debug("claimed runs")
	for _, run := range runs {
		s.executor.Execute(ctx, run)
	}
	return nil
}

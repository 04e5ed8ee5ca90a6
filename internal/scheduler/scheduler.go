package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/metrics"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/robfig/cron/v3"
)

const (
	SourceCron   = "cron"
	SourceManual = "manual"
	SourceStart  = "start"
)

// ErrRunInProgress is returned when a trigger arrives while a run holds the lock.
// The trigger is dropped, not queued.
var ErrRunInProgress = errors.New("a sync run is already in progress")

const leaseReleaseTimeout = 5 * time.Second

// Runner executes one full sync run.
type Runner interface {
	Execute(ctx context.Context) (*models.RunReport, error)
}

// TriggerResult is the outcome of an accepted trigger.
type TriggerResult struct {
	Source string
	Report *models.RunReport
}

type Config struct {
	CronSpec string
	Location *time.Location
}

type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	lease   Lease
	metrics *metrics.Metrics
	logger  *slog.Logger

	// single slot; holding it means a run is active in this process
	slot chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	lastReport *models.RunReport
}

// NewScheduler registers the run on cfg.CronSpec. lease may be nil when the
// service runs as a single replica.
func NewScheduler(runner Runner, cfg Config, lease Lease, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		lease:   lease,
		metrics: m,
		logger:  logger,
		slot:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.cron = cron.New(cron.WithLocation(location), cron.WithLogger(cronLogger{logger}))

	if _, err := s.cron.AddFunc(cfg.CronSpec, s.onSchedule); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron spec %q: %w", cfg.CronSpec, err)
	}
	return s, nil
}

func (s *Scheduler) onSchedule() {
	if _, err := s.Trigger(s.ctx, SourceCron); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.logger.Error("Scheduled sync run failed", "error", err)
	}
}

// Start begins firing the cron schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("Scheduler started", "next_run", entry.Next)
	}
}

// Stop halts the schedule and waits for an in-flight run. When ctx expires first,
// the run is cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	// The cron context only closes once a fired job returns, so it is waited on
	// together with the run instead of ahead of the deadline.
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Trigger runs the pipeline synchronously if no other run is active.
func (s *Scheduler) Trigger(ctx context.Context, source string) (TriggerResult, error) {
	release, err := s.acquire(ctx, source)
	if err != nil {
		return TriggerResult{}, err
	}
	defer release()

	return s.run(ctx, source)
}

// TriggerAsync takes the run lock and executes the run in the background on the
// scheduler's own context. It returns once the run has been accepted.
func (s *Scheduler) TriggerAsync(source string) error {
	release, err := s.acquire(s.ctx, source)
	if err != nil {
		return err
	}

	go func() {
		defer release()
		if _, err := s.run(s.ctx, source); err != nil {
			s.logger.Error("Sync run failed", "source", source, "error", err)
		}
	}()
	return nil
}

// Running reports whether a run currently holds the local slot.
func (s *Scheduler) Running() bool {
	return len(s.slot) == 1
}

// LastReport returns the report of the most recent finished run, or nil.
func (s *Scheduler) LastReport() *models.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

func (s *Scheduler) acquire(ctx context.Context, source string) (func(), error) {
	select {
	case s.slot <- struct{}{}:
	default:
		s.drop(source, "local")
		return nil, ErrRunInProgress
	}
	s.wg.Add(1)
	releaseSlot := func() {
		<-s.slot
		s.wg.Done()
	}

	if s.lease == nil {
		return releaseSlot, nil
	}

	ok, err := s.lease.Acquire(ctx)
	if err != nil {
		releaseSlot()
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		releaseSlot()
		s.drop(source, "lease")
		return nil, ErrRunInProgress
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
		defer cancel()
		if err := s.lease.Release(releaseCtx); err != nil {
			s.logger.Warn("Failed to release run lease, it will expire on its own", "error", err)
		}
		releaseSlot()
	}, nil
}

func (s *Scheduler) drop(source, holder string) {
	s.metrics.IncrementDroppedTrigger(source)
	s.logger.Warn("Trigger dropped, a sync run is already in progress", "source", source, "holder", holder)
}

func (s *Scheduler) run(ctx context.Context, source string) (TriggerResult, error) {
	s.logger.Info("Sync run triggered", "source", source)
	report, err := s.runner.Execute(ctx)
	if report != nil {
		s.mu.Lock()
		s.lastReport = report
		s.mu.Unlock()
	}
	return TriggerResult{Source: source, Report: report}, err
}

// cronLogger routes the cron library's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

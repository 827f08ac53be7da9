package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"psychometric/sessions/internal/metrics"
	"psychometric/sessions/internal/reconcile"
)

var (
	ErrRunInProgress  = errors.New("reconciliation already running")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

type Runner interface {
	Run(ctx context.Context, now time.Time) (reconcile.Report, error)
}

type ReportRecorder interface {
	SaveReport(ctx context.Context, report reconcile.Report) error
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
	Recorder ReportRecorder
	Metrics  *metrics.Metrics
}

// Scheduler drives a Runner on a fixed interval. A pass that is still running
// when the next tick fires causes that tick to be dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	recorder ReportRecorder
	metrics  *metrics.Metrics

	running  atomic.Bool
	inFlight sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner Runner, cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		now:      now,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
	}
}

// Start runs one pass right away, then one per interval until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.inFlight.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		if _, err := s.Trigger(ctx); errors.Is(err, ErrRunInProgress) {
			log.Printf("session reconcile tick skipped: previous pass still running")
		}
	}()
}

// Trigger runs a pass now unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context) (reconcile.Report, error) {
	return s.run(ctx, s.now)
}

// TriggerAt runs a pass against a caller-supplied instant through the same
// single-flight gate as scheduled passes.
func (s *Scheduler) TriggerAt(ctx context.Context, at time.Time) (reconcile.Report, error) {
	return s.run(ctx, func() time.Time { return at })
}

func (s *Scheduler) run(ctx context.Context, clock func() time.Time) (reconcile.Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.PassFinished("skipped", 0)
		return reconcile.Report{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	now := clock().UTC()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.runner.Run(runCtx, now)
	if err != nil {
		log.Printf("ALERT session reconcile pass failed: %v", err)
		return report, err
	}
	if report.Transitions() > 0 || len(report.Errors) > 0 {
		log.Printf("session reconcile pass: scanned=%d promoted=%d completed=%d expired=%d skipped=%d errors=%d",
			report.Scanned, report.Promoted, report.Completed, report.Expired, report.Skipped, len(report.Errors))
	}
	if s.recorder != nil {
		if err := s.recorder.SaveReport(runCtx, report); err != nil {
			log.Printf("session reconcile report save failed: %v", err)
		}
	}
	return report, nil
}

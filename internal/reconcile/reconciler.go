package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"psychometric/sessions/internal/metrics"
	"psychometric/sessions/internal/session"
)

// Repository is the slice of the session store the reconciler needs.
type Repository interface {
	// FindCandidatesForReconciliation returns auto-expiring sessions that are
	// draft with a due start, or active with a due end.
	FindCandidatesForReconciliation(ctx context.Context, now time.Time) ([]session.Session, error)
	// ConditionalUpdateStatus sets next only while the stored status is still
	// expected, and reports whether the write was applied.
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next session.Status) (bool, error)
}

type AttemptCounter interface {
	HasAnyAttempt(ctx context.Context, sessionID string) (bool, error)
}

const DefaultAttemptTimeout = 5 * time.Second

type Config struct {
	AttemptTimeout time.Duration
	Metrics        *metrics.Metrics
}

type Reconciler struct {
	repo           Repository
	attempts       AttemptCounter
	attemptTimeout time.Duration
	metrics        *metrics.Metrics
}

func New(repo Repository, attempts AttemptCounter, cfg Config) *Reconciler {
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Reconciler{
		repo:           repo,
		attempts:       attempts,
		attemptTimeout: timeout,
		metrics:        cfg.Metrics,
	}
}

// Run performs one reconciliation pass against now. Per-session failures land in
// the report; the returned error is reserved for failures that stop the pass.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (Report, error) {
	started := time.Now()
	report := Report{Now: now}

	candidates, err := r.repo.FindCandidatesForReconciliation(ctx, now)
	if err != nil {
		r.metrics.PassFinished("failed", time.Since(started))
		return report, fmt.Errorf("list reconciliation candidates: %w: %w", session.ErrTransientStore, err)
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			r.metrics.PassFinished("failed", report.Duration)
			return report, fmt.Errorf("reconcile pass interrupted after %d sessions: %w", report.Scanned, err)
		}
		report.Scanned++
		if err := r.reconcileOne(ctx, candidate, now, &report); err != nil {
			report.Errors = append(report.Errors, ItemError{
				SessionID: candidate.ID,
				From:      candidate.Status,
				Message:   err.Error(),
				Err:       err,
			})
			r.metrics.ItemFailed()
			log.Printf("session reconcile %s: %v", candidate.ID, err)
		}
	}

	report.Duration = time.Since(started)
	r.metrics.PassFinished("ok", report.Duration)
	return report, nil
}

// reconcileOne walks a session forward until no transition is due, so a draft
// session whose whole window has passed settles in a single pass.
func (r *Reconciler) reconcileOne(ctx context.Context, s session.Session, now time.Time, report *Report) error {
	current := s
	for current.AutoExpire && !current.Status.Terminal() {
		attempted := false
		if session.AwaitsAttemptCheck(current, now) {
			var err error
			attempted, err = r.hasAnyAttempt(ctx, current.ID)
			if err != nil {
				return err
			}
		}
		next, due := session.NextStatus(current, now, attempted)
		if !due {
			return nil
		}
		applied, err := r.repo.ConditionalUpdateStatus(ctx, current.ID, current.Status, next)
		if err != nil {
			return fmt.Errorf("%s -> %s: %w: %w", current.Status, next, session.ErrTransientStore, err)
		}
		if !applied {
			report.Skipped++
			return nil
		}
		report.record(next)
		r.metrics.Transition(next)
		log.Printf("session %s status %s -> %s", current.ID, current.Status, next)
		current.Status = next
	}
	return nil
}

func (r *Reconciler) hasAnyAttempt(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()
	attempted, err := r.attempts.HasAnyAttempt(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("attempt lookup: %w: %w", session.ErrDependencyUnavailable, err)
	}
	return attempted, nil
}

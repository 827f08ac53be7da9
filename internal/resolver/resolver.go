package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"psychometric/sessions/internal/metrics"
	"psychometric/sessions/internal/session"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (session.Session, error)
	GetByCode(ctx context.Context, code string) (session.Session, []session.ModuleView, error)
}

// Resolution is what a participant sees after entering a session code.
type Resolution struct {
	Session session.Session
	Modules []session.ModuleView
	Access  session.AccessResult
}

type Resolver struct {
	repo      Repository
	evaluator session.Evaluator
	metrics   *metrics.Metrics
}

func New(repo Repository, evaluator session.Evaluator, m *metrics.Metrics) *Resolver {
	return &Resolver{repo: repo, evaluator: evaluator, metrics: m}
}

func (r *Resolver) EvaluateAccess(ctx context.Context, sessionID string, now time.Time) (session.AccessResult, error) {
	s, err := r.repo.GetByID(ctx, sessionID)
	if err != nil {
		return session.AccessResult{}, err
	}
	return r.evaluate(s, now), nil
}

// ResolveByCode loads a session by join code and evaluates access. Modules come
// back in ascending sequence whatever order the store returned them in.
func (r *Resolver) ResolveByCode(ctx context.Context, code string, now time.Time) (Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Resolution{}, session.ErrNotFound
	}
	s, modules, err := r.repo.GetByCode(ctx, code)
	if err != nil {
		return Resolution{}, err
	}
	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Sequence < modules[j].Sequence
	})
	return Resolution{
		Session: s,
		Modules: modules,
		Access:  r.evaluate(s, now),
	}, nil
}

func (r *Resolver) evaluate(s session.Session, now time.Time) session.AccessResult {
	result := r.evaluator.Evaluate(s, now)
	r.metrics.AccessEvaluated(result.Outcome)
	return result
}

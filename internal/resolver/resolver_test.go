package resolver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"psychometric/sessions/internal/metrics"
	"psychometric/sessions/internal/session"
)

type memoryRepo struct {
	sessions map[string]session.Session
	modules  map[string][]session.ModuleView
	err      error
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (session.Session, error) {
	if m.err != nil {
		return session.Session{}, m.err
	}
	for _, s := range m.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return session.Session{}, session.ErrNotFound
}

func (m *memoryRepo) GetByCode(_ context.Context, code string) (session.Session, []session.ModuleView, error) {
	if m.err != nil {
		return session.Session{}, nil, m.err
	}
	s, ok := m.sessions[code]
	if !ok {
		return session.Session{}, nil, session.ErrNotFound
	}
	return s, append([]session.ModuleView(nil), m.modules[code]...), nil
}

var base = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func newRepo() *memoryRepo {
	return &memoryRepo{
		sessions: map[string]session.Session{
			"OPEN": {ID: "s-open", Code: "OPEN", Status: session.StatusActive, StartTime: base, EndTime: base.Add(time.Hour)},
			"GONE": {ID: "s-gone", Code: "GONE", Status: session.StatusCancelled, StartTime: base, EndTime: base.Add(time.Hour)},
		},
		modules: map[string][]session.ModuleView{
			"OPEN": {
				{Module: session.Module{TestID: "t-verbal", Sequence: 2}, Name: "Verbal"},
				{Module: session.Module{TestID: "t-numeric", Sequence: 1}, Name: "Numeric"},
			},
		},
	}
}

func TestResolveByCodeOrdersModules(t *testing.T) {
	r := New(newRepo(), session.Evaluator{}, nil)

	res, err := r.ResolveByCode(context.Background(), " OPEN ", base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if len(res.Modules) != 2 || res.Modules[0].Sequence != 1 || res.Modules[1].Sequence != 2 {
		t.Fatalf("expected modules in sequence order, got %+v", res.Modules)
	}
	if !res.Access.Accessible || res.Access.ResponseCode != http.StatusOK {
		t.Fatalf("expected accessible session, got %+v", res.Access)
	}
}

func TestResolveByCodeCancelled(t *testing.T) {
	r := New(newRepo(), session.Evaluator{}, nil)

	res, err := r.ResolveByCode(context.Background(), "GONE", base)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if res.Access.Accessible || res.Access.ResponseCode != http.StatusGone || res.Access.Outcome != session.OutcomeCancelled {
		t.Fatalf("expected cancelled session to be gone, got %+v", res.Access)
	}
}

func TestResolverNotFound(t *testing.T) {
	r := New(newRepo(), session.Evaluator{}, nil)
	ctx := context.Background()

	for _, code := range []string{"MISSING", "", "   "} {
		if _, err := r.ResolveByCode(ctx, code, base); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("code %q: expected ErrNotFound, got %v", code, err)
		}
	}
	if _, err := r.EvaluateAccess(ctx, "s-missing", base); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolverPropagatesStoreErrors(t *testing.T) {
	repo := newRepo()
	repo.err = session.ErrTransientStore
	r := New(repo, session.Evaluator{}, nil)

	if _, err := r.EvaluateAccess(context.Background(), "s-open", base); !errors.Is(err, session.ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
}

func TestEvaluateAccessCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(newRepo(), session.Evaluator{}, metrics.New(reg))
	ctx := context.Background()

	res, err := r.EvaluateAccess(ctx, "s-open", base.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if res.Outcome != session.OutcomeTooEarly || res.StartsInMinutes != 10 {
		t.Fatalf("expected too early by 10 minutes, got %+v", res)
	}
	if _, err := r.EvaluateAccess(ctx, "s-gone", base); err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	count, err := testutil.GatherAndCount(reg, "test_sessions_access_evaluations_total")
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected a series per outcome, got %d", count)
	}
}

package reconcile

import (
	"time"

	"psychometric/sessions/internal/session"
)

type Report struct {
	Now       time.Time     `json:"now"`
	Scanned   int           `json:"scanned"`
	Promoted  int           `json:"promoted"`
	Completed int           `json:"completed"`
	Expired   int           `json:"expired"`
	Skipped   int           `json:"skipped"`
	Errors    []ItemError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

type ItemError struct {
	SessionID string         `json:"session_id"`
	From      session.Status `json:"from"`
	Message   string         `json:"error"`
	Err       error          `json:"-"`
}

// Transitions counts the status writes applied during the pass.
func (r Report) Transitions() int {
	return r.Promoted + r.Completed + r.Expired
}

func (r *Report) record(to session.Status) {
	switch to {
	case session.StatusActive:
		r.Promoted++
	case session.StatusCompleted:
		r.Completed++
	case session.StatusExpired:
		r.Expired++
	}
}

package session

import (
	"fmt"
	"net/http"
	"time"
)

// Outcome discriminates why a session is or is not accessible.
type Outcome string

const (
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeDraft       Outcome = "draft"
	OutcomeExpired     Outcome = "expired"
	OutcomeTooEarly    Outcome = "too_early"
	OutcomeOpen        Outcome = "open"
	OutcomeLateEntry   Outcome = "late_entry"
	OutcomeClosed      Outcome = "closed"
	OutcomeUnavailable Outcome = "unavailable"
)

// AccessResult tells a participant whether they may enter a session right now.
// ResponseCode carries the HTTP framing the join flow uses; Outcome carries the
// same decision for callers that do not speak HTTP.
type AccessResult struct {
	IsActive             bool    `json:"is_active"`
	IsExpired            bool    `json:"is_expired"`
	TimeRemainingMinutes int     `json:"time_remaining_minutes"`
	StartsInMinutes      int     `json:"starts_in_minutes"`
	Accessible           bool    `json:"accessible"`
	Message              string  `json:"message"`
	ResponseCode         int     `json:"response_code"`
	Outcome              Outcome `json:"outcome"`
}

// DefaultEntryGrace is how long after start a participant still counts as on time.
const DefaultEntryGrace = 15 * time.Minute

// Evaluator computes access results. It performs no I/O.
//
// EntryGrace bounds the on-time window after StartTime; past it only sessions
// allowing late entry accept participants. A zero or negative grace keeps the
// on-time window open until EndTime.
type Evaluator struct {
	EntryGrace time.Duration
}

// IsExpired reports whether s is expired at now, either by status or because an
// active session outlived its window.
func IsExpired(s Session, now time.Time) bool {
	return s.Status == StatusExpired || (s.Status == StatusActive && now.After(s.EndTime))
}

func (e Evaluator) Evaluate(s Session, now time.Time) AccessResult {
	res := AccessResult{TimeRemainingMinutes: minutesUntil(s.EndTime, now)}

	switch {
	case s.Status == StatusCancelled:
		return res.deny(OutcomeCancelled, "session cancelled", http.StatusGone)
	case s.Status == StatusDraft:
		return res.deny(OutcomeDraft, "not yet active, check back later", http.StatusOK)
	case IsExpired(s, now):
		res.IsExpired = true
		return res.deny(OutcomeExpired, "session has expired", http.StatusGone)
	case s.Status != StatusActive:
		return res.deny(OutcomeUnavailable, "not currently available", http.StatusOK)
	case now.Before(s.StartTime):
		res.StartsInMinutes = ceilMinutes(s.StartTime.Sub(now))
		return res.deny(OutcomeTooEarly, "session will start in "+formatMinutes(res.StartsInMinutes), http.StatusTooEarly)
	}

	res.IsActive = true
	remaining := formatMinutes(res.TimeRemainingMinutes)
	if !now.After(e.onTimeClose(s)) {
		return res.allow(OutcomeOpen, fmt.Sprintf("session is open, %s remaining", remaining))
	}
	if s.AllowLateEntry && s.EndTime.Sub(now) > 0 {
		return res.allow(OutcomeLateEntry, fmt.Sprintf("late entry allowed, %s remaining", remaining))
	}
	return res.deny(OutcomeClosed, "no longer accepting participants", http.StatusForbidden)
}

func (e Evaluator) onTimeClose(s Session) time.Time {
	if e.EntryGrace <= 0 {
		return s.EndTime
	}
	closing := s.StartTime.Add(e.EntryGrace)
	if closing.After(s.EndTime) {
		return s.EndTime
	}
	return closing
}

func (r AccessResult) allow(outcome Outcome, message string) AccessResult {
	r.Accessible = true
	r.Outcome = outcome
	r.Message = message
	r.ResponseCode = http.StatusOK
	return r
}

func (r AccessResult) deny(outcome Outcome, message string, code int) AccessResult {
	r.Accessible = false
	r.Outcome = outcome
	r.Message = message
	r.ResponseCode = code
	return r
}

func minutesUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func formatMinutes(total int) string {
	if total <= 0 {
		return "less than a minute"
	}
	hours, minutes := total/60, total%60
	switch {
	case hours == 0:
		return plural(minutes, "minute")
	case minutes == 0:
		return plural(hours, "hour")
	default:
		return plural(hours, "hour") + " " + plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

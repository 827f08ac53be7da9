package session

import (
	"net/http"
	"testing"
	"time"
)

var (
	windowStart = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(2 * time.Hour)
)

func activeSession() Session {
	return Session{
		ID:         "11111111-1111-1111-1111-111111111111",
		Code:       "ABC123",
		StartTime:  windowStart,
		EndTime:    windowEnd,
		Status:     StatusActive,
		AutoExpire: true,
	}
}

func TestEvaluateRules(t *testing.T) {
	evaluator := Evaluator{EntryGrace: 15 * time.Minute}

	cases := []struct {
		name       string
		status     Status
		lateEntry  bool
		now        time.Time
		accessible bool
		outcome    Outcome
		code       int
		message    string
	}{
		{"cancelled", StatusCancelled, false, windowStart.Add(time.Minute), false, OutcomeCancelled, http.StatusGone, "session cancelled"},
		{"cancelled before start", StatusCancelled, true, windowStart.Add(-time.Hour), false, OutcomeCancelled, http.StatusGone, "session cancelled"},
		{"draft", StatusDraft, false, windowStart.Add(time.Minute), false, OutcomeDraft, http.StatusOK, "not yet active, check back later"},
		{"expired status", StatusExpired, false, windowStart.Add(time.Minute), false, OutcomeExpired, http.StatusGone, "session has expired"},
		{"active past end", StatusActive, true, windowEnd.Add(time.Second), false, OutcomeExpired, http.StatusGone, "session has expired"},
		{"too early", StatusActive, false, windowStart.Add(-90 * time.Minute), false, OutcomeTooEarly, http.StatusTooEarly, "session will start in 1 hour 30 minutes"},
		{"too early seconds", StatusActive, false, windowStart.Add(-30 * time.Second), false, OutcomeTooEarly, http.StatusTooEarly, "session will start in 1 minute"},
		{"open at start", StatusActive, false, windowStart, true, OutcomeOpen, http.StatusOK, "session is open, 2 hours remaining"},
		{"open at grace edge", StatusActive, false, windowStart.Add(15 * time.Minute), true, OutcomeOpen, http.StatusOK, "session is open, 1 hour 45 minutes remaining"},
		{"late entry", StatusActive, true, windowStart.Add(100 * time.Minute), true, OutcomeLateEntry, http.StatusOK, "late entry allowed, 20 minutes remaining"},
		{"late entry refused", StatusActive, false, windowStart.Add(15*time.Minute + time.Second), false, OutcomeClosed, http.StatusForbidden, "no longer accepting participants"},
		{"completed", StatusCompleted, false, windowStart.Add(time.Minute), false, OutcomeUnavailable, http.StatusOK, "not currently available"},
		{"unknown status", Status("archived"), false, windowStart.Add(time.Minute), false, OutcomeUnavailable, http.StatusOK, "not currently available"},
	}

	for _, tc := range cases {
		s := activeSession()
		s.Status = tc.status
		s.AllowLateEntry = tc.lateEntry
		got := evaluator.Evaluate(s, tc.now)
		if got.Accessible != tc.accessible {
			t.Fatalf("%s: expected accessible=%v, got %v", tc.name, tc.accessible, got.Accessible)
		}
		if got.Outcome != tc.outcome {
			t.Fatalf("%s: expected outcome %s, got %s", tc.name, tc.outcome, got.Outcome)
		}
		if got.ResponseCode != tc.code {
			t.Fatalf("%s: expected code %d, got %d", tc.name, tc.code, got.ResponseCode)
		}
		if got.Message != tc.message {
			t.Fatalf("%s: expected message %q, got %q", tc.name, tc.message, got.Message)
		}
	}
}

func TestEvaluateBoundaries(t *testing.T) {
	evaluator := Evaluator{}
	s := activeSession()

	atStart := evaluator.Evaluate(s, windowStart)
	if !atStart.Accessible || !atStart.IsActive {
		t.Fatalf("expected session accessible at start, got %+v", atStart)
	}
	atEnd := evaluator.Evaluate(s, windowEnd)
	if !atEnd.Accessible || atEnd.IsExpired {
		t.Fatalf("expected session accessible at end, got %+v", atEnd)
	}
	afterEnd := evaluator.Evaluate(s, windowEnd.Add(time.Second))
	if afterEnd.Accessible || !afterEnd.IsExpired {
		t.Fatalf("expected session expired one second after end, got %+v", afterEnd)
	}
}

func TestEvaluateWithoutGraceKeepsWholeWindowOpen(t *testing.T) {
	s := activeSession()
	got := Evaluator{}.Evaluate(s, windowEnd.Add(-time.Minute))
	if !got.Accessible || got.Outcome != OutcomeOpen {
		t.Fatalf("expected open outcome without grace, got %+v", got)
	}
}

func TestEvaluateLateEntryPolicy(t *testing.T) {
	evaluator := Evaluator{EntryGrace: DefaultEntryGrace}
	s := activeSession()
	s.AllowLateEntry = true

	wideMargin := windowStart.Add(110 * time.Minute)
	if got := evaluator.Evaluate(s, wideMargin); !got.Accessible {
		t.Fatalf("expected late entry to be accessible, got %+v", got)
	}

	s.AllowLateEntry = false
	pastWindow := windowStart.Add(DefaultEntryGrace + time.Second)
	got := evaluator.Evaluate(s, pastWindow)
	if got.Accessible {
		t.Fatalf("expected strict session to refuse entry past on-time window, got %+v", got)
	}
	if !got.IsActive {
		t.Fatalf("expected session still reported active while refusing entry")
	}
}

func TestEvaluateLateEntryLastSeconds(t *testing.T) {
	s := activeSession()
	s.AllowLateEntry = true
	got := Evaluator{EntryGrace: time.Minute}.Evaluate(s, windowEnd.Add(-20*time.Second))
	if !got.Accessible || got.Outcome != OutcomeLateEntry {
		t.Fatalf("expected late entry in the final minute, got %+v", got)
	}
	if got.TimeRemainingMinutes != 0 {
		t.Fatalf("expected 0 minutes remaining, got %d", got.TimeRemainingMinutes)
	}
	if got.Message != "late entry allowed, less than a minute remaining" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestTimeRemainingNeverNegative(t *testing.T) {
	evaluator := Evaluator{EntryGrace: DefaultEntryGrace}
	statuses := []Status{StatusDraft, StatusActive, StatusExpired, StatusCompleted, StatusCancelled}
	for _, status := range statuses {
		s := activeSession()
		s.Status = status
		for offset := -5 * time.Hour; offset <= 5*time.Hour; offset += 7 * time.Minute {
			got := evaluator.Evaluate(s, windowStart.Add(offset))
			if got.TimeRemainingMinutes < 0 {
				t.Fatalf("status %s offset %s: negative remaining %d", status, offset, got.TimeRemainingMinutes)
			}
			if got.StartsInMinutes < 0 {
				t.Fatalf("status %s offset %s: negative countdown %d", status, offset, got.StartsInMinutes)
			}
		}
	}
}

func TestTimeRemainingFloorsMinutes(t *testing.T) {
	s := activeSession()
	got := Evaluator{}.Evaluate(s, windowEnd.Add(-(90*time.Second + time.Millisecond)))
	if got.TimeRemainingMinutes != 1 {
		t.Fatalf("expected floor to 1 minute, got %d", got.TimeRemainingMinutes)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	evaluator := Evaluator{EntryGrace: DefaultEntryGrace}
	s := activeSession()
	now := windowStart.Add(42 * time.Minute)
	first := evaluator.Evaluate(s, now)
	second := evaluator.Evaluate(s, now)
	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestFormatMinutes(t *testing.T) {
	cases := map[int]string{
		0:   "less than a minute",
		1:   "1 minute",
		45:  "45 minutes",
		60:  "1 hour",
		61:  "1 hour 1 minute",
		125: "2 hours 5 minutes",
		180: "3 hours",
	}
	for input, expected := range cases {
		if got := formatMinutes(input); got != expected {
			t.Fatalf("formatMinutes(%d) expected %q got %q", input, expected, got)
		}
	}
}

package session

import (
	"fmt"
	"time"
)

// Status describes where a test session is in its lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a stored status value.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusDraft, StatusActive, StatusExpired, StatusCompleted, StatusCancelled:
		return Status(value), nil
	default:
		return "", fmt.Errorf("unknown session status %q", value)
	}
}

// Terminal reports whether the reconciler may never move a session out of this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusExpired, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Session is a scheduled instance of one or more test modules bound to a time window.
type Session struct {
	ID                  string
	Code                string
	StartTime           time.Time
	EndTime             time.Time
	TargetPosition      string
	Description         string
	Location            string
	MaxParticipants     *int
	CurrentParticipants int
	Status              Status
	AllowLateEntry      bool
	// AutoExpire opts the session into reconciliation; when false an operator moves it by hand.
	AutoExpire bool
	ProctorID  string
	Modules    []Module
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  string
	UpdatedBy  string
}

// Module assigns a test to a session at a sequence position.
type Module struct {
	TestID     string
	Sequence   int
	IsRequired bool
	Weight     float64
}

// ModuleView is a module joined with the display metadata of its test.
type ModuleView struct {
	Module
	Name             string
	Category         string
	ModuleType       string
	TimeLimitMinutes int
	Icon             string
	Color            string
}

// ValidateWindow enforces end > start.
func ValidateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return ErrInvalidTimeWindow
	}
	return nil
}

// ValidateModules enforces unique sequences and unique tests within a session.
// Gaps in the sequence are tolerated.
func ValidateModules(modules []Module) error {
	sequences := make(map[int]struct{}, len(modules))
	tests := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if m.TestID == "" || m.Sequence < 1 {
			return fmt.Errorf("%w: module needs a test and a positive sequence", ErrInvalidModules)
		}
		if _, ok := sequences[m.Sequence]; ok {
			return fmt.Errorf("%w: duplicate sequence %d", ErrInvalidModules, m.Sequence)
		}
		if _, ok := tests[m.TestID]; ok {
			return fmt.Errorf("%w: duplicate test %s", ErrInvalidModules, m.TestID)
		}
		sequences[m.Sequence] = struct{}{}
		tests[m.TestID] = struct{}{}
	}
	return nil
}

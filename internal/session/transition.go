package session

import "time"

// AwaitsAttemptCheck reports whether the next transition of s at now depends on
// whether anyone attempted the session.
func AwaitsAttemptCheck(s Session, now time.Time) bool {
	return s.AutoExpire && s.Status == StatusActive && !now.Before(s.EndTime)
}

// NextStatus returns the status s moves to at now, or false when no time-driven
// transition is due. attempted is only consulted once the window has closed.
func NextStatus(s Session, now time.Time, attempted bool) (Status, bool) {
	if !s.AutoExpire {
		return "", false
	}
	switch s.Status {
	case StatusDraft:
		if !now.Before(s.StartTime) {
			return StatusActive, true
		}
	case StatusActive:
		if !now.Before(s.EndTime) {
			if attempted {
				return StatusCompleted, true
			}
			return StatusExpired, true
		}
	}
	return "", false
}

// TransitionAllowed reports whether the reconciler may move a session from one status to another.
func TransitionAllowed(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusActive
	case StatusActive:
		return to == StatusExpired || to == StatusCompleted
	default:
		return false
	}
}

// Rank orders statuses as draft < active < {expired, completed}. Cancelled sits
// outside the order and ranks below zero.
func Rank(s Status) int {
	switch s {
	case StatusDraft:
		return 0
	case StatusActive:
		return 1
	case StatusExpired, StatusCompleted:
		return 2
	default:
		return -1
	}
}

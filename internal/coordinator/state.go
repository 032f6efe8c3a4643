package coordinator

import "time"

// Status summarizes whether the coordinator is serving data
type Status string

const (
	// StatusOK means the last refresh succeeded
	StatusOK Status = "ok"
	// StatusStale means recent refreshes failed but the last snapshot is
	// still served
	StatusStale Status = "stale"
	// StatusUnavailable means no snapshot is served: nothing was read yet or
	// the failure threshold was reached
	StatusUnavailable Status = "unavailable"
	// StatusAuthFailed means the controller rejected the credentials.
	// Scheduled refreshes are paused until ResetAuth.
	StatusAuthFailed Status = "auth_failed"
)

// State is a point-in-time copy of the coordinator's bookkeeping
type State struct {
	Status              Status
	LastError           error
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastAttempt         time.Time
	LastDuration        time.Duration
	InFlight            bool
	RefreshOK           uint64
	RefreshFailed       uint64
}

// Serving reports whether a snapshot is available to readers
func (s State) Serving() bool {
	return s.Status == StatusOK || s.Status == StatusStale
}

// ErrorMessage returns the last error text, or "" when there is none
func (s State) ErrorMessage() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}

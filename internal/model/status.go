package model

// Backup job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Backup file verification status constants.
const (
	VerificationPending = "pending"
	VerificationOK      = "verified"
	VerificationFailed  = "failed"
	VerificationSkipped = "skipped"
)

// statusOrder fixes the iteration order of derived status lists.
var statusOrder = []string{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// transitions lists the legal status edges. Terminal statuses have no
// outgoing edges.
var transitions = map[string][]string{
	StatusPending: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses a job may move to status from.
func SourcesOf(status string) []string {
	var from []string
	for _, s := range statusOrder {
		if CanTransition(s, status) {
			from = append(from, s)
		}
	}
	return from
}

// IsTerminal reports whether status is completed, failed or cancelled.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsDeletable reports whether a job in this status may be removed through
// the management API. Running and completed jobs are protected.
func IsDeletable(status string) bool {
	switch status {
	case StatusPending, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

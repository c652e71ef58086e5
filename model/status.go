package model

import "fmt"

// Status is the processing state of a track.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusRegenerate Status = "regenerate"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// VersionLimit is the highest VersionCount at which a track still accepts a
// new processing request. The counter increments on dispatch, so the limit is
// a hard ceiling on attempts, failed ones included.
const VersionLimit = 3

// InFlight reports whether a processing job is currently running for this status.
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusRegenerate
}

// CanTransition reports whether a status change is legal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUploaded:
		return to == StatusProcessing
	case StatusProcessing, StatusRegenerate:
		return to == StatusCompleted || to == StatusError
	case StatusCompleted:
		return to == StatusRegenerate
	case StatusError:
		// A new attempt may be issued after a failure; there is no automatic retry.
		return to == StatusProcessing || to == StatusRegenerate
	default:
		return false
	}
}

// ValidateTransition returns a validation error for illegal status changes.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: illegal status transition %s -> %s", ErrValidation, from, to)
	}
	return nil
}

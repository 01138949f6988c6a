package outbox

import "fmt"

// Status represents the lifecycle state of an outbox record.
type Status string

const (
	// StatusPending marks a record created but not yet claimed by a poller.
	StatusPending Status = "PENDING"

	// StatusProcessing marks a record claimed by a poller instance. The
	// processing_started_at column records when the claim happened so stuck
	// records can be detected.
	StatusProcessing Status = "PROCESSING"

	// StatusProcessed marks a record whose delivery attempt was acknowledged.
	// Terminal.
	StatusProcessed Status = "PROCESSED"

	// StatusFailed marks a record whose last attempt failed. Retryable while
	// NextAttemptAt is set; terminal once attempts are exhausted and
	// NextAttemptAt is nil.
	StatusFailed Status = "FAILED"

	// StatusInvalid marks a record whose referenced payload does not exist.
	// Terminal.
	StatusInvalid Status = "INVALID"
)

// IsValid reports whether the status is a known lifecycle state.
func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed, StatusInvalid:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from this
// status. FAILED is not terminal at the status level; terminality of a failed
// record is carried by a nil NextAttemptAt.
func (status Status) IsTerminal() bool {
	return status == StatusProcessed || status == StatusInvalid
}

// CanTransitionTo reports whether the state machine permits moving from the
// current status to the target status.
func (status Status) CanTransitionTo(target Status) bool {
	switch status {
	case StatusPending:
		return target == StatusProcessing || target == StatusInvalid
	case StatusProcessing:
		return target == StatusProcessed || target == StatusFailed || target == StatusInvalid
	case StatusFailed:
		return target == StatusProcessing
	default:
		return false
	}
}

// EnsureTransition returns an error when the transition is not permitted.
func (status Status) EnsureTransition(target Status) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrStatusInvalid, target)
	}

	if !status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionInvalid, status, target)
	}

	return nil
}

func (status Status) String() string {
	return string(status)
}

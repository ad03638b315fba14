package workflow

import (
	"errors"
	"fmt"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrVersionConflict      = errors.New("concurrent modification, reload and retry")
	ErrAuthenticationFailed = errors.New("access code verification failed")
	ErrAlreadySigned        = errors.New("signer has already signed")
)

// ValidationError marks malformed input, such as a duplicate (level, order)
// pair in the signer configuration.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateTransitionError marks an operation that is illegal for the current
// request or signer status.
type StateTransitionError struct {
	Op     string
	Status string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s is not allowed from status %s", e.Op, e.Status)
}

func InvalidTransition(op string, status models.RequestStatus) error {
	return &StateTransitionError{Op: op, Status: string(status)}
}

func InvalidSignerTransition(op string, status models.SignerStatus) error {
	return &StateTransitionError{Op: op, Status: string(status)}
}

// NotAllowedError marks an operation forbidden by a request policy flag,
// such as declining when AllowDecline is off.
type NotAllowedError struct {
	Op     string
	Reason string
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Op, e.Reason)
}

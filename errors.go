package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ========================================
// Error taxonomy
// ========================================

var (
	// ErrDeviceBusy is returned when a second export is started on a device
	ErrDeviceBusy = errors.New("device busy: another export is running")
	// ErrUnverified blocks an entry interaction that was not preceded by a passing verification
	ErrUnverified = errors.New("interaction blocked: no passing verification since last entry")
	// ErrChatNotLocated ends an attempt whose conversation could not be found in the list
	ErrChatNotLocated = errors.New("chat not located in list")
)

// ConnectionError means the automation backend could not be reached. Fatal for the run.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// VerificationFailure carries the failing VerificationResult
type VerificationFailure struct {
	Result VerificationResult
}

func (e *VerificationFailure) Error() string {
	if e.Result.Detail != "" {
		return fmt.Sprintf("safety verification failed: %s (%s)", e.Result.FailingReason, e.Result.Detail)
	}
	return fmt.Sprintf("safety verification failed: %s", e.Result.FailingReason)
}

// NavigationTimeout means an expected screen did not appear within the step budget
type NavigationTimeout struct {
	Step   ExportState
	Expect string
	Waited time.Duration
}

func (e *NavigationTimeout) Error() string {
	return fmt.Sprintf("%s: timed out after %s waiting for %s", e.Step, e.Waited, e.Expect)
}

// IncompatibleChat marks a conversation that cannot be exported (community container,
// advanced chat privacy, no export entry). The attempt is skipped, not failed.
type IncompatibleChat struct {
	Chat   string
	Reason string
}

func (e *IncompatibleChat) Error() string {
	return fmt.Sprintf("chat %q cannot be exported: %s", e.Chat, e.Reason)
}

// UploadControlNotFound means every upload strategy came back empty
type UploadControlNotFound struct {
	Tried []string
}

func (e *UploadControlNotFound) Error() string {
	return fmt.Sprintf("upload control not found (tried: %s)", strings.Join(e.Tried, ", "))
}

// StepFailure wraps any other error raised inside a transition
type StepFailure struct {
	Step   ExportState
	Reason string
	Err    error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Reason, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

// IsVerificationFailure reports whether err carries a failed verification
func IsVerificationFailure(err error) bool {
	var vf *VerificationFailure
	return errors.As(err, &vf)
}

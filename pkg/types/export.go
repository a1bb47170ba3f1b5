package types

import "time"

// ChatHandle is a conversation seen in the chat list.
// DiscoveredAt, X and Y describe a volatile list position and are only
// meaningful right after discovery.
type ChatHandle struct {
	DisplayName  string `json:"displayName"`
	DiscoveredAt int    `json:"discoveredAt"`
	Verified     bool   `json:"verified"`
	X            int    `json:"-"`
	Y            int    `json:"-"`
	// Interaction is the session interaction counter at discovery time
	Interaction uint64 `json:"-"`
}

// ExportState is one node of the per-conversation export state machine
type ExportState string

const (
	StateIdle                       ExportState = "Idle"
	StateChatOpened                 ExportState = "ChatOpened"
	StateMenuOpened                 ExportState = "MenuOpened"
	StateExportTriggered            ExportState = "ExportTriggered"
	StateMediaChoiceMade            ExportState = "MediaChoiceMade"
	StateDestinationAppSelected     ExportState = "DestinationAppSelected"
	StateDestinationFolderConfirmed ExportState = "DestinationFolderConfirmed"
	StateUploadConfirmed            ExportState = "UploadConfirmed"
	StateDone                       ExportState = "Done"
	StateSkipped                    ExportState = "Skipped"
	StateFailed                     ExportState = "Failed"
)

// Terminal reports whether no transition leaves the state
func (s ExportState) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// ExportStatus is the terminal outcome of one attempt
type ExportStatus string

const (
	StatusSucceeded           ExportStatus = "succeeded"
	StatusSkippedIncompatible ExportStatus = "skippedIncompatible"
	StatusFailedVerification  ExportStatus = "failedVerification"
	StatusFailedStep          ExportStatus = "failedStep"
	StatusNotLocated          ExportStatus = "notLocated"
)

// Step failure reasons carried by StatusFailedStep
const (
	StepReasonTimeout               = "stepTimeout"
	StepReasonUploadControlNotFound = "uploadControlNotFound"
	StepReasonDestinationNotFound   = "destinationNotFound"
	StepReasonCancelled             = "cancelled"
	StepReasonDeviceBusy            = "deviceBusy"
	StepReasonBackendError          = "backendError"
)

// ExportAttempt records one conversation's export. It is immutable once finalized.
type ExportAttempt struct {
	ID             string        `json:"id"`
	Chat           ChatHandle    `json:"chat"`
	WithMedia      bool          `json:"withMedia"`
	Status         ExportStatus  `json:"status"`
	FailingStep    ExportState   `json:"failingStep,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Detail         string        `json:"detail,omitempty"`
	UploadStrategy string        `json:"uploadStrategy,omitempty"`
	Path           []ExportState `json:"path"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
}

// Duration is the wall time spent on the attempt
func (a ExportAttempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// RunSummary tallies the terminal outcomes of a batch run
type RunSummary struct {
	RunID           string          `json:"runId"`
	DeviceID        string          `json:"deviceId"`
	Requested       int             `json:"requested"`
	Succeeded       int             `json:"succeeded"`
	Skipped         int             `json:"skipped"`
	Failed          int             `json:"failed"`
	NotLocated      int             `json:"notLocated"`
	AlreadyExported int             `json:"alreadyExported"`
	NotAttempted    int             `json:"notAttempted"` // left over when the run aborted
	Aborted         bool            `json:"aborted"`
	AbortReason     string          `json:"abortReason,omitempty"`
	Attempts        []ExportAttempt `json:"attempts"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
}

// Add folds one finalized attempt into the tallies
func (s *RunSummary) Add(a ExportAttempt) {
	s.Attempts = append(s.Attempts, a)
	switch a.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusSkippedIncompatible:
		s.Skipped++
	case StatusNotLocated:
		s.NotLocated++
	default:
		s.Failed++
	}
}

// SettleRemainder counts requested chats that never got an attempt, so the
// tallies always add up to Requested
func (s *RunSummary) SettleRemainder() {
	done := s.Succeeded + s.Skipped + s.Failed + s.NotLocated + s.AlreadyExported
	s.NotAttempted = max(0, s.Requested-done)
}

// AttemptRecord is a stored attempt with the run it belonged to
type AttemptRecord struct {
	RunID    string        `json:"runId"`
	DeviceID string        `json:"deviceId"`
	Attempt  ExportAttempt `json:"attempt"`
}

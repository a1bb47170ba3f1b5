package main

import "chatexport/pkg/types"

// Shared with the mcp package
type (
	ForegroundApp      = types.ForegroundApp
	FailReason         = types.FailReason
	VerificationResult = types.VerificationResult
	ChatHandle         = types.ChatHandle
	ExportState        = types.ExportState
	ExportStatus       = types.ExportStatus
	ExportAttempt      = types.ExportAttempt
	RunSummary         = types.RunSummary
	AttemptRecord      = types.AttemptRecord
)

const (
	StateIdle                       = types.StateIdle
	StateChatOpened                 = types.StateChatOpened
	StateMenuOpened                 = types.StateMenuOpened
	StateExportTriggered            = types.StateExportTriggered
	StateMediaChoiceMade            = types.StateMediaChoiceMade
	StateDestinationAppSelected     = types.StateDestinationAppSelected
	StateDestinationFolderConfirmed = types.StateDestinationFolderConfirmed
	StateUploadConfirmed            = types.StateUploadConfirmed
	StateDone                       = types.StateDone
	StateSkipped                    = types.StateSkipped
	StateFailed                     = types.StateFailed
)

// SortOrder controls how ListChats yields conversations
type SortOrder string

const (
	OrderList         SortOrder = "list"
	OrderAlphabetical SortOrder = "alphabetical"
)

// ParseSortOrder accepts "list" (default) or "alphabetical"/"alpha"
func ParseSortOrder(s string) (SortOrder, bool) {
	switch s {
	case "", "list":
		return OrderList, true
	case "alphabetical", "alpha":
		return OrderAlphabetical, true
	}
	return "", false
}

// KeyCode values for input keyevent
const (
	KeyHome = 3
	KeyBack = 4
)

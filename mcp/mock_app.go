package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatexport/pkg/types"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockExportApp is a mock implementation of ExportApp for testing
type MockExportApp struct {
	mu    sync.Mutex
	Calls []MockCall

	Device     string
	AppVersion string

	VerifyResult VerificationResult

	ListChatsResult []ChatHandle
	ListChatsError  error

	// ExportChatResults are keyed by chat name; missing names succeed
	ExportChatResults map[string]ExportAttempt

	ReturnToBaselineError error

	RunBatchResult RunSummary
	RunBatchError  error

	ExportHistoryResult []AttemptRecord
	ExportHistoryError  error
}

// Sentinel errors for tests
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceBusy     = errors.New("device busy")
	ErrNoHistory      = errors.New("history store not configured")
)

// NewMockExportApp creates a mock with a ready device
func NewMockExportApp() *MockExportApp {
	return &MockExportApp{
		Calls:      make([]MockCall, 0),
		Device:     "emulator-5554",
		AppVersion: "1.0.0-test",
		VerifyResult: VerificationResult{
			PackageOK:   true,
			ActivityOK:  true,
			UIPresentOK: true,
			UnlockedOK:  true,
			OverallOK:   true,
			Foreground:  types.ForegroundApp{Package: "com.whatsapp", Activity: "com.whatsapp.home.ui.HomeActivity"},
		},
		ExportChatResults: make(map[string]ExportAttempt),
	}
}

func (m *MockExportApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns all recorded calls
func (m *MockExportApp) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.Calls...)
}

// WasMethodCalled checks if a method was called
func (m *MockExportApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if c.Method == method {
			return true
		}
	}
	return false
}

// GetLastCallByMethod returns the last call to a specific method
func (m *MockExportApp) GetLastCallByMethod(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == method {
			return &m.Calls[i]
		}
	}
	return nil
}

func (m *MockExportApp) GetAppVersion() string {
	m.recordCall("GetAppVersion")
	return m.AppVersion
}

func (m *MockExportApp) DeviceID() string {
	return m.Device
}

func (m *MockExportApp) VerifyReady(ctx context.Context) VerificationResult {
	m.recordCall("VerifyReady")
	return m.VerifyResult
}

func (m *MockExportApp) ListChats(ctx context.Context, order string, limit int) ([]ChatHandle, error) {
	m.recordCall("ListChats", order, limit)
	if m.ListChatsError != nil {
		return nil, m.ListChatsError
	}
	out := m.ListChatsResult
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockExportApp) ExportChat(ctx context.Context, name string, withMedia bool) ExportAttempt {
	m.recordCall("ExportChat", name, withMedia)
	if a, ok := m.ExportChatResults[name]; ok {
		return a
	}
	return SampleAttempt(name, types.StatusSucceeded)
}

func (m *MockExportApp) ReturnToBaseline(ctx context.Context) error {
	m.recordCall("ReturnToBaseline")
	return m.ReturnToBaselineError
}

func (m *MockExportApp) RunBatch(ctx context.Context, req BatchRequest) (RunSummary, error) {
	m.recordCall("RunBatch", req)
	return m.RunBatchResult, m.RunBatchError
}

func (m *MockExportApp) ExportHistory(limit int) ([]AttemptRecord, error) {
	m.recordCall("ExportHistory", limit)
	return m.ExportHistoryResult, m.ExportHistoryError
}

// === Test Helper Functions ===

// SetupWithError configures a specific method to return an error
func (m *MockExportApp) SetupWithError(method string, err error) *MockExportApp {
	switch method {
	case "ListChats":
		m.ListChatsError = err
	case "ReturnToBaseline":
		m.ReturnToBaselineError = err
	case "RunBatch":
		m.RunBatchError = err
	case "ExportHistory":
		m.ExportHistoryError = err
	}
	return m
}

// SetupWithChats configures the chat list
func (m *MockExportApp) SetupWithChats(names ...string) *MockExportApp {
	m.ListChatsResult = nil
	for i, n := range names {
		m.ListChatsResult = append(m.ListChatsResult, ChatHandle{DisplayName: n, DiscoveredAt: i})
	}
	return m
}

// SampleAttempt returns a finalized attempt with the given status
func SampleAttempt(name string, status types.ExportStatus) ExportAttempt {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := ExportAttempt{
		ID:         "attempt-" + name,
		Chat:       ChatHandle{DisplayName: name, Verified: true},
		Status:     status,
		StartedAt:  start,
		FinishedAt: start.Add(8 * time.Second),
	}
	switch status {
	case types.StatusSucceeded:
		a.Path = []types.ExportState{
			types.StateIdle, types.StateChatOpened, types.StateMenuOpened, types.StateExportTriggered,
			types.StateMediaChoiceMade, types.StateDestinationAppSelected,
			types.StateDestinationFolderConfirmed, types.StateUploadConfirmed, types.StateDone,
		}
		a.UploadStrategy = "stableId"
	case types.StatusSkippedIncompatible:
		a.Path = []types.ExportState{types.StateIdle, types.StateSkipped}
		a.FailingStep = types.StateChatOpened
		a.Reason = "incompatible"
	default:
		a.Path = []types.ExportState{types.StateIdle, types.StateChatOpened, types.StateFailed}
		a.FailingStep = types.StateMenuOpened
		a.Reason = types.StepReasonTimeout
	}
	return a
}

package mcp

import (
	"context"
	"testing"
)

// TestNewMCPServer tests server creation
func TestNewMCPServer(t *testing.T) {
	mock := NewMockExportApp()
	server := NewMCPServer(mock)

	if server == nil {
		t.Fatal("NewMCPServer should not return nil")
	}

	if server.app == nil {
		t.Error("server.app should not be nil")
	}

	if server.server == nil {
		t.Error("server.server (underlying MCP server) should not be nil")
	}

	// Verify GetAppVersion was called during initialization
	if !mock.WasMethodCalled("GetAppVersion") {
		t.Error("GetAppVersion should be called during server creation")
	}
}

// TestMCPServer_IsRunning tests the IsRunning method
func TestMCPServer_IsRunning(t *testing.T) {
	server := NewMCPServer(NewMockExportApp())

	if server.IsRunning() {
		t.Error("Server should not be running initially")
	}
}

// TestMCPServer_Stop tests the Stop method
func TestMCPServer_Stop(t *testing.T) {
	server := NewMCPServer(NewMockExportApp())

	// Stop should not panic even when not running
	server.Stop()

	if server.IsRunning() {
		t.Error("Server should not be running after Stop")
	}
}

// TestMockExportApp_Interface verifies MockExportApp implements ExportApp
func TestMockExportApp_Interface(t *testing.T) {
	var _ ExportApp = (*MockExportApp)(nil)
}

// TestMockExportApp_RecordsCalls tests call recording
func TestMockExportApp_RecordsCalls(t *testing.T) {
	mock := NewMockExportApp()

	mock.GetAppVersion()
	mock.ExportChat(context.Background(), "Alice", true)

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(calls))
	}
	if calls[1].Method != "ExportChat" {
		t.Errorf("Expected second call to be ExportChat, got %s", calls[1].Method)
	}
	if calls[1].Args[0] != "Alice" || calls[1].Args[1] != true {
		t.Errorf("Unexpected ExportChat args: %v", calls[1].Args)
	}
}

// TestMockExportApp_SetupWithError tests the error configuration
func TestMockExportApp_SetupWithError(t *testing.T) {
	mock := NewMockExportApp()
	mock.SetupWithError("ListChats", ErrDeviceNotFound)

	_, err := mock.ListChats(context.Background(), "", 0)
	if err != ErrDeviceNotFound {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

// TestSampleAttempt tests the sample attempt factory
func TestSampleAttempt(t *testing.T) {
	a := SampleAttempt("Bob", "succeeded")
	if a.Chat.DisplayName != "Bob" {
		t.Errorf("Expected chat Bob, got %s", a.Chat.DisplayName)
	}
	if len(a.Path) == 0 || a.Path[len(a.Path)-1] != "Done" {
		t.Errorf("Successful sample should end in Done, got %v", a.Path)
	}
	if a.Duration() <= 0 {
		t.Error("Sample attempt should have a positive duration")
	}
}

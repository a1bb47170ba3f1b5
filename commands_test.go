package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"chatexport/pkg/types"
)

// executeCommand runs rootCmd with flag variables reset, since cobra keeps them between runs
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, deviceFlag, verbose, logToFile = "", "", false, false
	listOrder, listLimit = "list", 0
	exportMedia, exportAll, exportResume, exportOrder, exportLimit, exportRange = false, false, false, "list", 0, ""
	historyLimit, historyRun = 20, ""
	pinClear = false

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func tempDataConfig(t *testing.T) string {
	t.Helper()
	return writeConfig(t, "data_dir: "+t.TempDir()+"\n")
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"version flag", []string{"--version"}, false},
		{"help flag", []string{"--help"}, false},
		{"nonexistent command", []string{"nonexistent-command"}, true},
		{"pair needs two args", []string{"pair", "192.168.1.5:37000"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("rootCmd.Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRootCommand_Version(t *testing.T) {
	out, err := executeCommand(t, "--version")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != version+"\n" {
		t.Errorf("Expected %q, got %q", version+"\n", out)
	}
}

func TestRootCommand_BadConfig(t *testing.T) {
	_, err := executeCommand(t, "--config", writeConfig(t, "scan: [1, 2]"), "history")
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Expected a config error, got %v", err)
	}
}

func TestExportCommand_Arguments(t *testing.T) {
	path := tempDataConfig(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing selected", []string{"export"}, "give chat names"},
		{"names and all", []string{"export", "--all", "Alice"}, "cannot be combined"},
		{"unknown order", []string{"export", "--all", "--order", "random"}, "unknown order"},
		{"range without all", []string{"export", "--range", "1-3", "Alice"}, "--range needs --all"},
		{"bad range", []string{"export", "--all", "--range", "5-2"}, "invalid range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, append([]string{"--config", path}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHistoryCommand(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, "data_dir: "+dataDir+"\n")

	out, err := executeCommand(t, "--config", path, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No exports recorded") {
		t.Errorf("Expected empty history, got %q", out)
	}

	store, err := NewHistoryStore(cfg.HistoryDBPath())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := store.CreateRun("run-42", "emulator-5554", now); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAttempt("run-42", "emulator-5554", testAttempt("a-1", "Alice", types.StatusSucceeded, now)); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(RunSummary{RunID: "run-42", Requested: 1, Succeeded: 1, FinishedAt: now}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	out, err = executeCommand(t, "--config", path, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "succeeded") || !strings.Contains(out, "run-42") {
		t.Errorf("Expected the attempt to be listed, got %q", out)
	}

	out, err = executeCommand(t, "--config", path, "history", "--run", "run-42")
	if err != nil {
		t.Fatalf("history --run failed: %v", err)
	}
	if !strings.Contains(out, "Run run-42") || !strings.Contains(out, "succeeded") {
		t.Errorf("Expected the run summary, got %q", out)
	}

	if _, err := executeCommand(t, "--config", path, "history", "--run", "missing"); err == nil {
		t.Error("Expected an error for an unknown run")
	}
}

func TestPinCommand(t *testing.T) {
	path := tempDataConfig(t)

	out, err := executeCommand(t, "--config", path, "pin")
	if err != nil || !strings.Contains(out, "no device pinned") {
		t.Fatalf("Expected no pin, got %q (%v)", out, err)
	}
	if out, err = executeCommand(t, "--config", path, "pin", "emulator-5554"); err != nil || !strings.Contains(out, "Pinned emulator-5554") {
		t.Fatalf("Pin failed: %q (%v)", out, err)
	}
	if out, err = executeCommand(t, "--config", path, "pin"); err != nil || strings.TrimSpace(out) != "emulator-5554" {
		t.Errorf("Expected pinned serial, got %q (%v)", out, err)
	}
	if _, err = executeCommand(t, "--config", path, "pin", "bad serial;"); err == nil {
		t.Error("Expected an invalid serial to be rejected")
	}
	if out, err = executeCommand(t, "--config", path, "pin", "--clear"); err != nil || !strings.Contains(out, "Pin cleared") {
		t.Errorf("Clear failed: %q (%v)", out, err)
	}
}

func TestCommandFlagsOverrideConfig(t *testing.T) {
	path := tempDataConfig(t)
	if _, err := executeCommand(t, "--config", path, "--device", "10.0.0.7:5555", "--verbose", "history"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if cfg.Device.Serial != "10.0.0.7:5555" {
		t.Errorf("Expected device override, got %q", cfg.Device.Serial)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Log.Level)
	}
}

// ========================================
// Rendering
// ========================================

func TestRenderVerification(t *testing.T) {
	var buf bytes.Buffer
	renderVerification(&buf, "emulator-5554", VerificationResult{
		PackageOK:     true,
		FailingReason: types.ReasonDeviceLocked,
		Detail:        "keyguard showing",
		Foreground:    ForegroundApp{Package: "com.android.systemui"},
	})
	out := buf.String()
	for _, want := range []string{"emulator-5554", "com.android.systemui", "FAIL", "Not ready: deviceLocked (keyguard showing)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}

	buf.Reset()
	renderVerification(&buf, "emulator-5554", VerificationResult{PackageOK: true, ActivityOK: true, UIPresentOK: true, UnlockedOK: true, OverallOK: true})
	if !strings.Contains(buf.String(), "Ready to export") || strings.Contains(buf.String(), "FAIL") {
		t.Errorf("Unexpected ready output %q", buf.String())
	}
}

func TestRenderAttempt(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	renderAttempt(&buf, 1, 5, ExportAttempt{
		Chat:        ChatHandle{DisplayName: "Bob"},
		Status:      types.StatusFailedStep,
		FailingStep: StateMenuOpened,
		Reason:      types.StepReasonTimeout,
		Detail:      "menu did not open",
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
	})
	out := buf.String()
	for _, want := range []string{"[2/5]", "Bob", "failedStep", "at MenuOpened: stepTimeout", "menu did not open", "2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}

	buf.Reset()
	renderAttempt(&buf, 0, 1, ExportAttempt{Chat: ChatHandle{DisplayName: "Alice"}, Status: types.StatusSucceeded, UploadStrategy: "stableId", Detail: "ignored"})
	if !strings.Contains(buf.String(), "via stableId") || strings.Contains(buf.String(), "ignored") {
		t.Errorf("Unexpected success line %q", buf.String())
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, RunSummary{
		RunID:           "run-1",
		Requested:       4,
		Succeeded:       2,
		AlreadyExported: 7,
		NotAttempted:    2,
		Aborted:         true,
		AbortReason:     "3 consecutive verification failures",
	})
	out := buf.String()
	for _, want := range []string{"Run run-1", "requested", "already exported", "7", "not attempted", "Aborted: 3 consecutive verification failures"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestTruncateName(t *testing.T) {
	if got := truncateName("Alice", 10); got != "Alice" {
		t.Errorf("Short names should be kept, got %q", got)
	}
	if got := truncateName("Família Silva e amigos", 10); got != "Família..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

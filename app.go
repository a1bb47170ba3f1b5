package main

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatexport/pkg/cache"
	"chatexport/pkg/types"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.4.0"

// App is one connected device with the export pipeline wired around it.
// Only one export or batch runs against it at a time.
type App struct {
	cfg      *Config
	session  *DeviceSession
	verifier *SafetyVerifier
	scanner  *ChatListScanner
	workflow *ExportWorkflow
	history  *HistoryStore

	// busy is held for the duration of any operation that drives the UI
	busy      sync.Mutex
	closeOnce sync.Once
}

// NewApp wires the pipeline around a backend. history may be nil.
func NewApp(cfg *Config, backend Backend, deviceID string, history *HistoryStore) *App {
	session := NewDeviceSession(backend, deviceID, cfg.Timing)
	verifier := NewSafetyVerifier(session, cfg.App)
	scanner := NewChatListScanner(session, verifier, cfg.App, cfg.Scan)
	return &App{
		cfg:      cfg,
		session:  session,
		verifier: verifier,
		scanner:  scanner,
		workflow: NewExportWorkflow(session, verifier, scanner, cfg),
		history:  history,
	}
}

// Connect reaches the configured device through adb. Any failure is a
// *ConnectionError and fatal for the run.
func Connect(ctx context.Context, cfg *Config, history *HistoryStore) (*App, error) {
	ref := cfg.Device.Serial
	client, err := NewAdbClient(cfg.Device.AdbPath)
	if err != nil {
		return nil, &ConnectionError{Device: ref, Err: err}
	}

	if ref != "" && (cfg.Device.Wireless || IsNetworkAddress(ref)) {
		if _, err := client.Connect(ctx, ref); err != nil {
			return nil, &ConnectionError{Device: ref, Err: err}
		}
	}
	memory := openDeviceMemory(cfg)
	if memory != nil {
		defer memory.Close()
	}
	if ref == "" {
		serials, err := client.Devices(ctx)
		if err != nil {
			return nil, &ConnectionError{Device: "(auto)", Err: err}
		}
		picked, ok := "", len(serials) == 1
		if ok {
			picked = serials[0]
		}
		if memory != nil {
			picked, ok = memory.PickDevice(serials)
		}
		if !ok {
			return nil, &ConnectionError{Device: "(auto)", Err: fmt.Errorf("%d devices attached, select one with --device or pin one", len(serials))}
		}
		ref = picked
	}

	state, err := client.GetState(ctx, ref)
	if err != nil {
		return nil, &ConnectionError{Device: ref, Err: err}
	}
	if state != "device" {
		return nil, &ConnectionError{Device: ref, Err: fmt.Errorf("device state is %q", state)}
	}

	app := NewApp(cfg, NewAdbBackend(client, ref), ref, history)
	if err := app.ensureForeground(ctx); err != nil {
		app.Close()
		return nil, &ConnectionError{Device: ref, Err: err}
	}
	if memory != nil {
		memory.SetLastActive(ref, time.Now().UnixMilli())
	}
	DeviceLog().Str("device", ref).Msg("connected")
	return app, nil
}

// openDeviceMemory loads the pinned/last-active device settings; nil when unavailable
func openDeviceMemory(cfg *Config) *cache.Service {
	memory, err := cache.New(cache.Config{
		Dir: cfg.DataDir,
		LogFunc: func(format string, args ...interface{}) {
			LogWarn("cache").Msgf(format, args...)
		},
	})
	if err != nil {
		LogWarn("app").Err(err).Msg("device settings unavailable")
		return nil
	}
	return memory
}

// ensureForeground launches the target app when another app is in front.
// A lock screen is left alone; verification reports it.
func (a *App) ensureForeground(ctx context.Context) error {
	fg, err := a.session.Foreground(ctx)
	if err != nil {
		return err
	}
	if fg.Package == a.cfg.App.Package {
		return nil
	}
	if err := a.verifier.RequireUnlocked(ctx); err != nil {
		if IsVerificationFailure(err) {
			LogWarn("app").Str("foreground", fg.Component()).Msg("device appears locked, not launching")
			return nil
		}
		return err
	}
	component := a.cfg.App.Package + "/" + a.cfg.App.LaunchActivity
	LogInfo("app").Str("component", component).Str("foreground", fg.Component()).Msg("launching target app")
	if err := a.session.Launch(ctx, component); err != nil {
		LogWarn("app").Err(err).Msg("launch failed")
		return nil
	}
	return a.session.Sleep(ctx, a.cfg.Timing.StepTimeout/4)
}

// AppVersion is the build version
func (a *App) AppVersion() string {
	return version
}

// DeviceID is the device this app drives
func (a *App) DeviceID() string {
	return a.session.DeviceID()
}

// Config returns the effective configuration
func (a *App) Config() *Config {
	return a.cfg
}

// VerifyReady runs the safety checks once
func (a *App) VerifyReady(ctx context.Context) VerificationResult {
	return a.verifier.Verify(ctx)
}

// ListChats yields conversations; the device stays reserved while ranging
func (a *App) ListChats(ctx context.Context, opts ListOptions) iter.Seq2[ChatHandle, error] {
	inner := a.scanner.ListChats(ctx, opts)
	return func(yield func(ChatHandle, error) bool) {
		if !a.busy.TryLock() {
			yield(ChatHandle{}, ErrDeviceBusy)
			return
		}
		defer a.busy.Unlock()
		for h, err := range inner {
			if !yield(h, err) {
				return
			}
		}
	}
}

// ExportChat exports one conversation outside a batch and records it.
// It always returns a finalized attempt.
func (a *App) ExportChat(ctx context.Context, handle ChatHandle, withMedia bool) ExportAttempt {
	if !a.busy.TryLock() {
		now := time.Now()
		return ExportAttempt{
			ID:          uuid.NewString(),
			Chat:        handle,
			WithMedia:   withMedia,
			Status:      types.StatusFailedStep,
			FailingStep: StateChatOpened,
			Reason:      types.StepReasonDeviceBusy,
			Detail:      ErrDeviceBusy.Error(),
			Path:        []ExportState{StateIdle, StateFailed},
			StartedAt:   now,
			FinishedAt:  now,
		}
	}
	defer a.busy.Unlock()

	attempt := a.workflow.ExportChat(ctx, handle, withMedia)
	a.record("", attempt)
	return attempt
}

// ReturnToBaseline brings the device back to the chat list
func (a *App) ReturnToBaseline(ctx context.Context) error {
	if !a.busy.TryLock() {
		return ErrDeviceBusy
	}
	defer a.busy.Unlock()
	return a.workflow.ReturnToBaseline(ctx)
}

// History returns recent attempts from the store
func (a *App) History(limit int) ([]AttemptRecord, error) {
	if a.history == nil {
		return nil, fmt.Errorf("history store not configured")
	}
	return a.history.ListAttempts(limit)
}

func (a *App) record(runID string, attempt ExportAttempt) {
	if a.history == nil {
		return
	}
	if err := a.history.RecordAttempt(runID, a.DeviceID(), attempt); err != nil {
		LogError("app").Err(err).Str("attemptId", attempt.ID).Msg("failed to record attempt")
	}
}

// Close releases the device session
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.session.Close()
	})
	return err
}

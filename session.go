package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ========================================
// DeviceSession - backend calls with timeouts, pacing and the verification gate
// ========================================

// DeviceSession wraps a Backend for one device. It is not safe for concurrent
// exports; App serializes them.
type DeviceSession struct {
	backend  Backend
	deviceID string
	timing   Timing
	limiter  *rate.Limiter

	mu           sync.Mutex
	interactions uint64
	gateArmed    bool
	width        int
	height       int
}

// NewDeviceSession builds a session. GestureInterval zero leaves gestures unpaced.
func NewDeviceSession(backend Backend, deviceID string, timing Timing) *DeviceSession {
	limit := rate.Inf
	if timing.GestureInterval > 0 {
		limit = rate.Every(timing.GestureInterval)
	}
	return &DeviceSession{
		backend:  backend,
		deviceID: deviceID,
		timing:   timing,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// DeviceID is the adb serial or address the session is bound to
func (s *DeviceSession) DeviceID() string {
	return s.deviceID
}

// Interactions is the number of gestures sent so far
func (s *DeviceSession) Interactions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions
}

// Fresh reports whether a handle's position can still be trusted:
// at most one interaction since it was discovered.
func (s *DeviceSession) Fresh(h ChatHandle) bool {
	return s.Interactions()-h.Interaction <= 1
}

func (s *DeviceSession) callCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = s.timing.CallTimeout
	}
	return context.WithTimeout(ctx, d)
}

// Foreground queries the focused package/activity
func (s *DeviceSession) Foreground(ctx context.Context) (ForegroundApp, error) {
	cctx, cancel := s.callCtx(ctx, s.timing.CallTimeout)
	defer cancel()
	return s.backend.ForegroundApp(cctx)
}

// ScreenSize is cached after the first successful query
func (s *DeviceSession) ScreenSize(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	w, h := s.width, s.height
	s.mu.Unlock()
	if w > 0 && h > 0 {
		return w, h, nil
	}

	cctx, cancel := s.callCtx(ctx, s.timing.CallTimeout)
	defer cancel()
	w, h, err := s.backend.ScreenSize(cctx)
	if err != nil {
		return 0, 0, fmt.Errorf("screen size: %w", err)
	}
	s.mu.Lock()
	s.width, s.height = w, h
	s.mu.Unlock()
	return w, h, nil
}

// Snapshot dumps the current hierarchy
func (s *DeviceSession) Snapshot(ctx context.Context) (*Screen, error) {
	w, h, err := s.ScreenSize(ctx)
	if err != nil {
		return nil, err
	}
	cctx, cancel := s.callCtx(ctx, s.timing.DumpTimeout)
	defer cancel()
	root, err := s.backend.DumpHierarchy(cctx)
	if err != nil {
		return nil, fmt.Errorf("dump hierarchy: %w", err)
	}
	return &Screen{Root: root, Width: w, Height: h}, nil
}

// gesture paces, times out and counts one interaction
func (s *DeviceSession) gesture(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := s.callCtx(ctx, s.timing.CallTimeout)
	defer cancel()

	s.mu.Lock()
	s.interactions++
	s.mu.Unlock()

	if err := fn(cctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	LogDebug("session").Str("gesture", name).Msg("sent")
	return nil
}

// Tap taps a point
func (s *DeviceSession) Tap(ctx context.Context, x, y int) error {
	return s.gesture(ctx, fmt.Sprintf("tap(%d,%d)", x, y), func(c context.Context) error {
		return s.backend.Tap(c, x, y)
	})
}

// TapNode taps the center of a node
func (s *DeviceSession) TapNode(ctx context.Context, n *UINode) error {
	r, ok := n.Rect()
	if !ok {
		return fmt.Errorf("node %q has no bounds", n.Label())
	}
	x, y := r.Center()
	return s.Tap(ctx, x, y)
}

// Swipe drags between two points using the configured duration
func (s *DeviceSession) Swipe(ctx context.Context, x1, y1, x2, y2 int) error {
	return s.gesture(ctx, "swipe", func(c context.Context) error {
		return s.backend.Swipe(c, x1, y1, x2, y2, s.timing.SwipeDuration)
	})
}

// Back presses the system back key
func (s *DeviceSession) Back(ctx context.Context) error {
	return s.gesture(ctx, "back", func(c context.Context) error {
		return s.backend.PressKey(c, KeyBack)
	})
}

// armGate is called by the verifier after a passing verification
func (s *DeviceSession) armGate() {
	s.mu.Lock()
	s.gateArmed = true
	s.mu.Unlock()
}

// disarmGate is called by the verifier after a failing verification
func (s *DeviceSession) disarmGate() {
	s.mu.Lock()
	s.gateArmed = false
	s.mu.Unlock()
}

// TapGuarded is the entry interaction of a unit of work. It consumes the
// gate armed by the last passing verification and refuses when none is armed.
func (s *DeviceSession) TapGuarded(ctx context.Context, x, y int) error {
	s.mu.Lock()
	armed := s.gateArmed
	s.gateArmed = false
	s.mu.Unlock()
	if !armed {
		return ErrUnverified
	}
	return s.Tap(ctx, x, y)
}

// Sleep waits d or until ctx is done
func (s *DeviceSession) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DumpDebug writes the raw hierarchy of the current screen to dir for post-mortem
func (s *DeviceSession) DumpDebug(ctx context.Context, dir, label string) (string, error) {
	if dir == "" {
		return "", nil
	}
	screen, err := s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", time.Now().Format("20060102_150405"), sanitizeFileName(label)))
	data, err := marshalScreen(screen)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Close releases the backend
func (s *DeviceSession) Close() error {
	return s.backend.Close()
}

// Launch starts an activity when the backend supports it
func (s *DeviceSession) Launch(ctx context.Context, component string) error {
	l, ok := s.backend.(AppLauncher)
	if !ok {
		return fmt.Errorf("backend cannot launch %s", component)
	}
	cctx, cancel := s.callCtx(ctx, s.timing.CallTimeout)
	defer cancel()
	return l.LaunchApp(cctx, component)
}

// KeepAwake toggles stay-awake when the backend supports it. Unsupported is not an error.
func (s *DeviceSession) KeepAwake(ctx context.Context, on bool) error {
	k, ok := s.backend.(AwakeKeeper)
	if !ok {
		LogDebug("session").Msg("backend has no keep-awake support")
		return nil
	}
	cctx, cancel := s.callCtx(ctx, s.timing.CallTimeout)
	defer cancel()
	return k.KeepAwake(cctx, on)
}

package main

import (
	"context"
	"time"
)

// Backend is the device automation surface the core consumes.
// Implementations must honor ctx deadlines on every call.
type Backend interface {
	ForegroundApp(ctx context.Context) (ForegroundApp, error)
	DumpHierarchy(ctx context.Context) (*UINode, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	PressKey(ctx context.Context, keyCode int) error
	ScreenSize(ctx context.Context) (width, height int, err error)
	Close() error
}

// AppLauncher is implemented by backends that can start an activity directly
type AppLauncher interface {
	LaunchApp(ctx context.Context, component string) error
}

// AwakeKeeper is implemented by backends that can hold the screen on while charging
type AwakeKeeper interface {
	KeepAwake(ctx context.Context, on bool) error
}

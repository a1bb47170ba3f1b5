package main

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AdbBackend drives a device through adb shell: uiautomator for the
// hierarchy, input for gestures, dumpsys for window focus.
type AdbBackend struct {
	client   *AdbClient
	serial   string
	dumpFile string
	retries  int
}

// NewAdbBackend binds a client to one device
func NewAdbBackend(client *AdbClient, serial string) *AdbBackend {
	return &AdbBackend{
		client:   client,
		serial:   serial,
		dumpFile: "/data/local/tmp/chatexport_view.xml",
		retries:  3,
	}
}

var (
	focusLinePattern = regexp.MustCompile(`(mCurrentFocus|mFocusedApp|mFocusedWindow)=(.*)`)
	componentPattern = regexp.MustCompile(`([a-zA-Z][\w.]*)/([\w.$]+)`)
	wmSizePattern    = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)
)

// systemWindows are focus targets without a component, owned by systemui
var systemWindows = []string{"NotificationShade", "StatusBar", "Keyguard", "LockScreen"}

// parseForeground extracts the focused component from dumpsys window output.
// mCurrentFocus wins over mFocusedApp because dialogs and the keyguard take
// window focus without becoming the focused app.
func parseForeground(output string) (ForegroundApp, error) {
	lines := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		m := focusLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, seen := lines[m[1]]; !seen {
			lines[m[1]] = m[2]
		}
	}

	for _, key := range []string{"mCurrentFocus", "mFocusedWindow", "mFocusedApp"} {
		value, ok := lines[key]
		if !ok || (strings.Contains(value, "null") && !strings.Contains(value, "/")) {
			continue
		}
		if m := componentPattern.FindStringSubmatch(value); m != nil {
			activity := m[2]
			if strings.HasPrefix(activity, ".") {
				activity = m[1] + activity
			}
			return ForegroundApp{Package: m[1], Activity: activity}, nil
		}
		for _, w := range systemWindows {
			if strings.Contains(value, w) {
				return ForegroundApp{Package: "com.android.systemui", Activity: w}, nil
			}
		}
	}
	return ForegroundApp{}, fmt.Errorf("no focused window in dumpsys output")
}

// parseWmSize reads "wm size" output, preferring the override size
func parseWmSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, m := range wmSizePattern.FindAllStringSubmatch(output, -1) {
		mw, _ := strconv.Atoi(m[2])
		mh, _ := strconv.Atoi(m[3])
		if m[1] == "Override" || !found {
			w, h = mw, mh
			found = true
		}
	}
	if !found || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", strings.TrimSpace(output))
	}
	return w, h, nil
}

// ForegroundApp implements Backend
func (b *AdbBackend) ForegroundApp(ctx context.Context) (ForegroundApp, error) {
	out, err := b.client.Run(ctx, b.serial, "shell dumpsys window | grep -E 'mCurrentFocus|mFocusedApp|mFocusedWindow'")
	if err != nil {
		return ForegroundApp{}, fmt.Errorf("query foreground: %w", err)
	}
	return parseForeground(out)
}

// DumpHierarchy implements Backend. uiautomator dumps are flaky, so a failed
// dump is retried after killing any stuck uiautomator process.
func (b *AdbBackend) DumpHierarchy(ctx context.Context) (*UINode, error) {
	var xmlContent string
	var err error

	for i := 0; i < b.retries; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i > 0 {
			b.client.Run(ctx, b.serial, "shell pkill uiautomator")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		cmd := fmt.Sprintf("shell uiautomator dump %s && cat %s", b.dumpFile, b.dumpFile)
		xmlContent, err = b.client.Run(ctx, b.serial, cmd)
		if err == nil && strings.Contains(xmlContent, "<hierarchy") {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		LogDebug("adb").Int("retry", i+1).Int("maxRetries", b.retries).Err(err).Msg("UI dump retry")
	}

	if err != nil || !strings.Contains(xmlContent, "<hierarchy") {
		return nil, fmt.Errorf("failed to dump UI after %d attempts: %v", b.retries, err)
	}
	return ParseHierarchy(xmlContent)
}

// Tap implements Backend
func (b *AdbBackend) Tap(ctx context.Context, x, y int) error {
	_, err := b.client.Run(ctx, b.serial, fmt.Sprintf("shell input tap %d %d", x, y))
	return err
}

// Swipe implements Backend
func (b *AdbBackend) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := b.client.Run(ctx, b.serial, fmt.Sprintf("shell input swipe %d %d %d %d %d", x1, y1, x2, y2, duration.Milliseconds()))
	return err
}

// PressKey implements Backend
func (b *AdbBackend) PressKey(ctx context.Context, keyCode int) error {
	_, err := b.client.Run(ctx, b.serial, fmt.Sprintf("shell input keyevent %d", keyCode))
	return err
}

// ScreenSize implements Backend
func (b *AdbBackend) ScreenSize(ctx context.Context) (int, int, error) {
	out, err := b.client.Run(ctx, b.serial, "shell wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWmSize(out)
}

// LaunchApp implements AppLauncher
func (b *AdbBackend) LaunchApp(ctx context.Context, component string) error {
	out, err := b.client.Run(ctx, b.serial, "shell am start -n "+component)
	if err != nil {
		return err
	}
	if strings.Contains(out, "Error") {
		return fmt.Errorf("am start %s: %s", component, out)
	}
	return nil
}

// KeepAwake implements AwakeKeeper. 7 = stay on for AC, USB and wireless charging.
func (b *AdbBackend) KeepAwake(ctx context.Context, on bool) error {
	value := 0
	if on {
		value = 7
	}
	_, err := b.client.Run(ctx, b.serial, fmt.Sprintf("shell settings put global stay_on_while_plugged_in %d", value))
	return err
}

// Close implements Backend. Nothing is held open between commands.
func (b *AdbBackend) Close() error {
	return nil
}

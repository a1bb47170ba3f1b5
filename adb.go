package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// deviceIDPattern 用于验证 deviceId 格式
// - USB 序列号: "1234567890ABCDEF", "emulator-5554"
// - 无线设备: "192.168.1.100:5555"
// - mDNS 设备: "adb-xxxxx._adb-tls-connect._tcp."
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

var pairCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidateDeviceID rejects ids that could smuggle shell syntax into adb arguments
func ValidateDeviceID(deviceId string) error {
	if deviceId == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceId) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceId) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// IsNetworkAddress reports whether a device ref looks like ip:port
func IsNetworkAddress(ref string) bool {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return false
	}
	for _, c := range ref[i+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// AdbClient runs the adb binary
type AdbClient struct {
	adbPath string
}

// NewAdbClient resolves the adb binary: explicit path, $ADB, then $PATH
func NewAdbClient(adbPath string) (*AdbClient, error) {
	if adbPath == "" {
		adbPath = os.Getenv("ADB")
	}
	if adbPath == "" {
		p, err := exec.LookPath("adb")
		if err != nil {
			return nil, fmt.Errorf("adb not found in PATH: %w", err)
		}
		adbPath = p
	}
	return &AdbClient{adbPath: adbPath}, nil
}

// newCommand builds an adb command with proxy variables stripped;
// adb server connections must not go through an HTTP proxy.
func (c *AdbClient) newCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.adbPath, args...)

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}

// Run executes "adb -s <id> <fullCmd>". A "shell " prefix passes the rest
// to the device shell as one argument.
func (c *AdbClient) Run(ctx context.Context, deviceId string, fullCmd string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", fmt.Errorf("invalid device ID: %w", err)
	}

	fullCmd = strings.TrimSpace(fullCmd)
	if fullCmd == "" {
		return "", nil
	}

	args := []string{"-s", deviceId}
	if strings.HasPrefix(fullCmd, "shell ") {
		args = append(args, "shell", strings.TrimPrefix(fullCmd, "shell "))
	} else {
		args = append(args, strings.Fields(fullCmd)...)
	}

	output, err := c.newCommand(ctx, args...).CombinedOutput()
	res := string(output)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("command failed: %w, output: %s", err, strings.TrimSpace(res))
	}
	return strings.TrimSpace(res), nil
}

// GetState returns adb's view of the device ("device", "offline", "unauthorized")
func (c *AdbClient) GetState(ctx context.Context, deviceId string) (string, error) {
	return c.Run(ctx, deviceId, "get-state")
}

// Pair pairs with a device in wireless debugging mode using its 6-digit code
func (c *AdbClient) Pair(ctx context.Context, address, code string) (string, error) {
	if address == "" || code == "" {
		return "", fmt.Errorf("address and pairing code are required")
	}
	if !IsNetworkAddress(address) {
		return "", fmt.Errorf("pairing address must be ip:port, got %q", address)
	}
	if !pairCodePattern.MatchString(code) {
		return "", fmt.Errorf("pairing code must be 6 digits")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	output, err := c.newCommand(ctx, "pair", address, code).CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("pairing failed: %w, output: %s", err, string(output))
	}
	if strings.Contains(strings.ToLower(string(output)), "failed") {
		return string(output), fmt.Errorf("pairing failed: %s", strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Connect runs "adb connect"; a stale connection to the same address is dropped first
func (c *AdbClient) Connect(ctx context.Context, address string) (string, error) {
	timer := StartOperation("device", "adb_connect").AddDetail("address", address)

	if address == "" {
		err := fmt.Errorf("address is required")
		timer.EndWithError(err)
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_ = c.newCommand(ctx, "disconnect", address).Run()

	output, err := c.newCommand(ctx, "connect", address).CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err == nil && (strings.Contains(out, "failed") || strings.Contains(out, "unable")) {
		err = fmt.Errorf("%s", out)
	}
	if err != nil {
		timer.EndWithError(err)
		return out, fmt.Errorf("connection failed: %w, output: %s", err, out)
	}

	timer.End()
	return out, nil
}

// Devices lists serials adb reports in the "device" state
func (c *AdbClient) Devices(ctx context.Context) ([]string, error) {
	output, err := c.newCommand(ctx, "devices").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return parseDevices(string(output)), nil
}

func parseDevices(output string) []string {
	var serials []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			serials = append(serials, parts[0])
		}
	}
	return serials
}

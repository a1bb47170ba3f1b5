// Package cache persists small per-user state between runs: which device
// was pinned and when each device was last driven.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the on-disk form
type Settings struct {
	LastActive   map[string]int64 `json:"lastActive"`
	PinnedSerial string           `json:"pinnedSerial"`
}

// Service manages device settings persistence
type Service struct {
	dir          string
	settingsPath string

	// Settings state (kept in sync with file)
	lastActive   map[string]int64
	lastActiveMu sync.RWMutex

	pinnedSerial string
	pinnedMu     sync.RWMutex

	// Logger function (optional)
	logFunc func(format string, args ...interface{})
}

// Config for creating a new Service
type Config struct {
	Dir     string
	LogFunc func(format string, args ...interface{})
}

// New creates a Service rooted at cfg.Dir, loading any saved settings
func New(cfg Config) (*Service, error) {
	dir := cfg.Dir
	if dir == "" {
		var err error
		dir, err = os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		dir = filepath.Join(dir, "chatexport")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &Service{
		dir:          dir,
		settingsPath: filepath.Join(dir, "devices.json"),
		lastActive:   make(map[string]int64),
		logFunc:      cfg.LogFunc,
	}
	s.loadSettings()
	return s, nil
}

func (s *Service) log(format string, args ...interface{}) {
	if s.logFunc != nil {
		s.logFunc(format, args...)
	}
}

// ========================================
// Settings Methods
// ========================================

// GetLastActive returns the last active timestamp (unix ms) for a device
func (s *Service) GetLastActive(deviceID string) int64 {
	s.lastActiveMu.RLock()
	defer s.lastActiveMu.RUnlock()
	return s.lastActive[deviceID]
}

// SetLastActive updates the last active timestamp for a device
func (s *Service) SetLastActive(deviceID string, timestamp int64) {
	s.lastActiveMu.Lock()
	s.lastActive[deviceID] = timestamp
	s.lastActiveMu.Unlock()
}

// GetPinnedSerial returns the pinned device serial
func (s *Service) GetPinnedSerial() string {
	s.pinnedMu.RLock()
	defer s.pinnedMu.RUnlock()
	return s.pinnedSerial
}

// SetPinnedSerial sets the pinned device serial; empty clears it
func (s *Service) SetPinnedSerial(serial string) {
	s.pinnedMu.Lock()
	s.pinnedSerial = serial
	s.pinnedMu.Unlock()
}

// PickDevice chooses among attached serials: the pinned one if attached,
// then the most recently active, then the only one. ok is false when the
// choice would be a guess.
func (s *Service) PickDevice(attached []string) (string, bool) {
	if len(attached) == 0 {
		return "", false
	}
	if pinned := s.GetPinnedSerial(); pinned != "" {
		for _, serial := range attached {
			if serial == pinned {
				return serial, true
			}
		}
	}

	s.lastActiveMu.RLock()
	best, bestAt := "", int64(0)
	for _, serial := range attached {
		if at := s.lastActive[serial]; at > bestAt {
			best, bestAt = serial, at
		}
	}
	s.lastActiveMu.RUnlock()
	if best != "" {
		return best, true
	}

	if len(attached) == 1 {
		return attached[0], true
	}
	return "", false
}

// SaveSettings persists settings to disk
func (s *Service) SaveSettings() error {
	s.lastActiveMu.RLock()
	lastActive := make(map[string]int64, len(s.lastActive))
	for k, v := range s.lastActive {
		lastActive[k] = v
	}
	s.lastActiveMu.RUnlock()

	settings := Settings{
		LastActive:   lastActive,
		PinnedSerial: s.GetPinnedSerial(),
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	tmp := s.settingsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.settingsPath)
}

func (s *Service) loadSettings() {
	data, err := os.ReadFile(s.settingsPath)
	if err != nil {
		return
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.log("ignoring unreadable settings %s: %v", s.settingsPath, err)
		return
	}

	s.lastActiveMu.Lock()
	if settings.LastActive != nil {
		s.lastActive = settings.LastActive
	}
	s.lastActiveMu.Unlock()

	s.SetPinnedSerial(settings.PinnedSerial)
}

// SettingsPath returns the settings file path
func (s *Service) SettingsPath() string {
	return s.settingsPath
}

// Close saves settings before shutdown
func (s *Service) Close() error {
	if err := s.SaveSettings(); err != nil {
		s.log("Error saving settings on close: %v", err)
		return err
	}
	return nil
}

package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	s, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestService_PersistsSettings(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s := newTestService(t, dir)
	s.SetPinnedSerial("emulator-5554")
	s.SetLastActive("192.168.1.5:5555", 1700000000000)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(s.SettingsPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should be renamed away")
	}

	reloaded := newTestService(t, dir)
	if reloaded.GetPinnedSerial() != "emulator-5554" {
		t.Errorf("Pinned serial lost, got %q", reloaded.GetPinnedSerial())
	}
	if reloaded.GetLastActive("192.168.1.5:5555") != 1700000000000 {
		t.Errorf("Last active lost, got %d", reloaded.GetLastActive("192.168.1.5:5555"))
	}
}

func TestService_CorruptSettingsIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "devices.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	var logged []string
	s, err := New(Config{Dir: dir, LogFunc: func(format string, args ...interface{}) { logged = append(logged, format) }})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.GetPinnedSerial() != "" {
		t.Error("Corrupt settings should load as empty")
	}
	if len(logged) != 1 {
		t.Errorf("Expected the corrupt file to be logged once, got %d", len(logged))
	}
}

func TestService_PickDevice(t *testing.T) {
	s := newTestService(t, t.TempDir())
	s.SetLastActive("b", 200)
	s.SetLastActive("c", 300)

	tests := []struct {
		name     string
		pinned   string
		attached []string
		want     string
		ok       bool
	}{
		{"none attached", "", nil, "", false},
		{"single unknown", "", []string{"x"}, "x", true},
		{"two unknown", "", []string{"x", "y"}, "", false},
		{"most recent wins", "", []string{"a", "b", "c"}, "c", true},
		{"recent beats unknown", "", []string{"x", "b"}, "b", true},
		{"pinned wins", "a", []string{"a", "c"}, "a", true},
		{"pinned not attached", "z", []string{"b", "c"}, "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.SetPinnedSerial(tt.pinned)
			got, ok := s.PickDevice(tt.attached)
			if got != tt.want || ok != tt.ok {
				t.Errorf("PickDevice(%v) = %q, %v; want %q, %v", tt.attached, got, ok, tt.want, tt.ok)
			}
		})
	}
}

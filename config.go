package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ========================================
// Configuration
// ========================================

// Config is the top-level configuration, loaded from YAML and overridden by flags
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	App         AppProfile        `yaml:"app"`
	Timing      Timing            `yaml:"timing"`
	Scan        ScanConfig        `yaml:"scan"`
	Batch       BatchConfig       `yaml:"batch"`
	Destination DestinationConfig `yaml:"destination"`
	Log         LogFileConfig     `yaml:"log"`
	DataDir     string            `yaml:"data_dir"`
	// DebugDumpDir receives the hierarchy XML of the screen a failed step was looking at
	DebugDumpDir string `yaml:"debug_dump_dir"`
}

// DeviceConfig selects and reaches the phone
type DeviceConfig struct {
	Serial   string `yaml:"serial"` // USB serial or ip:port
	AdbPath  string `yaml:"adb_path"`
	Wireless bool   `yaml:"wireless"` // adb connect before use
}

// AppProfile holds everything that is specific to the target app and its
// share destination. Selectors live here so a UI change is a config change.
type AppProfile struct {
	Package        string   `yaml:"package"`
	LaunchActivity string   `yaml:"launch_activity"`
	DeniedScreens  []string `yaml:"denied_screens"`
	ProofIDs       []string `yaml:"proof_ids"`
	LockIndicators []string `yaml:"lock_indicators"`
	LockElementIDs []string `yaml:"lock_element_ids"`
	LockPackages   []string `yaml:"lock_packages"`

	HomeMarkers         []string `yaml:"home_markers"`
	ConversationMarker  string   `yaml:"conversation_marker"`
	CommunityMarkers    []string `yaml:"community_markers"`
	CommunityElementIDs []string `yaml:"community_element_ids"`
	ChatRowNameID       string   `yaml:"chat_row_name_id"`

	OverflowID    string   `yaml:"overflow_id"`
	OverflowDesc  string   `yaml:"overflow_desc"`
	MoreLabel     string   `yaml:"more_label"`
	ExportLabel   string   `yaml:"export_label"` // substring, case-insensitive
	PrivacyTexts  []string `yaml:"privacy_texts"`
	DismissLabels []string `yaml:"dismiss_labels"`
	IncludeMedia  string   `yaml:"include_media"`
	WithoutMedia  string   `yaml:"without_media"`

	SharePackage        string   `yaml:"share_package"`
	ShareContainerIDs   []string `yaml:"share_container_ids"`
	DestinationLabels   []string `yaml:"destination_labels"` // primary first
	DestinationPackages []string `yaml:"destination_packages"`
	UploadButtonID      string   `yaml:"upload_button_id"`
	UploadLabels        []string `yaml:"upload_labels"`
	UploadRegionX       float64  `yaml:"upload_region_x"` // left edge, fraction of width
	UploadRegionY       float64  `yaml:"upload_region_y"` // bottom edge, fraction of height

	ArtifactPrefix string `yaml:"artifact_prefix"`
}

// Timing bounds every wait and retry
type Timing struct {
	CallTimeout     time.Duration `yaml:"call_timeout"`
	DumpTimeout     time.Duration `yaml:"dump_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StepTimeout     time.Duration `yaml:"step_timeout"`
	DriveTimeout    time.Duration `yaml:"drive_timeout"`
	Backoff         time.Duration `yaml:"backoff"`
	GestureInterval time.Duration `yaml:"gesture_interval"`
	SwipeDuration   time.Duration `yaml:"swipe_duration"`
	BaselineTimeout time.Duration `yaml:"baseline_timeout"`
}

// ScanConfig bounds list scrolling
type ScanConfig struct {
	StepBudget     int `yaml:"step_budget"` // swipes per direction
	ListStallLimit int `yaml:"list_stall_limit"`
	MenuAttempts   int `yaml:"menu_attempts"`
	RevealSwipes   int `yaml:"reveal_swipes"`
	MaxBackPresses int `yaml:"max_back_presses"`
}

// BatchConfig controls RunBatch
type BatchConfig struct {
	WithMedia                   bool `yaml:"with_media"`
	SkipExported                bool `yaml:"skip_exported"`
	MaxConsecutiveVerifyFailure int  `yaml:"max_consecutive_verify_failures"`
	KeepAwake                   bool `yaml:"keep_awake"`
}

// DestinationConfig points at a local mirror of the upload folder, if any
type DestinationConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LogFileConfig is the YAML face of LogConfig
type LogFileConfig struct {
	Level string `yaml:"level"`
	File  bool   `yaml:"file"`
}

// LoadConfig reads a YAML configuration file. An empty path yields defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Validate rejects values that would make waits or scans unbounded
func (c *Config) Validate() error {
	if c.App.Package == "" {
		return fmt.Errorf("app.package is required")
	}
	if c.Scan.StepBudget <= 0 {
		return fmt.Errorf("scan.step_budget must be positive, got %d", c.Scan.StepBudget)
	}
	if c.Timing.StepTimeout <= 0 || c.Timing.PollInterval <= 0 {
		return fmt.Errorf("timing.step_timeout and timing.poll_interval must be positive")
	}
	if c.App.UploadRegionX < 0 || c.App.UploadRegionX > 1 || c.App.UploadRegionY < 0 || c.App.UploadRegionY > 1 {
		return fmt.Errorf("upload region fractions must be within [0,1]")
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Timing.applyDefaults()

	if c.Scan.StepBudget <= 0 {
		c.Scan.StepBudget = 120
	}
	if c.Scan.ListStallLimit <= 0 {
		c.Scan.ListStallLimit = 3
	}
	if c.Scan.MenuAttempts <= 0 {
		c.Scan.MenuAttempts = 3
	}
	if c.Scan.RevealSwipes <= 0 {
		c.Scan.RevealSwipes = 3
	}
	if c.Scan.MaxBackPresses <= 0 {
		c.Scan.MaxBackPresses = 5
	}
	if c.Batch.MaxConsecutiveVerifyFailure <= 0 {
		c.Batch.MaxConsecutiveVerifyFailure = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".chatexport")
		} else {
			c.DataDir = ".chatexport"
		}
	}
}

func (p *AppProfile) applyDefaults() {
	if p.Package == "" {
		p.Package = "com.whatsapp"
	}
	if p.LaunchActivity == "" {
		p.LaunchActivity = ".Main"
	}
	if p.DeniedScreens == nil {
		p.DeniedScreens = []string{"Keyguard", "LockScreen", "lockscreen", "StatusBar", "systemui", "Settings"}
	}
	if p.ProofIDs == nil {
		p.ProofIDs = []string{
			"com.whatsapp:id/conversations_row_contact_name",
			"com.whatsapp:id/toolbar",
			"com.whatsapp:id/action_bar",
			"com.whatsapp:id/menuitem_search",
		}
	}
	if p.LockIndicators == nil {
		p.LockIndicators = []string{"Keyguard", "LockScreen", "lockscreen", "KeyguardView", "StatusBar"}
	}
	if p.LockElementIDs == nil {
		p.LockElementIDs = []string{
			"com.android.systemui:id/lock_icon",
			"com.android.systemui:id/keyguard_message_area",
			"com.android.systemui:id/keyguard_indication_text",
		}
	}
	if p.LockPackages == nil {
		p.LockPackages = []string{"com.android.systemui"}
	}
	if p.HomeMarkers == nil {
		p.HomeMarkers = []string{".home", "HomeActivity"}
	}
	if p.ConversationMarker == "" {
		p.ConversationMarker = "Conversation"
	}
	if p.CommunityMarkers == nil {
		p.CommunityMarkers = []string{"community"}
	}
	if p.CommunityElementIDs == nil {
		p.CommunityElementIDs = []string{"com.whatsapp:id/community_home_header"}
	}
	if p.ChatRowNameID == "" {
		p.ChatRowNameID = "com.whatsapp:id/conversations_row_contact_name"
	}
	if p.OverflowID == "" {
		p.OverflowID = "com.whatsapp:id/menuitem_overflow"
	}
	if p.OverflowDesc == "" {
		p.OverflowDesc = "More options"
	}
	if p.MoreLabel == "" {
		p.MoreLabel = "More"
	}
	if p.ExportLabel == "" {
		p.ExportLabel = "export"
	}
	if p.PrivacyTexts == nil {
		p.PrivacyTexts = []string{"advanced chat privacy", "can't export chats", "prevents the exporting", "cannot export"}
	}
	if p.DismissLabels == nil {
		p.DismissLabels = []string{"OK", "Got it"}
	}
	if p.IncludeMedia == "" {
		p.IncludeMedia = "Include media"
	}
	if p.WithoutMedia == "" {
		p.WithoutMedia = "Without media"
	}
	if p.SharePackage == "" {
		p.SharePackage = "com.android.intentresolver"
	}
	if p.ShareContainerIDs == nil {
		p.ShareContainerIDs = []string{
			"com.android.intentresolver:id/chooser_scrollable_container",
			"android:id/resolver_list",
		}
	}
	if p.DestinationLabels == nil {
		p.DestinationLabels = []string{"Drive", "My Drive"}
	}
	if p.DestinationPackages == nil {
		p.DestinationPackages = []string{"com.google.android.apps.docs"}
	}
	if p.UploadButtonID == "" {
		p.UploadButtonID = "com.google.android.apps.docs:id/save_button"
	}
	if p.UploadLabels == nil {
		p.UploadLabels = []string{"Upload", "Save"}
	}
	if p.UploadRegionX == 0 {
		p.UploadRegionX = 0.7
	}
	if p.UploadRegionY == 0 {
		p.UploadRegionY = 0.15
	}
	if p.ArtifactPrefix == "" {
		p.ArtifactPrefix = "WhatsApp Chat with "
	}
}

func (t *Timing) applyDefaults() {
	if t.CallTimeout <= 0 {
		t.CallTimeout = 15 * time.Second
	}
	if t.DumpTimeout <= 0 {
		t.DumpTimeout = 30 * time.Second
	}
	if t.PollInterval <= 0 {
		t.PollInterval = 500 * time.Millisecond
	}
	if t.StepTimeout <= 0 {
		t.StepTimeout = 10 * time.Second
	}
	if t.DriveTimeout <= 0 {
		t.DriveTimeout = 20 * time.Second
	}
	if t.Backoff <= 0 {
		t.Backoff = 750 * time.Millisecond
	}
	if t.SwipeDuration <= 0 {
		t.SwipeDuration = 300 * time.Millisecond
	}
	if t.BaselineTimeout <= 0 {
		t.BaselineTimeout = 20 * time.Second
	}
	// GestureInterval zero means unpaced
}

// HistoryDBPath is where attempt history lives
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// LogConfig converts the YAML log section into the logger's config
func (c *Config) LogConfig() LogConfig {
	lc := DefaultLogConfig()
	lc.Level = ParseLogLevel(c.Log.Level)
	if c.Log.File {
		lc = PersistentLogConfig(c.DataDir)
		lc.Level = ParseLogLevel(c.Log.Level)
	}
	return lc
}

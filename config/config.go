// Package config persists camera settings across restarts. The on-disk
// document is plain JSON; saves are atomic so a crash mid-write never
// leaves a torn file behind.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/common"
)

// Settings is the persisted document. Field defaults live in
// DefaultSettings; Load fills in anything missing or out of range, so old
// and hand-edited files keep working.
type Settings struct {
	Device     string `json:"device"`
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`

	Exposure         int  `json:"exposure"`
	Gain             int  `json:"gain"`
	WhiteBalanceK    int  `json:"wb_temp"`
	AutoExposure     bool `json:"auto_exposure"`
	AutoWhiteBalance bool `json:"auto_wb"`
	AutoFocus        bool `json:"auto_focus"`
	Focus            int  `json:"focus"`

	OutputFormat string `json:"output_format"`
	OutputDir    string `json:"output_dir"`
	ClipCounter  int    `json:"clip_counter"`

	AudioDevice  string `json:"audio_device"`
	AudioEnabled bool   `json:"audio_enabled"`
	MicMuted     bool   `json:"mic_muted"`
	MicGainDB    int    `json:"mic_gain_db"`

	Overlays camera.Overlays `json:"overlays"`
	Limits   camera.Limits   `json:"limits"`

	StopTimeoutSeconds int `json:"stop_timeout_seconds"`

	CatalogPath string `json:"catalog_path"`
	LogDir      string `json:"log_dir"`
	LogLevel    string `json:"log_level"`
}

// Overrides carries optional values from CLI flags. Nil means "keep what
// the file says".
type Overrides struct {
	Device       *string
	Resolution   *string
	FPS          *int
	OutputFormat *string
	OutputDir    *string
	AudioDevice  *string
	AudioOff     bool
	LogDir       *string
	LogLevel     *string
}

// DefaultSettings returns the document used when no config file exists.
func DefaultSettings() Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Settings{
		Device:             "/dev/video0",
		Resolution:         "3840x2160",
		FPS:                30,
		Exposure:           156,
		Gain:               100,
		WhiteBalanceK:      4600,
		AutoExposure:       true,
		AutoWhiteBalance:   true,
		AutoFocus:          true,
		Focus:              128,
		OutputFormat:       camera.DefaultFormatKey,
		OutputDir:          filepath.Join(home, "footage"),
		ClipCounter:        1,
		AudioEnabled:       true,
		MicGainDB:          0,
		Overlays:           camera.Overlays{HUD: true},
		Limits:             camera.DefaultLimits(),
		StopTimeoutSeconds: 10,
		CatalogPath:        filepath.Join(home, ".picam", "clips.db"),
		LogDir:             filepath.Join(home, ".picam", "logs"),
		LogLevel:           string(common.LogLevelInfo),
	}
}

// DefaultPath is where the config document lives unless -config says
// otherwise.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".picam", "config.json")
}

// Store loads and saves the settings document at a fixed path.
type Store struct {
	path   string
	logger common.Logger
}

// NewStore creates a store for the given path.
func NewStore(path string, logger common.Logger) *Store {
	if logger == nil {
		logger = common.NopLogger
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document, sanitizes it field by field and applies the
// overrides. A missing file is not an error; an unreadable or corrupt one
// is logged and replaced by defaults, since refusing to start over a bad
// config file helps nobody in the field.
func (s *Store) Load(ov Overrides) Settings {
	settings := DefaultSettings()

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.logger.Info("No config file, using defaults", "path", s.path)
	case err != nil:
		s.logger.Warn("Failed to read config, using defaults", "path", s.path, "error", err)
	default:
		var loaded Settings
		if err := json.Unmarshal(data, &loaded); err != nil {
			s.logger.Warn("Corrupt config, using defaults", "path", s.path, "error", err)
		} else {
			settings = sanitize(loaded)
		}
	}

	applyOverrides(&settings, ov)
	return settings
}

// Save writes the document atomically with owner-only permissions: marshal
// to a temp file in the same directory, fsync, then rename over the target.
func (s *Store) Save(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// FromSnapshot converts live camera state back into a persistable
// document, carrying over the runtime-only fields from prev.
func FromSnapshot(snap camera.Snapshot, prev Settings) Settings {
	next := prev
	next.Device = snap.Device
	next.Resolution = snap.Resolution
	next.FPS = snap.FPS
	next.Exposure = snap.Exposure
	next.Gain = snap.Gain
	next.WhiteBalanceK = snap.WhiteBalanceK
	next.AutoExposure = snap.AutoExposure
	next.AutoWhiteBalance = snap.AutoWhiteBalance
	next.AutoFocus = snap.AutoFocus
	next.Focus = snap.Focus
	next.OutputFormat = snap.Format().Key
	next.OutputDir = snap.OutputDir
	next.ClipCounter = snap.ClipCounter
	next.AudioDevice = snap.AudioDevice
	next.AudioEnabled = snap.AudioEnabled
	next.MicMuted = snap.MicMuted
	next.MicGainDB = snap.MicGainDB
	next.Overlays = snap.Overlays
	next.Limits = snap.Limits
	return next
}

// ToSnapshot builds the initial camera state from a settings document.
func ToSnapshot(settings Settings) camera.Snapshot {
	_, idx := camera.FormatByKey(settings.OutputFormat)
	return camera.Snapshot{
		Device:           settings.Device,
		Resolution:       settings.Resolution,
		FPS:              settings.FPS,
		Exposure:         settings.Exposure,
		Gain:             settings.Gain,
		WhiteBalanceK:    settings.WhiteBalanceK,
		AutoExposure:     settings.AutoExposure,
		AutoWhiteBalance: settings.AutoWhiteBalance,
		AutoFocus:        settings.AutoFocus,
		Focus:            settings.Focus,
		FormatIndex:      idx,
		OutputDir:        settings.OutputDir,
		ClipCounter:      settings.ClipCounter,
		AudioDevice:      settings.AudioDevice,
		AudioEnabled:     settings.AudioEnabled && settings.AudioDevice != "",
		MicMuted:         settings.MicMuted,
		MicGainDB:        settings.MicGainDB,
		Overlays:         settings.Overlays,
		Limits:           settings.Limits,
	}
}

// sanitize replaces out-of-range or unknown values with their defaults,
// field by field, so one bad entry never discards the rest of the file.
func sanitize(loaded Settings) Settings {
	def := DefaultSettings()
	s := loaded

	if s.Device == "" {
		s.Device = def.Device
	}
	if !contains(camera.Resolutions, s.Resolution) {
		s.Resolution = def.Resolution
	}
	if !containsInt(camera.FrameRates, s.FPS) {
		s.FPS = def.FPS
	}
	if s.Limits.ExposureMax <= s.Limits.ExposureMin || s.Limits.ExposureStep <= 0 {
		s.Limits = def.Limits
	}
	if f, _ := camera.FormatByKey(s.OutputFormat); f.Key != s.OutputFormat {
		s.OutputFormat = def.OutputFormat
	}
	if s.OutputDir == "" {
		s.OutputDir = def.OutputDir
	}
	if s.ClipCounter < 1 {
		s.ClipCounter = def.ClipCounter
	}
	if s.StopTimeoutSeconds <= 0 {
		s.StopTimeoutSeconds = def.StopTimeoutSeconds
	}
	if s.CatalogPath == "" {
		s.CatalogPath = def.CatalogPath
	}
	if s.LogDir == "" {
		s.LogDir = def.LogDir
	}
	switch common.LogLevel(s.LogLevel) {
	case common.LogLevelDebug, common.LogLevelInfo, common.LogLevelWarn, common.LogLevelError:
	default:
		s.LogLevel = def.LogLevel
	}

	// Range clamping for the control values happens in camera.NewState;
	// here we only reject structurally broken limits.
	return s
}

func applyOverrides(s *Settings, ov Overrides) {
	if ov.Device != nil {
		s.Device = *ov.Device
	}
	if ov.Resolution != nil && contains(camera.Resolutions, *ov.Resolution) {
		s.Resolution = *ov.Resolution
	}
	if ov.FPS != nil && containsInt(camera.FrameRates, *ov.FPS) {
		s.FPS = *ov.FPS
	}
	if ov.OutputFormat != nil {
		if f, _ := camera.FormatByKey(*ov.OutputFormat); f.Key == *ov.OutputFormat {
			s.OutputFormat = *ov.OutputFormat
		}
	}
	if ov.OutputDir != nil {
		s.OutputDir = *ov.OutputDir
	}
	if ov.AudioDevice != nil {
		s.AudioDevice = *ov.AudioDevice
	}
	if ov.AudioOff {
		s.AudioEnabled = false
	}
	if ov.LogDir != nil {
		s.LogDir = *ov.LogDir
	}
	if ov.LogLevel != nil {
		s.LogLevel = *ov.LogLevel
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

package camera

import (
	"fmt"
	"time"
)

// Limits holds the device control ranges and step sizes. The values are
// device-specific: they come from config and, for focus, from a runtime
// capability query (Controller.DetectFocusRange), never from hard-coded
// assumptions in the callers.
type Limits struct {
	ExposureMin      int `json:"exposure_min"`
	ExposureMax      int `json:"exposure_max"`
	ExposureStep     int `json:"exposure_step"`
	GainMin          int `json:"gain_min"`
	GainMax          int `json:"gain_max"`
	GainStep         int `json:"gain_step"`
	WhiteBalanceMin  int `json:"white_balance_min"`
	WhiteBalanceMax  int `json:"white_balance_max"`
	WhiteBalanceStep int `json:"white_balance_step"`
	FocusMin         int `json:"focus_min"`
	FocusMax         int `json:"focus_max"`
	FocusStepCoarse  int `json:"focus_step_coarse"`
	FocusStepFine    int `json:"focus_step_fine"`
	MicGainMinDB     int `json:"mic_gain_min_db"`
	MicGainMaxDB     int `json:"mic_gain_max_db"`
	MicGainStepDB    int `json:"mic_gain_step_db"`
}

// DefaultLimits returns the ranges the OBSBOT Meet 2 reports. They are the
// config defaults, not a contract — config or the device query may override.
func DefaultLimits() Limits {
	return Limits{
		ExposureMin:      50,
		ExposureMax:      10000,
		ExposureStep:     50,
		GainMin:          0,
		GainMax:          500,
		GainStep:         10,
		WhiteBalanceMin:  2000,
		WhiteBalanceMax:  10000,
		WhiteBalanceStep: 100,
		FocusMin:         0,
		FocusMax:         255,
		FocusStepCoarse:  10,
		FocusStepFine:    2,
		MicGainMinDB:     -20,
		MicGainMaxDB:     20,
		MicGainStepDB:    3,
	}
}

// Overlays are the independent HUD toggles shared by both UIs.
type Overlays struct {
	Guides    bool `json:"guides"`
	Histogram bool `json:"histogram"`
	Peaking   bool `json:"peaking"`
	HUD       bool `json:"hud"`
}

// Snapshot is an immutable copy of the camera state, safe to read without
// further synchronization. All fields are value types, so assignment is a
// deep copy.
type Snapshot struct {
	Device     string
	Resolution string
	FPS        int

	Exposure         int
	Gain             int
	WhiteBalanceK    int
	AutoExposure     bool
	AutoWhiteBalance bool
	AutoFocus        bool
	Focus            int

	FormatIndex int
	OutputDir   string
	ClipCounter int

	Recording        bool
	RecordingStarted time.Time
	LastError        string

	AudioDevice  string
	AudioEnabled bool
	MicMuted     bool
	MicGainDB    int

	Overlays Overlays
	Limits   Limits
}

// Format returns the active output format preset. Index and derived fields
// (extension, codec) always change together because both live behind the
// single FormatIndex committed under the state lock.
func (s Snapshot) Format() FormatPreset {
	idx := s.FormatIndex
	if idx < 0 || idx >= len(Formats) {
		idx = 0
	}
	return Formats[idx]
}

// ClipName returns the file name the next recording will use,
// e.g. CLIP_20260827_0042.mov.
func (s Snapshot) ClipName() string {
	return s.ClipNameAt(time.Now())
}

// ClipNameAt is ClipName with an injectable clock for tests.
func (s Snapshot) ClipNameAt(now time.Time) string {
	return fmt.Sprintf("CLIP_%s_%04d.%s", now.Format("20060102"), s.ClipCounter, s.Format().Ext)
}

// Timecode renders elapsed recording time as HH:MM:SS:FF at the current fps.
func (s Snapshot) Timecode(now time.Time) string {
	if !s.Recording || s.RecordingStarted.IsZero() {
		return "00:00:00:00"
	}
	elapsed := now.Sub(s.RecordingStarted)
	h := int(elapsed.Hours())
	m := int(elapsed.Minutes()) % 60
	sec := int(elapsed.Seconds()) % 60
	fps := s.FPS
	if fps < 1 {
		fps = 1
	}
	frames := int(elapsed.Seconds()*float64(fps)) % fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, sec, frames)
}

// ShutterAngle converts the exposure value to an approximate shutter angle
// at the current fps. exposure_time_absolute is in 100µs units on UVC cams.
func (s Snapshot) ShutterAngle() float64 {
	expSec := float64(s.Exposure) / 10000.0
	angle := expSec * float64(s.FPS) * 360
	if angle > 360 {
		return 360
	}
	if angle < 1 {
		return 1
	}
	return angle
}

// FocusPercent maps the focus position into 0–100 of the device range.
func (s Snapshot) FocusPercent() int {
	span := s.Limits.FocusMax - s.Limits.FocusMin
	if span <= 0 {
		return 0
	}
	return (s.Focus - s.Limits.FocusMin) * 100 / span
}

package camera

import (
	"sync"
	"time"
)

// State is the single shared mutable camera model. One RWMutex guards the
// whole snapshot: every Get returns a consistent copy and every Update is
// indivisible with respect to other callers, so composite reads (format +
// extension, storage inputs, HUD summary) never observe a half-applied
// mutation. There is deliberately no per-field locking.
//
// The lock is held only for the duration of a single Get/Update. Callers
// that perform I/O or spawn processes must take a snapshot, release the
// lock (implicitly, by Update returning) and then act on the copy.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState constructs the shared state from an initial snapshot, clamping
// it into the declared limits. Consumers receive the *State handle
// explicitly at construction; there is no package-level instance.
func NewState(initial Snapshot) *State {
	clamp(&initial)
	return &State{snap: initial}
}

// Get returns a consistent copy of the current state.
func (s *State) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update applies fn to a copy of the state under the lock, clamps the
// result into the device limits and commits it. The committed snapshot is
// returned. Updates are linearizable: each one observes the result of all
// previously committed updates.
func (s *State) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap
	fn(&next)
	clamp(&next)

	// The clip counter never moves backwards, regardless of what a
	// mutator (or a stale loaded config) tries to write.
	if next.ClipCounter < s.snap.ClipCounter {
		next.ClipCounter = s.snap.ClipCounter
	}

	s.snap = next
	return next
}

// NextClipNumber allocates the next clip number. The counter is consumed at
// allocation time, so a recording that fails to launch or gets force-killed
// still used up its number.
func (s *State) NextClipNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.snap.ClipCounter
	s.snap.ClipCounter++
	return n
}

// AdjustExposure nudges exposure by delta steps, clamped to the device range.
func (s *State) AdjustExposure(delta int) Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.Exposure += delta * snap.Limits.ExposureStep
	})
}

// AdjustGain nudges gain by delta steps, clamped to the device range.
func (s *State) AdjustGain(delta int) Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.Gain += delta * snap.Limits.GainStep
	})
}

// AdjustWhiteBalance nudges the white balance temperature by delta steps.
func (s *State) AdjustWhiteBalance(delta int) Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.WhiteBalanceK += delta * snap.Limits.WhiteBalanceStep
	})
}

// AdjustFocus nudges the manual focus position. It is a no-op while
// autofocus is active.
func (s *State) AdjustFocus(delta int, fine bool) Snapshot {
	return s.Update(func(snap *Snapshot) {
		if snap.AutoFocus {
			return
		}
		step := snap.Limits.FocusStepCoarse
		if fine {
			step = snap.Limits.FocusStepFine
		}
		snap.Focus += delta * step
	})
}

// AdjustMicGain nudges the software mic gain in dB steps.
func (s *State) AdjustMicGain(delta int) Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.MicGainDB += delta * snap.Limits.MicGainStepDB
	})
}

// CycleFormat advances to the next output format preset, wrapping around.
// The preset index and everything derived from it (extension, codec)
// change in the same commit.
func (s *State) CycleFormat() Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.FormatIndex = (snap.FormatIndex + 1) % len(Formats)
	})
}

// ToggleAutoExposure flips auto exposure.
func (s *State) ToggleAutoExposure() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.AutoExposure = !snap.AutoExposure })
}

// ToggleAutoWhiteBalance flips auto white balance.
func (s *State) ToggleAutoWhiteBalance() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.AutoWhiteBalance = !snap.AutoWhiteBalance })
}

// ToggleAutoFocus flips autofocus.
func (s *State) ToggleAutoFocus() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.AutoFocus = !snap.AutoFocus })
}

// ToggleMicMute flips the mic mute flag.
func (s *State) ToggleMicMute() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.MicMuted = !snap.MicMuted })
}

// ToggleGuides flips the rule-of-thirds overlay.
func (s *State) ToggleGuides() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.Overlays.Guides = !snap.Overlays.Guides })
}

// TogglePeaking flips the focus peaking overlay.
func (s *State) TogglePeaking() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.Overlays.Peaking = !snap.Overlays.Peaking })
}

// ToggleHistogram flips the luma histogram overlay.
func (s *State) ToggleHistogram() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.Overlays.Histogram = !snap.Overlays.Histogram })
}

// ToggleHUD flips the status text overlay.
func (s *State) ToggleHUD() Snapshot {
	return s.Update(func(snap *Snapshot) { snap.Overlays.HUD = !snap.Overlays.HUD })
}

// SetRecording marks the recording flag and its start time. Only the
// recording supervisor calls this; the process handle itself never lives
// on the state.
func (s *State) SetRecording(active bool, startedAt time.Time) Snapshot {
	return s.Update(func(snap *Snapshot) {
		snap.Recording = active
		if active {
			snap.RecordingStarted = startedAt
		} else {
			snap.RecordingStarted = time.Time{}
		}
	})
}

// SetError publishes a status message for the UIs to render. An empty
// string clears it.
func (s *State) SetError(msg string) Snapshot {
	return s.Update(func(snap *Snapshot) { snap.LastError = msg })
}

// SetFocusRange installs a device-reported focus range and re-clamps the
// current position into it.
func (s *State) SetFocusRange(min, max int) Snapshot {
	return s.Update(func(snap *Snapshot) {
		if max > min {
			snap.Limits.FocusMin = min
			snap.Limits.FocusMax = max
		}
	})
}

func clamp(s *Snapshot) {
	l := s.Limits
	s.Exposure = clampInt(s.Exposure, l.ExposureMin, l.ExposureMax)
	s.Gain = clampInt(s.Gain, l.GainMin, l.GainMax)
	s.WhiteBalanceK = clampInt(s.WhiteBalanceK, l.WhiteBalanceMin, l.WhiteBalanceMax)
	s.Focus = clampInt(s.Focus, l.FocusMin, l.FocusMax)
	s.MicGainDB = clampInt(s.MicGainDB, l.MicGainMinDB, l.MicGainMaxDB)
	if s.FormatIndex < 0 || s.FormatIndex >= len(Formats) {
		_, s.FormatIndex = FormatByKey(DefaultFormatKey)
	}
	if s.ClipCounter < 1 {
		s.ClipCounter = 1
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

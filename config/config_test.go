package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func storeAt(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "config.json"), nil)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	s := storeAt(t)

	got := s.Load(Overrides{})

	def := DefaultSettings()
	if got.Device != def.Device || got.OutputFormat != def.OutputFormat || got.FPS != def.FPS {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	s := storeAt(t)

	want := DefaultSettings()
	want.Exposure = 312
	want.Gain = 250
	want.OutputFormat = "prores_hq"
	want.ClipCounter = 17
	want.MicMuted = true
	want.Overlays.Peaking = true

	if err := s.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got := s.Load(Overrides{})
	if got != want {
		t.Errorf("roundtrip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSave_OwnerOnlyPermissions(t *testing.T) {
	s := storeAt(t)

	if err := s.Save(DefaultSettings()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.json"), nil)

	if err := s.Save(DefaultSettings()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "config.json" {
		t.Errorf("expected only config.json in %s, got %v", dir, entries)
	}
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "nested", "deeper", "config.json"), nil)

	if err := s.Save(DefaultSettings()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("config file missing: %v", err)
	}
}

func TestLoad_SurvivesCrashLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.json"), nil)

	want := DefaultSettings()
	want.Gain = 250
	want.ClipCounter = 7
	if err := s.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// A crash between the temp write and the rename leaves a stray temp
	// file next to the real one. It must neither shadow the saved config
	// nor break the next load.
	stray := filepath.Join(dir, ".config-1234567.json")
	if err := os.WriteFile(stray, []byte(`{"gain": 999999}`), 0600); err != nil {
		t.Fatal(err)
	}

	got := s.Load(Overrides{})
	if got.Gain != 250 || got.ClipCounter != 7 {
		t.Errorf("saved settings lost: gain=%d counter=%d", got.Gain, got.ClipCounter)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("config file unreadable after simulated crash: %v", err)
	}
	var onDisk Settings
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("config file corrupt after simulated crash: %v", err)
	}
	if onDisk.Gain != 250 {
		t.Errorf("previous config file was disturbed: %+v", onDisk)
	}
}

func TestLoad_CorruptFileReturnsDefaults(t *testing.T) {
	s := storeAt(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	got := s.Load(Overrides{})

	if got.Device != DefaultSettings().Device {
		t.Errorf("expected defaults after corrupt file, got %+v", got)
	}
}

func TestLoad_SanitizesBadFields(t *testing.T) {
	s := storeAt(t)

	bad := DefaultSettings()
	bad.Resolution = "640x480"
	bad.FPS = 144
	bad.OutputFormat = "divx"
	bad.ClipCounter = -3
	bad.StopTimeoutSeconds = 0
	bad.Exposure = 312 // valid, must survive
	if err := s.Save(bad); err != nil {
		t.Fatal(err)
	}

	got := s.Load(Overrides{})
	def := DefaultSettings()

	if got.Resolution != def.Resolution {
		t.Errorf("expected default resolution, got %s", got.Resolution)
	}
	if got.FPS != def.FPS {
		t.Errorf("expected default fps, got %d", got.FPS)
	}
	if got.OutputFormat != def.OutputFormat {
		t.Errorf("expected default format, got %s", got.OutputFormat)
	}
	if got.ClipCounter != def.ClipCounter {
		t.Errorf("expected default clip counter, got %d", got.ClipCounter)
	}
	if got.StopTimeoutSeconds != def.StopTimeoutSeconds {
		t.Errorf("expected default stop timeout, got %d", got.StopTimeoutSeconds)
	}
	if got.Exposure != 312 {
		t.Errorf("valid field was not preserved, got exposure %d", got.Exposure)
	}
}

func TestLoad_PartialDocumentFillsDefaults(t *testing.T) {
	s := storeAt(t)

	partial := map[string]any{"exposure": 500, "output_format": "h265"}
	data, _ := json.Marshal(partial)
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		t.Fatal(err)
	}

	got := s.Load(Overrides{})

	if got.Exposure != 500 || got.OutputFormat != "h265" {
		t.Errorf("explicit fields lost: %+v", got)
	}
	if got.Device != DefaultSettings().Device || got.StopTimeoutSeconds != 10 {
		t.Errorf("missing fields not defaulted: %+v", got)
	}
}

func TestLoad_AppliesOverrides(t *testing.T) {
	s := storeAt(t)
	if err := s.Save(DefaultSettings()); err != nil {
		t.Fatal(err)
	}

	dev := "/dev/video2"
	format := "prores_lt"
	badFPS := 99
	got := s.Load(Overrides{
		Device:       &dev,
		OutputFormat: &format,
		FPS:          &badFPS,
		AudioOff:     true,
	})

	if got.Device != dev {
		t.Errorf("device override not applied: %s", got.Device)
	}
	if got.OutputFormat != format {
		t.Errorf("format override not applied: %s", got.OutputFormat)
	}
	if got.FPS != DefaultSettings().FPS {
		t.Errorf("invalid fps override should be ignored, got %d", got.FPS)
	}
	if got.AudioEnabled {
		t.Error("audio-off override not applied")
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	settings := DefaultSettings()
	settings.OutputFormat = "prores_hq"
	settings.AudioDevice = "hw:2,0"
	settings.ClipCounter = 9

	snap := ToSnapshot(settings)
	if snap.Format().Key != "prores_hq" {
		t.Errorf("format key not mapped to index, got %s", snap.Format().Key)
	}
	if !snap.AudioEnabled {
		t.Error("audio should be enabled when a device is set")
	}

	snap.Exposure = 777
	back := FromSnapshot(snap, settings)
	if back.Exposure != 777 || back.OutputFormat != "prores_hq" || back.ClipCounter != 9 {
		t.Errorf("snapshot conversion lost fields: %+v", back)
	}
	if back.StopTimeoutSeconds != settings.StopTimeoutSeconds {
		t.Error("runtime-only fields must carry over from previous settings")
	}
}

func TestToSnapshot_NoAudioDeviceDisablesAudio(t *testing.T) {
	settings := DefaultSettings()
	settings.AudioEnabled = true
	settings.AudioDevice = ""

	if ToSnapshot(settings).AudioEnabled {
		t.Error("audio must be disabled without a capture device")
	}
}

package storage

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
)

func fixedStatfs(existing map[string]uint64) StatfsFunc {
	return func(path string, buf *unix.Statfs_t) error {
		free, ok := existing[path]
		if !ok {
			return unix.ENOENT
		}
		buf.Bsize = 4096
		buf.Bavail = free / 4096
		return nil
	}
}

func preset(mbps int) camera.FormatPreset {
	return camera.FormatPreset{Key: "test", BitrateMbps: mbps}
}

const gb = uint64(1024 * 1024 * 1024)

func TestEstimate_KnownBitrate(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd/footage": 100 * gb,
	}))

	est := e.Estimate("/media/ssd/footage", preset(50), "3840x2160")

	if !est.DurationKnown {
		t.Fatal("expected known duration")
	}
	if est.FreeBytes != 100*gb {
		t.Errorf("expected %d free bytes, got %d", 100*gb, est.FreeBytes)
	}
	// 100GB * 8000 / 50Mbps = 16000s = 266 minutes
	if est.Minutes != 266 {
		t.Errorf("expected 266 minutes, got %d", est.Minutes)
	}
}

func TestEstimate_ResolutionScaling(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd": 100 * gb,
	}))

	uhd := e.Estimate("/media/ssd", preset(60), "3840x2160")
	fhd := e.Estimate("/media/ssd", preset(60), "1920x1080")
	hd := e.Estimate("/media/ssd", preset(60), "1280x720")

	if fhd.Minutes != uhd.Minutes*2 {
		t.Errorf("expected 1080p to double 4K minutes: %d vs %d", fhd.Minutes, uhd.Minutes)
	}
	if hd.Minutes != uhd.Minutes*3 {
		t.Errorf("expected 720p to triple 4K minutes: %d vs %d", hd.Minutes, uhd.Minutes)
	}
}

func TestEstimate_MissingDirWalksToAncestor(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd": 10 * gb,
	}))

	est := e.Estimate("/media/ssd/footage/2026-08-27", preset(50), "3840x2160")

	if est.FreeBytes != 10*gb {
		t.Errorf("expected ancestor free space, got %d", est.FreeBytes)
	}
}

func TestEstimate_NoAncestorExists(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(nil))

	est := e.Estimate("/nowhere/at/all", preset(50), "3840x2160")

	if est.FreeBytes != 0 || est.Minutes != 0 || est.DurationKnown {
		t.Errorf("expected zero estimate, got %+v", est)
	}
}

func TestEstimate_UnknownBitrate(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd": 10 * gb,
	}))

	est := e.Estimate("/media/ssd", preset(0), "3840x2160")

	if est.DurationKnown {
		t.Error("expected unknown duration for zero bitrate")
	}
	if est.FreeBytes != 10*gb {
		t.Errorf("free bytes should still be reported, got %d", est.FreeBytes)
	}
}

func TestEstimate_TinyDisk(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd": 2 * gb,
	}))

	// 2GB * 8000 / 220Mbps = 72s -> 1 minute
	est := e.Estimate("/media/ssd", preset(220), "3840x2160")
	if est.Minutes != 1 {
		t.Errorf("expected 1 minute on a 2GB disk at 220Mbps, got %d", est.Minutes)
	}
}

func TestEstimate_LowBitrateNeverScalesToUnknown(t *testing.T) {
	e := NewEstimatorWithStatfs(fixedStatfs(map[string]uint64{
		"/media/ssd": 10 * gb,
	}))

	// 2Mbps / 3 floors to 0; the estimate must clamp to 1Mbps instead of
	// reporting an unknown duration.
	est := e.Estimate("/media/ssd", preset(2), "1280x720")

	if !est.DurationKnown {
		t.Fatal("known bitrate must stay known after resolution scaling")
	}
	// 10GB * 8000 / 1Mbps = 80000s = 1333 minutes
	if est.Minutes != 1333 {
		t.Errorf("expected 1333 minutes at the 1Mbps floor, got %d", est.Minutes)
	}
}

func TestParentDir(t *testing.T) {
	cases := map[string]string{
		"/a/b/c": "/a/b",
		"/a":     "/",
		"/":      "/",
		"a/b":    "a",
		"a":      ".",
		".":      ".",
	}
	for in, want := range cases {
		if got := parentDir(in); got != want {
			t.Errorf("parentDir(%q) = %q, want %q", in, got, want)
		}
	}
}

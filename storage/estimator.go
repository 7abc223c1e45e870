// Package storage estimates remaining recording time on the clip
// destination filesystem.
package storage

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
)

// StatfsFunc matches unix.Statfs. Tests inject their own.
type StatfsFunc func(path string, buf *unix.Statfs_t) error

// Estimate is the result of one free-space query.
type Estimate struct {
	// FreeBytes is the space available to unprivileged writers.
	FreeBytes uint64
	// Minutes of recording left at the queried format and resolution.
	Minutes int
	// DurationKnown is false when the format carries no bitrate estimate;
	// FreeBytes is still valid then.
	DurationKnown bool
}

// Estimator converts free disk space into recording minutes.
type Estimator struct {
	statfs StatfsFunc
}

// NewEstimator builds an estimator backed by the real statfs syscall.
func NewEstimator() *Estimator {
	return &Estimator{statfs: unix.Statfs}
}

// NewEstimatorWithStatfs builds an estimator with an injected statfs, for
// tests.
func NewEstimatorWithStatfs(statfs StatfsFunc) *Estimator {
	return &Estimator{statfs: statfs}
}

// Estimate queries free space for dir and converts it to minutes at the
// format's bitrate, scaled for resolution. The recording may be about to
// create dir, so a missing path falls back to the nearest existing
// ancestor; only when no ancestor can be statted does the estimate come
// back zero.
func (e *Estimator) Estimate(dir string, format camera.FormatPreset, resolution string) Estimate {
	free, ok := e.freeBytes(dir)
	if !ok {
		return Estimate{}
	}

	est := Estimate{FreeBytes: free}

	mbps := scaledBitrate(format.BitrateMbps, resolution)
	if mbps <= 0 {
		return est
	}

	freeGB := float64(free) / (1024 * 1024 * 1024)
	seconds := freeGB * 8000 / float64(mbps)
	est.Minutes = int(seconds / 60)
	est.DurationKnown = true
	return est
}

func (e *Estimator) freeBytes(dir string) (uint64, bool) {
	path := dir
	for {
		var st unix.Statfs_t
		if err := e.statfs(path, &st); err == nil {
			return st.Bavail * uint64(st.Bsize), true
		}
		parent := parentDir(path)
		if parent == path {
			return 0, false
		}
		path = parent
	}
}

// parentDir is filepath.Dir without cleaning, kept separate so the walk
// terminates at "/" and at relative roots.
func parentDir(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	i := strings.LastIndexByte(path, '/')
	switch {
	case i < 0:
		return "."
	case i == 0:
		return "/"
	default:
		return path[:i]
	}
}

// scaledBitrate adjusts the 4K preset bitrate for smaller frame sizes.
// The divisors track the original pixel-count ratio, rounded to whole
// numbers the presets were tuned with. A known bitrate never scales below
// 1 Mbps, or integer division would turn it into "unknown".
func scaledBitrate(mbps int, resolution string) int {
	scaled := mbps
	switch resolution {
	case "1280x720":
		scaled = mbps / 3
	case "1920x1080":
		scaled = mbps / 2
	}
	if mbps > 0 && scaled < 1 {
		scaled = 1
	}
	return scaled
}

// Package audio finds the camera's ALSA capture device.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/common"
)

// cardLine matches arecord -l output, e.g.
// "card 2: Meet2 [OBSBOT Meet 2], device 0: USB Audio [USB Audio]".
var cardLine = regexp.MustCompile(`^card (\d+): \S+ \[([^\]]+)\], device (\d+):`)

// Detect runs `arecord -l` and returns the ALSA device string (hw:X,Y) of
// the camera microphone. It prefers an OBSBOT card and falls back to the
// first USB capture device. Empty string means no usable device; recording
// then runs video-only.
func Detect(ctx context.Context, logger common.Logger) string {
	if logger == nil {
		logger = common.NopLogger
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "arecord", "-l").Output()
	if err != nil {
		logger.Warn("Failed to list ALSA capture devices", "error", err)
		return ""
	}

	device := parseCaptureDevices(string(out))
	if device == "" {
		logger.Warn("No camera microphone found, recording video-only")
	} else {
		logger.Info("Audio capture device detected", "device", device)
	}
	return device
}

func parseCaptureDevices(out string) string {
	var firstUSB string
	for _, line := range strings.Split(out, "\n") {
		m := cardLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		device := fmt.Sprintf("hw:%s,%s", m[1], m[3])
		name := strings.ToLower(m[2])
		if strings.Contains(name, "obsbot") {
			return device
		}
		if firstUSB == "" && strings.Contains(strings.ToLower(line), "usb") {
			firstUSB = device
		}
	}
	return firstUSB
}

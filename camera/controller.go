package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/common"
)

// Controller pushes control values to the capture device. Implementations
// must be safe for concurrent use; the state itself is never touched here.
type Controller interface {
	// Apply pushes every control in the snapshot to the device.
	Apply(ctx context.Context, snap Snapshot) error
	// SetControl sets a single named control.
	SetControl(ctx context.Context, name string, value int) error
	// GetControl reads back a single named control.
	GetControl(ctx context.Context, name string) (int, error)
	// DetectFocusRange queries the device for its focus min/max. ok is
	// false when the device does not expose a focus control.
	DetectFocusRange(ctx context.Context) (min, max int, ok bool)
}

// V4L2Controller drives a UVC camera through the v4l2-ctl command line
// tool. Each call spawns a short-lived process; there is no persistent
// device handle to contend with the capture or recording pipelines.
type V4L2Controller struct {
	device string
	logger common.Logger
}

// NewV4L2Controller creates a controller for the given video device node,
// e.g. /dev/video0.
func NewV4L2Controller(device string, logger common.Logger) *V4L2Controller {
	if logger == nil {
		logger = common.NopLogger
	}
	return &V4L2Controller{device: device, logger: logger}
}

const controlTimeout = 2 * time.Second

// UVC control names as v4l2-ctl reports them for the OBSBOT Meet 2.
const (
	ctrlAutoExposure  = "auto_exposure"
	ctrlExposureTime  = "exposure_time_absolute"
	ctrlGain          = "gain"
	ctrlAutoWhiteBal  = "white_balance_automatic"
	ctrlWhiteBalTemp  = "white_balance_temperature"
	ctrlFocusAuto     = "focus_automatic_continuous"
	ctrlFocusAbsolute = "focus_absolute"
)

// Auto exposure menu values per the UVC spec: 1 is manual, 3 is aperture
// priority (the closest thing UVC cams have to full auto).
const (
	aeManual = 1
	aeAuto   = 3
)

// Apply pushes the full control set. Auto toggles go first so the device
// accepts the manual values that follow; per-control failures are logged
// and skipped because a camera that rejects one control (missing focus
// motor, fixed gain) should not lose the rest.
func (c *V4L2Controller) Apply(ctx context.Context, snap Snapshot) error {
	type control struct {
		name  string
		value int
	}

	controls := []control{}
	if snap.AutoExposure {
		controls = append(controls, control{ctrlAutoExposure, aeAuto})
	} else {
		controls = append(controls,
			control{ctrlAutoExposure, aeManual},
			control{ctrlExposureTime, snap.Exposure},
			control{ctrlGain, snap.Gain},
		)
	}
	if snap.AutoWhiteBalance {
		controls = append(controls, control{ctrlAutoWhiteBal, 1})
	} else {
		controls = append(controls,
			control{ctrlAutoWhiteBal, 0},
			control{ctrlWhiteBalTemp, snap.WhiteBalanceK},
		)
	}
	if snap.AutoFocus {
		controls = append(controls, control{ctrlFocusAuto, 1})
	} else {
		controls = append(controls,
			control{ctrlFocusAuto, 0},
			control{ctrlFocusAbsolute, snap.Focus},
		)
	}

	var firstErr error
	for _, ctl := range controls {
		if err := c.SetControl(ctx, ctl.name, ctl.value); err != nil {
			c.logger.Warn("Failed to set camera control", "control", ctl.name, "value", ctl.value, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetControl sets one control via v4l2-ctl --set-ctrl.
func (c *V4L2Controller) SetControl(ctx context.Context, name string, value int) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "-d", c.device,
		"--set-ctrl", fmt.Sprintf("%s=%d", name, value))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("v4l2-ctl set %s=%d on %s: %w (%s)", name, value, c.device, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// GetControl reads one control via v4l2-ctl --get-ctrl. Output looks like
// "exposure_time_absolute: 156".
func (c *V4L2Controller) GetControl(ctx context.Context, name string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "-d", c.device, "--get-ctrl", name)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("v4l2-ctl get %s on %s: %w", name, c.device, err)
	}
	return parseControlValue(string(out))
}

// DetectFocusRange parses the focus_absolute line of --list-ctrls, which
// carries "min=0 max=255 step=1" tokens.
func (c *V4L2Controller) DetectFocusRange(ctx context.Context) (int, int, bool) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "-d", c.device, "--list-ctrls")
	out, err := cmd.Output()
	if err != nil {
		c.logger.Warn("Failed to list camera controls", "device", c.device, "error", err)
		return 0, 0, false
	}
	return parseFocusRange(string(out))
}

func parseControlValue(out string) (int, error) {
	_, after, found := strings.Cut(out, ":")
	if !found {
		return 0, fmt.Errorf("unexpected v4l2-ctl output %q", strings.TrimSpace(out))
	}
	v, err := strconv.Atoi(strings.TrimSpace(after))
	if err != nil {
		return 0, fmt.Errorf("unexpected v4l2-ctl output %q: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}

func parseFocusRange(out string) (int, int, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, ctrlFocusAbsolute) {
			continue
		}
		min, minOK := parseTokenValue(line, "min=")
		max, maxOK := parseTokenValue(line, "max=")
		if minOK && maxOK && max > min {
			return min, max, true
		}
	}
	return 0, 0, false
}

func parseTokenValue(line, prefix string) (int, bool) {
	for _, tok := range strings.Fields(line) {
		if strings.HasPrefix(tok, prefix) {
			v, err := strconv.Atoi(strings.TrimPrefix(tok, prefix))
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}

// Package capture is the preview-path boundary to the video device. The
// recording path never goes through here; ffmpeg opens the device itself.
package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/frames"
)

// Source is a frame producer over an exclusive device handle. Exactly one
// goroutine may hold an acquired source; Acquire/Release bracket the
// device ownership so the preview loop can hand the camera to the encoder
// and take it back.
type Source interface {
	// Acquire opens the device. Returns an error if it is busy or gone.
	Acquire() error
	// Release closes the device. Safe to call when not acquired.
	Release()
	// Read grabs the next frame. ok is false on a read failure or when
	// the source is not acquired.
	Read() (frames.Frame, bool)
}

// GoCVSource implements Source with an OpenCV VideoCapture handle.
type GoCVSource struct {
	device     string
	resolution string
	fps        int
	logger     common.Logger

	webcam *gocv.VideoCapture
	img    gocv.Mat
	width  int
	height int
}

// NewGoCVSource creates a source for the given device node at the given
// mode. Nothing is opened until Acquire.
func NewGoCVSource(device, resolution string, fps int, logger common.Logger) *GoCVSource {
	if logger == nil {
		logger = common.NopLogger
	}
	return &GoCVSource{
		device:     device,
		resolution: resolution,
		fps:        fps,
		logger:     logger,
	}
}

// Acquire opens the device and configures MJPG at the requested mode. The
// first frames after opening carry stale exposure, so a short warmup read
// burns them off.
func (s *GoCVSource) Acquire() error {
	if s.webcam != nil {
		return nil
	}

	webcam, err := gocv.OpenVideoCapture(deviceID(s.device))
	if err != nil {
		return fmt.Errorf("failed to open capture device %s: %w", s.device, err)
	}

	width, height := parseResolution(s.resolution)
	webcam.Set(gocv.VideoCaptureFOURCC, webcam.ToCodec("MJPG"))
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	webcam.Set(gocv.VideoCaptureFPS, float64(s.fps))
	// Keep the driver queue at one frame so reads always see the newest
	// image instead of a backlog.
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	s.webcam = webcam
	s.img = gocv.NewMat()
	s.width = int(webcam.Get(gocv.VideoCaptureFrameWidth))
	s.height = int(webcam.Get(gocv.VideoCaptureFrameHeight))

	for i := 0; i < 3; i++ {
		s.webcam.Read(&s.img)
	}

	s.logger.Info("Capture device acquired",
		"device", s.device, "width", s.width, "height", s.height, "fps", s.fps)
	return nil
}

// Release closes the device handle.
func (s *GoCVSource) Release() {
	if s.webcam == nil {
		return
	}
	s.webcam.Close()
	s.img.Close()
	s.webcam = nil
	s.logger.Info("Capture device released", "device", s.device)
}

// Read grabs one frame as packed BGR bytes.
func (s *GoCVSource) Read() (frames.Frame, bool) {
	if s.webcam == nil {
		return frames.Frame{}, false
	}
	if ok := s.webcam.Read(&s.img); !ok || s.img.Empty() {
		return frames.Frame{}, false
	}

	data := s.img.ToBytes()
	// ToBytes returns a view into the Mat; copy before the next Read
	// overwrites it.
	buf := make([]byte, len(data))
	copy(buf, data)

	return frames.Frame{
		Data:   buf,
		Width:  s.img.Cols(),
		Height: s.img.Rows(),
		Taken:  time.Now(),
	}, true
}

// deviceID maps "/dev/videoN" (or a bare number) to the OpenCV device
// index.
func deviceID(device string) int {
	if n, err := strconv.Atoi(device); err == nil {
		return n
	}
	if rest, ok := strings.CutPrefix(device, "/dev/video"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return n
		}
	}
	return 0
}

func parseResolution(res string) (int, int) {
	w, h, ok := strings.Cut(res, "x")
	if !ok {
		return 1920, 1080
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 1920, 1080
	}
	return width, height
}

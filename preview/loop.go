// Package preview runs the frame producer: it owns the capture device
// whenever the encoder doesn't, and feeds the relay the UIs draw from.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/capture"
	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/frames"
)

// maxReadFailures is how many consecutive bad reads we tolerate before
// reopening the device.
const maxReadFailures = 5

// reopenBackoff paces device reopen attempts after a failure.
const reopenBackoff = 2 * time.Second

// Loop is the preview producer. While a recording is active it releases
// the device (ffmpeg needs exclusive access) and keeps republishing the
// last live frame tagged stale, so consumers still have something to draw.
type Loop struct {
	state         *camera.State
	relay         *frames.Relay
	source        capture.Source
	encoderActive func() bool
	logger        common.Logger

	mu        sync.Mutex
	releasedC chan struct{} // closed whenever the loop does not hold the device

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewLoop wires the producer. encoderActive reports whether the encoder
// wants or owns the device right now; any non-idle recording phase counts.
func NewLoop(state *camera.State, relay *frames.Relay, source capture.Source, encoderActive func() bool, logger common.Logger) *Loop {
	if logger == nil {
		logger = common.NopLogger
	}
	released := make(chan struct{})
	close(released)
	return &Loop{
		state:         state,
		relay:         relay,
		source:        source,
		encoderActive: encoderActive,
		logger:        logger,
		releasedC:     released,
		stop:          make(chan struct{}),
	}
}

// Yield blocks until the loop has released the capture device, so an
// encoder launched afterwards cannot race it for the camera. Returns
// immediately when the device is not held. The caller must already have
// made encoderActive report true, or the loop will just reacquire.
func (l *Loop) Yield(ctx context.Context) error {
	l.mu.Lock()
	released := l.releasedC
	l.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markHeld and release keep releasedC in step with device ownership. Only
// the run goroutine acquires; anyone may wait on Yield.
func (l *Loop) markHeld() {
	l.mu.Lock()
	l.releasedC = make(chan struct{})
	l.mu.Unlock()
}

func (l *Loop) release() {
	l.source.Release()
	l.mu.Lock()
	select {
	case <-l.releasedC:
	default:
		close(l.releasedC)
	}
	l.mu.Unlock()
}

// Start launches the producer goroutine.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop shuts the producer down and releases the device. Blocks until the
// goroutine has exited; safe to call more than once.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	defer l.release()

	fps := l.state.Get().FPS
	if fps < 1 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)

	acquired := false
	failures := 0
	var last frames.Frame

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if l.encoderActive() {
			if acquired {
				l.release()
				acquired = false
				l.logger.Info("Preview yielded capture device to encoder")
			}
			if last.Data != nil {
				stale := last
				stale.Stale = true
				l.relay.Publish(stale)
			}
			if !l.sleep(200 * time.Millisecond) {
				return
			}
			continue
		}

		if !acquired {
			if err := l.source.Acquire(); err != nil {
				l.logger.Warn("Failed to acquire capture device", "error", err)
				if !l.sleep(reopenBackoff) {
					return
				}
				continue
			}
			acquired = true
			failures = 0
			l.markHeld()
		}

		frame, ok := l.source.Read()
		if !ok {
			failures++
			if failures >= maxReadFailures {
				l.logger.Warn("Capture device stopped delivering frames, reopening",
					"failures", failures)
				l.release()
				acquired = false
				failures = 0
				if !l.sleep(reopenBackoff) {
					return
				}
			}
			continue
		}

		failures = 0
		last = frame
		l.relay.Publish(frame)

		if !l.sleep(interval) {
			return
		}
	}
}

// sleep waits d or until Stop; false means the loop must exit.
func (l *Loop) sleep(d time.Duration) bool {
	select {
	case <-l.stop:
		return false
	case <-time.After(d):
		return true
	}
}

package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/frames"
	"github.com/vaultkeeperirl-design/PiCAM/recording"
	"github.com/vaultkeeperirl-design/PiCAM/storage"
)

// estimateInterval paces the free-space query; statfs is cheap but there
// is no point hammering it at frame rate.
const estimateInterval = 2 * time.Second

// RecordControl is the slice of the recording supervisor the panel needs.
type RecordControl interface {
	Recording() bool
	Status() recording.Status
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
}

// Loop polls input, applies events and renders. One goroutine: Start/Stop
// with a stop channel and a WaitGroup.
type Loop struct {
	state      *camera.State
	relay      *frames.Relay
	input      Input
	display    Display
	controller camera.Controller
	supervisor RecordControl
	estimator  *storage.Estimator
	logger     common.Logger

	// OnQuit, when set before Start, is called once when the quit key is
	// pressed.
	OnQuit func()

	page     Page
	lastSeq  uint64
	quitSent bool

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewLoop wires the panel consumer. controller and estimator may be nil
// in reduced setups; events needing them are then ignored.
func NewLoop(state *camera.State, relay *frames.Relay, input Input, display Display,
	controller camera.Controller, supervisor RecordControl,
	estimator *storage.Estimator, logger common.Logger) *Loop {
	if logger == nil {
		logger = common.NopLogger
	}
	return &Loop{
		state:      state,
		relay:      relay,
		input:      input,
		display:    display,
		controller: controller,
		supervisor: supervisor,
		estimator:  estimator,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop shuts the loop down. Blocks until the goroutine exits.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var estimate storage.Estimate
	var lastEstimate time.Time

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		for {
			event, ok := l.input.Poll()
			if !ok {
				break
			}
			l.handle(event)
		}

		snap := l.state.Get()
		if l.estimator != nil && time.Since(lastEstimate) > estimateInterval {
			estimate = l.estimator.Estimate(snap.OutputDir, snap.Format(), snap.Resolution)
			lastEstimate = time.Now()
		}

		view := View{
			Snapshot: snap,
			Page:     l.page,
			Phase:    l.supervisor.Status().Phase,
			Timecode: snap.Timecode(time.Now()),
			Estimate: estimate,
		}
		if frame, ok := l.relay.ReadIfNew(l.lastSeq); ok {
			l.lastSeq = frame.Seq
			view.Frame = frame
			view.HasFrame = true
		} else if frame, ok := l.relay.Latest(); ok {
			view.Frame = frame
			view.HasFrame = true
		}

		if err := l.display.Render(view); err != nil {
			l.logger.Warn("Panel render failed", "error", err)
		}
	}
}

func (l *Loop) handle(event Event) {
	switch event {
	case EventRecordToggle:
		l.toggleRecord()
		return
	case EventNextPage:
		l.page = (l.page + 1) % pageCount
		return
	case EventPrevPage:
		l.page = (l.page + pageCount - 1) % pageCount
		return
	case EventToggleGuides:
		l.state.ToggleGuides()
		return
	case EventTogglePeaking:
		l.state.TogglePeaking()
		return
	case EventToggleHistogram:
		l.state.ToggleHistogram()
		return
	case EventToggleHUD:
		l.state.ToggleHUD()
		return
	case EventQuit:
		if l.OnQuit != nil && !l.quitSent {
			l.quitSent = true
			l.OnQuit()
		}
		return
	case EventNone:
		return
	}

	snap := l.applyPageEvent(event)
	if l.controller != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := l.controller.Apply(ctx, snap); err != nil {
			l.logger.Warn("Failed to push controls to device", "error", err)
		}
		cancel()
	}
}

// applyPageEvent maps up/down/auto onto the parameter the current page
// edits and returns the committed snapshot.
func (l *Loop) applyPageEvent(event Event) camera.Snapshot {
	delta := 0
	fine := false
	switch event {
	case EventUp:
		delta = 1
	case EventDown:
		delta = -1
	case EventFineUp:
		delta, fine = 1, true
	case EventFineDown:
		delta, fine = -1, true
	}

	switch l.page {
	case PageExposure:
		if event == EventToggleAuto {
			return l.state.ToggleAutoExposure()
		}
		return l.state.AdjustExposure(delta)
	case PageGain:
		return l.state.AdjustGain(delta)
	case PageWhiteBalance:
		if event == EventToggleAuto {
			return l.state.ToggleAutoWhiteBalance()
		}
		return l.state.AdjustWhiteBalance(delta)
	case PageFocus:
		if event == EventToggleAuto {
			return l.state.ToggleAutoFocus()
		}
		return l.state.AdjustFocus(delta, fine)
	case PageFormat:
		if delta > 0 {
			return l.state.CycleFormat()
		}
		return l.state.Get()
	case PageAudio:
		if event == EventToggleAuto {
			return l.state.ToggleMicMute()
		}
		return l.state.AdjustMicGain(delta)
	}
	return l.state.Get()
}

func (l *Loop) toggleRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if l.supervisor.Recording() {
		if err := l.supervisor.Stop(ctx); err != nil && !errors.Is(err, recording.ErrNotRecording) {
			l.logger.Error("Failed to stop recording", "error", err)
		}
		return
	}
	if _, err := l.supervisor.Start(ctx); err != nil && !errors.Is(err, recording.ErrAlreadyRecording) {
		l.logger.Error("Failed to start recording", "error", err)
	}
}

// Package panel drives the on-camera control surface: a small display and
// a handful of buttons. The loop here is a pure consumer — it renders
// relay frames and turns button events into state changes, but never
// opens the capture device itself.
package panel

import (
	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/frames"
	"github.com/vaultkeeperirl-design/PiCAM/recording"
	"github.com/vaultkeeperirl-design/PiCAM/storage"
)

// Event is one decoded input action.
type Event int

const (
	EventNone Event = iota
	// EventRecordToggle starts or stops a recording.
	EventRecordToggle
	// EventNextPage and EventPrevPage move between parameter pages.
	EventNextPage
	EventPrevPage
	// EventUp / EventDown nudge the active page's parameter. EventFineUp
	// and EventFineDown use the fine step where the page has one.
	EventUp
	EventDown
	EventFineUp
	EventFineDown
	// EventToggleAuto flips the active page's auto mode.
	EventToggleAuto
	// Overlay toggles work from any page.
	EventToggleGuides
	EventTogglePeaking
	EventToggleHistogram
	EventToggleHUD
	// EventQuit asks the application to shut down.
	EventQuit
)

// Page selects which parameter the up/down keys edit.
type Page int

const (
	PageExposure Page = iota
	PageGain
	PageWhiteBalance
	PageFocus
	PageFormat
	PageAudio
)

var pageNames = map[Page]string{
	PageExposure:     "EXPOSURE",
	PageGain:         "GAIN",
	PageWhiteBalance: "WB",
	PageFocus:        "FOCUS",
	PageFormat:       "FORMAT",
	PageAudio:        "AUDIO",
}

const pageCount = 6

// Name returns the short label shown in the page corner.
func (p Page) Name() string {
	if name, ok := pageNames[p]; ok {
		return name
	}
	return "?"
}

// View is everything the display needs to draw one screen.
type View struct {
	Frame    frames.Frame
	HasFrame bool

	Snapshot camera.Snapshot
	Page     Page
	Phase    recording.Phase
	Timecode string
	Estimate storage.Estimate
}

// Input delivers decoded button events. Poll must not block.
type Input interface {
	Poll() (Event, bool)
	Close() error
}

// Display renders views. Implementations own their own framebuffer or
// SPI transfer details.
type Display interface {
	Render(view View) error
	Close() error
}

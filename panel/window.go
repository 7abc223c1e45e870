package panel

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/vaultkeeperirl-design/PiCAM/recording"
)

// Window is a gocv-backed panel: the preview window doubles as the input
// surface, with OpenCV's key polling standing in for HAT buttons. It
// implements both Display and Input and must stay on one goroutine, which
// the panel loop guarantees.
type Window struct {
	win *gocv.Window
}

// NewWindow opens the panel window.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Key bindings, chosen to work on a bare keyboard next to the rig.
const (
	keyRecord    = ' '
	keyNextPage  = ']'
	keyPrevPage  = '['
	keyUp        = '+'
	keyUpAlt     = '='
	keyDown      = '-'
	keyFineUp    = '.'
	keyFineDown  = ','
	keyAuto      = 'a'
	keyGuides    = 'g'
	keyPeaking   = 'p'
	keyHistogram = 'h'
	keyHUD       = 'o'
	keyQuit      = 'q'
)

// Poll maps the last pressed key to an event.
func (w *Window) Poll() (Event, bool) {
	switch w.win.WaitKey(1) {
	case keyRecord:
		return EventRecordToggle, true
	case keyNextPage:
		return EventNextPage, true
	case keyPrevPage:
		return EventPrevPage, true
	case keyUp, keyUpAlt:
		return EventUp, true
	case keyDown:
		return EventDown, true
	case keyFineUp:
		return EventFineUp, true
	case keyFineDown:
		return EventFineDown, true
	case keyAuto:
		return EventToggleAuto, true
	case keyGuides:
		return EventToggleGuides, true
	case keyPeaking:
		return EventTogglePeaking, true
	case keyHistogram:
		return EventToggleHistogram, true
	case keyHUD:
		return EventToggleHUD, true
	case keyQuit:
		return EventQuit, true
	default:
		return EventNone, false
	}
}

// Render draws the frame (or a black placeholder) plus the overlays.
func (w *Window) Render(view View) error {
	var canvas gocv.Mat
	var err error
	if view.HasFrame && len(view.Frame.Data) > 0 {
		canvas, err = gocv.NewMatFromBytes(view.Frame.Height, view.Frame.Width,
			gocv.MatTypeCV8UC3, view.Frame.Data)
		if err != nil {
			return fmt.Errorf("failed to wrap frame: %w", err)
		}
	} else {
		canvas = gocv.NewMatWithSize(360, 640, gocv.MatTypeCV8UC3)
	}
	defer canvas.Close()

	if view.Snapshot.Overlays.Guides {
		drawGuides(&canvas)
	}
	if view.Snapshot.Overlays.Peaking && view.HasFrame {
		drawPeaking(&canvas)
	}
	if view.Snapshot.Overlays.Histogram && view.HasFrame {
		drawHistogram(&canvas)
	}
	if view.Snapshot.Overlays.HUD {
		drawHUD(&canvas, view)
	}

	w.win.IMShow(canvas)
	return nil
}

// Close releases the window.
func (w *Window) Close() error {
	return w.win.Close()
}

var (
	hudColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	recColor   = color.RGBA{R: 255, A: 0}
	guideColor = color.RGBA{R: 128, G: 128, B: 128, A: 0}
	peakColor  = color.RGBA{R: 255, G: 64, A: 0}
	staleColor = color.RGBA{R: 255, G: 200, A: 0}
)

// drawGuides paints rule-of-thirds lines.
func drawGuides(canvas *gocv.Mat) {
	w, h := canvas.Cols(), canvas.Rows()
	for i := 1; i <= 2; i++ {
		gocv.Line(canvas, image.Pt(w*i/3, 0), image.Pt(w*i/3, h), guideColor, 1)
		gocv.Line(canvas, image.Pt(0, h*i/3), image.Pt(w, h*i/3), guideColor, 1)
	}
}

// drawPeaking highlights in-focus edges.
func drawPeaking(canvas *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	edges := gocv.NewMat()
	defer edges.Close()

	gocv.CvtColor(*canvas, &gray, gocv.ColorBGRToGray)
	gocv.Canny(gray, &edges, 80, 160)

	highlight := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(peakColor.B), float64(peakColor.G), float64(peakColor.R), 0),
		canvas.Rows(), canvas.Cols(), gocv.MatTypeCV8UC3)
	defer highlight.Close()
	highlight.CopyToWithMask(canvas, edges)
}

// drawHistogram paints a luma histogram in the lower right corner.
func drawHistogram(canvas *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*canvas, &gray, gocv.ColorBGRToGray)

	const bins = 32
	var counts [bins]int
	for _, v := range gray.ToBytes() {
		counts[int(v)*bins/256]++
	}
	peak := 1
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}

	const boxW, boxH = 128, 48
	x0 := canvas.Cols() - boxW - 10
	y0 := canvas.Rows() - boxH - 10
	gocv.Rectangle(canvas, image.Rect(x0, y0, x0+boxW, y0+boxH), guideColor, 1)

	barW := boxW / bins
	for i, c := range counts {
		barH := c * boxH / peak
		if barH == 0 {
			continue
		}
		x := x0 + i*barW
		gocv.Rectangle(canvas, image.Rect(x, y0+boxH-barH, x+barW, y0+boxH), hudColor, -1)
	}
}

// drawHUD paints the status lines the camera operator works from.
func drawHUD(canvas *gocv.Mat, view View) {
	snap := view.Snapshot
	format := snap.Format()

	top := fmt.Sprintf("%s  %s %dfps  %s", view.Page.Name(), snap.Resolution, snap.FPS, format.Label)
	gocv.PutText(canvas, top, image.Pt(10, 25), gocv.FontHersheySimplex, 0.6, hudColor, 2)

	exposure := fmt.Sprintf("EXP %d (%.0fdeg)  GAIN %d  WB %dK  FOCUS %d%%",
		snap.Exposure, snap.ShutterAngle(), snap.Gain, snap.WhiteBalanceK, snap.FocusPercent())
	gocv.PutText(canvas, exposure, image.Pt(10, 50), gocv.FontHersheySimplex, 0.5, hudColor, 1)

	status := fmt.Sprintf("%s  clip %04d", view.Timecode, snap.ClipCounter)
	if view.Estimate.DurationKnown {
		status += fmt.Sprintf("  %dmin left", view.Estimate.Minutes)
	}
	gocv.PutText(canvas, status, image.Pt(10, 75), gocv.FontHersheySimplex, 0.5, hudColor, 1)

	if view.Phase == recording.PhaseRecording || view.Phase == recording.PhaseStopping {
		gocv.Circle(canvas, image.Pt(canvas.Cols()-30, 25), 10, recColor, -1)
	}
	if view.Frame.Stale {
		gocv.PutText(canvas, "ENCODER HAS CAMERA", image.Pt(10, canvas.Rows()-15),
			gocv.FontHersheySimplex, 0.5, staleColor, 1)
	}
	if snap.LastError != "" {
		gocv.PutText(canvas, snap.LastError, image.Pt(10, canvas.Rows()-40),
			gocv.FontHersheySimplex, 0.5, recColor, 1)
	}
}

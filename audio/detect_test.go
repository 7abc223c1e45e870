package audio

import "testing"

const arecordOutput = `**** List of CAPTURE Hardware Devices ****
card 0: Headphones [bcm2835 Headphones], device 0: bcm2835 Headphones [bcm2835 Headphones]
  Subdevices: 8/8
  Subdevice #0: subdevice #0
card 1: Webcam [Generic USB Webcam], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 2: Meet2 [OBSBOT Meet 2], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`

func TestParseCaptureDevices_PrefersOBSBOT(t *testing.T) {
	if got := parseCaptureDevices(arecordOutput); got != "hw:2,0" {
		t.Errorf("expected hw:2,0, got %q", got)
	}
}

func TestParseCaptureDevices_FallsBackToUSB(t *testing.T) {
	out := `**** List of CAPTURE Hardware Devices ****
card 0: Headphones [bcm2835 Headphones], device 0: bcm2835 Headphones [bcm2835 Headphones]
card 3: Mic [Blue Snowball], device 0: USB Audio [USB Audio]
`
	if got := parseCaptureDevices(out); got != "hw:3,0" {
		t.Errorf("expected hw:3,0, got %q", got)
	}
}

func TestParseCaptureDevices_NoneFound(t *testing.T) {
	out := `**** List of CAPTURE Hardware Devices ****
card 0: Headphones [bcm2835 Headphones], device 0: bcm2835 Headphones [bcm2835 Headphones]
`
	if got := parseCaptureDevices(out); got != "" {
		t.Errorf("expected empty device, got %q", got)
	}
}

func TestParseCaptureDevices_EmptyOutput(t *testing.T) {
	if got := parseCaptureDevices(""); got != "" {
		t.Errorf("expected empty device, got %q", got)
	}
}

// Package recording owns the external ffmpeg encoder process: building
// its command line, supervising its lifecycle and cataloguing the clip it
// leaves behind.
package recording

import (
	"fmt"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
)

// BuildArgs assembles the ffmpeg argument list for one recording, from the
// camera snapshot taken at start time. The process binary itself ("ffmpeg")
// is not included.
func BuildArgs(snap camera.Snapshot, outPath string) []string {
	format := snap.Format()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		// Video input: the camera delivers MJPEG at 4K, raw YUYV tops
		// out far below 30fps over USB.
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-framerate", fmt.Sprintf("%d", snap.FPS),
		"-video_size", snap.Resolution,
		"-i", snap.Device,
	}

	audio := snap.AudioEnabled && snap.AudioDevice != ""
	if audio {
		args = append(args,
			"-f", "alsa",
			"-channels", "2",
			"-sample_rate", "48000",
			"-thread_queue_size", "1024",
			"-i", snap.AudioDevice,
		)
	}

	args = append(args, "-c:v", format.VideoCodec)
	args = append(args, format.VideoParams...)

	// Tag the stream as Rec.709 so editors grade it correctly.
	args = append(args,
		"-color_primaries", "bt709",
		"-color_trc", "bt709",
		"-colorspace", "bt709",
	)

	if audio {
		args = append(args, "-c:a", format.AudioCodec)
		if format.AudioBitrate != "" {
			args = append(args, "-b:a", format.AudioBitrate)
		}
		if filter := audioFilter(snap); filter != "" {
			args = append(args, "-af", filter)
		}
	} else {
		args = append(args, "-an")
	}

	args = append(args, format.ContainerFlags...)
	args = append(args,
		"-metadata", fmt.Sprintf("title=Clip %04d", snap.ClipCounter),
		"-y", outPath,
	)
	return args
}

// audioFilter renders the software gain/mute chain. Muting keeps the audio
// track in the container (silent) so the editor timeline layout stays the
// same across clips.
func audioFilter(snap camera.Snapshot) string {
	if snap.MicMuted {
		return "volume=0"
	}
	if snap.MicGainDB != 0 {
		return fmt.Sprintf("volume=%ddB", snap.MicGainDB)
	}
	return ""
}

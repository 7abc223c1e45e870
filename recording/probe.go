package recording

import (
	"fmt"
	"strconv"

	"github.com/xfrr/goffmpeg/transcoder"
)

// ProbeResult describes a finished clip container.
type ProbeResult struct {
	DurationSeconds float64
	VideoCodec      string
}

// Prober validates a clip file after the encoder exits. The ffmpeg-backed
// implementation is the default; tests substitute their own.
type Prober interface {
	Probe(path string) (ProbeResult, error)
}

// FFmpegProber probes clip containers through goffmpeg.
type FFmpegProber struct{}

// NewFFmpegProber returns the default prober.
func NewFFmpegProber() *FFmpegProber {
	return &FFmpegProber{}
}

// Probe reads the container metadata. A clip cut short by a forced kill
// typically has a missing or unparsable duration; that surfaces as an
// error so the caller can mark the catalog row truncated.
func (p *FFmpegProber) Probe(path string) (ProbeResult, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to probe clip %s: %w", path, err)
	}

	metadata := trans.MediaFile().Metadata()

	duration, err := strconv.ParseFloat(metadata.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return ProbeResult{}, fmt.Errorf("clip %s has no usable duration (%q)", path, metadata.Format.Duration)
	}

	result := ProbeResult{DurationSeconds: duration}
	for _, stream := range metadata.Streams {
		if stream.CodecType == "video" {
			result.VideoCodec = stream.CodecName
			break
		}
	}
	return result, nil
}

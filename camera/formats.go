package camera

// FormatPreset is an immutable output format recipe. One instance exists per
// entry in Formats; presets are never mutated at runtime.
//
// Pi 5 note: H.264/H.265 encoding is software-only (no HW encoder for
// arbitrary V4L2 input). At 4K these codecs push the CPU hard — drop to
// 1080p if frames are dropped. ProRes is I-frame only and encodes easily.
type FormatPreset struct {
	Key             string   // stable identifier, persisted in config
	Label           string   // human-readable name for UIs
	Ext             string   // container extension without dot
	Note            string   // display-only description, e.g. "~220Mbps · max quality"
	BitrateMbps     int      // estimated video bitrate at 4K; 0 means unknown
	SoftwareEncoded bool     // true when the codec runs on the CPU (4K warning)
	VideoCodec      string   // ffmpeg -vcodec value
	VideoParams     []string // codec-specific ffmpeg args
	AudioCodec      string   // ffmpeg -acodec value
	AudioBitrate    string   // e.g. "256k"; empty for PCM (no bitrate flag)
	ContainerFlags  []string // e.g. -movflags +faststart
}

// Formats is the fixed ordered preset set. Order matters: CycleFormat walks
// it and config persists the Key, not the index.
var Formats = []FormatPreset{
	{
		Key:             "h264_high",
		Label:           "H.264 High",
		Ext:             "mp4",
		Note:            "~50Mbps · Filmora ★",
		BitrateMbps:     50,
		SoftwareEncoded: true,
		VideoCodec:      "libx264",
		VideoParams:     []string{"-crf", "18", "-preset", "faster", "-pix_fmt", "yuv420p"},
		AudioCodec:      "aac",
		AudioBitrate:    "256k",
		ContainerFlags:  []string{"-movflags", "+faststart"},
	},
	{
		Key:             "h264_std",
		Label:           "H.264 Std",
		Ext:             "mp4",
		Note:            "~20Mbps · smaller files",
		BitrateMbps:     20,
		SoftwareEncoded: true,
		VideoCodec:      "libx264",
		VideoParams:     []string{"-crf", "23", "-preset", "faster", "-pix_fmt", "yuv420p"},
		AudioCodec:      "aac",
		AudioBitrate:    "192k",
		ContainerFlags:  []string{"-movflags", "+faststart"},
	},
	{
		Key:             "h265",
		Label:           "H.265 / HEVC",
		Ext:             "mp4",
		Note:            "~25Mbps · efficient 4K",
		BitrateMbps:     25,
		SoftwareEncoded: true,
		VideoCodec:      "libx265",
		VideoParams:     []string{"-crf", "20", "-preset", "faster", "-pix_fmt", "yuv420p"},
		AudioCodec:      "aac",
		AudioBitrate:    "256k",
		ContainerFlags:  []string{"-movflags", "+faststart"},
	},
	{
		Key:             "mkv_h264",
		Label:           "MKV H.264",
		Ext:             "mkv",
		Note:            "~50Mbps · flexible container",
		BitrateMbps:     50,
		SoftwareEncoded: true,
		VideoCodec:      "libx264",
		VideoParams:     []string{"-crf", "18", "-preset", "faster", "-pix_fmt", "yuv420p"},
		AudioCodec:      "aac",
		AudioBitrate:    "256k",
	},
	{
		Key:            "prores_hq",
		Label:          "ProRes HQ",
		Ext:            "mov",
		Note:           "~220Mbps · max quality",
		BitrateMbps:    220,
		VideoCodec:     "prores_ks",
		VideoParams:    []string{"-profile:v", "3", "-vendor", "ap10", "-pix_fmt", "yuv422p10le"},
		AudioCodec:     "pcm_s24le",
		ContainerFlags: []string{"-movflags", "+faststart"},
	},
	{
		Key:            "prores_lt",
		Label:          "ProRes LT",
		Ext:            "mov",
		Note:           "~100Mbps · edit-ready",
		BitrateMbps:    100,
		VideoCodec:     "prores_ks",
		VideoParams:    []string{"-profile:v", "1", "-vendor", "ap10", "-pix_fmt", "yuv422p10le"},
		AudioCodec:     "pcm_s24le",
		ContainerFlags: []string{"-movflags", "+faststart"},
	},
	{
		Key:            "prores_proxy",
		Label:          "ProRes Proxy",
		Ext:            "mov",
		Note:           "~40Mbps · offline / rough cut",
		BitrateMbps:    40,
		VideoCodec:     "prores_ks",
		VideoParams:    []string{"-profile:v", "0", "-vendor", "ap10", "-pix_fmt", "yuv422p10le"},
		AudioCodec:     "pcm_s24le",
		ContainerFlags: []string{"-movflags", "+faststart"},
	},
}

// DefaultFormatKey is h264_high — best out-of-the-box editing compatibility.
const DefaultFormatKey = "h264_high"

// FormatByKey returns the preset with the given key and its index.
// Unknown keys fall back to the default preset.
func FormatByKey(key string) (FormatPreset, int) {
	for i, f := range Formats {
		if f.Key == key {
			return f, i
		}
	}
	def, i := defaultFormat()
	return def, i
}

func defaultFormat() (FormatPreset, int) {
	for i, f := range Formats {
		if f.Key == DefaultFormatKey {
			return f, i
		}
	}
	return Formats[0], 0
}

// Resolutions supported by the capture pipeline.
var Resolutions = []string{"3840x2160", "1920x1080", "1280x720"}

// FrameRates supported by the capture pipeline.
var FrameRates = []int{24, 25, 30}

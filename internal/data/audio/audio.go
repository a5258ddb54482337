package audio

const (
	SampleRate    = 16000
	Channels      = 1
	FrameDuration = 20
	Format        = "opus"
)

// OutputSampleRate is the synthesis-side sample rate.
const OutputSampleRate = 24000

type AudioFormat struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// DefaultInputFormat is the capture format expected from the room.
func DefaultInputFormat() AudioFormat {
	return AudioFormat{
		Format:        Format,
		SampleRate:    SampleRate,
		Channels:      Channels,
		FrameDuration: FrameDuration,
	}
}

// DefaultOutputFormat is the playback format published into the room.
func DefaultOutputFormat() AudioFormat {
	return AudioFormat{
		Format:        Format,
		SampleRate:    OutputSampleRate,
		Channels:      Channels,
		FrameDuration: FrameDuration,
	}
}

// PcmFrameSize returns sample count for one frame in the given format.
func PcmFrameSize(sampleRate, channels, frameDuration int) int {
	return sampleRate * channels * frameDuration / 1000
}

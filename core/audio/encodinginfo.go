package audio

// Wire format of the realtime protocol: 16-bit signed PCM, mono, 24 kHz.
const (
	WireSampleRate = 24000
	WireChannels   = 1
	WireFormat     = EncodingLinear16

	DefaultSampleRate = 48000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Channels: 1, Format: encodingFormat(DefaultFormat)}
}

// WireEncodingInfo describes the audio carried by append and delta events.
func WireEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: WireSampleRate, Channels: WireChannels, Format: WireFormat}
}

type EncodingInfo struct {
	SampleRate int
	// Channels is the interleaved channel count, zero is read as mono.
	Channels int
	Format   encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) ChannelCount() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// FrameSize is the byte size of one sample across all channels.
func (e EncodingInfo) FrameSize() int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return -1
	}
	return size * e.ChannelCount()
}

func (e EncodingInfo) IsWire() bool {
	return e.SampleRate == WireSampleRate && e.ChannelCount() == WireChannels && e.Format == WireFormat
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingLinear16:
		return 2
	case EncodingFloat32:
		return 4
	}
	return -1
}

const (
	EncodingLinear16 encodingFormat = "linear16"
	EncodingFloat32  encodingFormat = "float32"
)

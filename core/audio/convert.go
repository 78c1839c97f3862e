package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ToWire converts a native frame into wire PCM (16-bit, mono, 24 kHz).
func ToWire(frame []byte, from EncodingInfo) ([]byte, error) {
	if from.IsWire() {
		if len(frame)%2 != 0 {
			return nil, fmt.Errorf("%w: odd wire frame length %d", ErrAudioConversion, len(frame))
		}
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}

	samples, err := decodeMono(frame, from)
	if err != nil {
		return nil, err
	}

	return encodeLinear16(Resample(samples, from.SampleRate, WireSampleRate)), nil
}

// FromWire converts wire PCM into the given device format, duplicating the
// mono signal across every output channel.
func FromWire(pcm []byte, to EncodingInfo) ([]byte, error) {
	if to.IsWire() {
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("%w: odd wire buffer length %d", ErrAudioConversion, len(pcm))
		}
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	samples, err := decodeMono(pcm, WireEncodingInfo())
	if err != nil {
		return nil, err
	}
	if to.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid output sample rate %d", ErrAudioConversion, to.SampleRate)
	}

	resampled := Resample(samples, WireSampleRate, to.SampleRate)
	channels := to.ChannelCount()

	switch to.Format {
	case EncodingLinear16:
		out := make([]byte, len(resampled)*2*channels)
		for i, sample := range resampled {
			value := uint16(floatToInt16(sample))
			for c := range channels {
				binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], value)
			}
		}
		return out, nil
	case EncodingFloat32:
		out := make([]byte, len(resampled)*4*channels)
		for i, sample := range resampled {
			bits := math.Float32bits(sample)
			for c := range channels {
				binary.LittleEndian.PutUint32(out[(i*channels+c)*4:], bits)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unsupported output format %q", ErrAudioConversion, to.Format)
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}

	out := make([]float32, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// Volume returns the RMS level of wire PCM normalized to 0..1.
func Volume(pcm []byte) float64 {
	count := len(pcm) / 2
	if count == 0 {
		return 0
	}

	var sum float64
	for i := range count {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += sample * sample
	}

	return math.Min(1, math.Sqrt(sum/float64(count)))
}

// SampleCount returns the number of per-channel samples in buffer.
func SampleCount(buffer []byte, info EncodingInfo) int {
	frameSize := info.FrameSize()
	if frameSize <= 0 {
		return 0
	}
	return len(buffer) / frameSize
}

func Duration(buffer []byte, info EncodingInfo) time.Duration {
	if info.SampleRate <= 0 {
		return 0
	}
	return time.Duration(SampleCount(buffer, info)) * time.Second / time.Duration(info.SampleRate)
}

func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func DecodeBase64(payload string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudioConversion, err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd wire buffer length %d", ErrAudioConversion, len(pcm))
	}
	return pcm, nil
}

// decodeMono reads interleaved frames and averages channels into mono floats
// in the -1..1 range.
func decodeMono(buffer []byte, info EncodingInfo) ([]float32, error) {
	if info.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrAudioConversion, info.SampleRate)
	}
	frameSize := info.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrAudioConversion, info.Format)
	}
	if len(buffer)%frameSize != 0 {
		return nil, fmt.Errorf("%w: buffer length %d is not a multiple of frame size %d", ErrAudioConversion, len(buffer), frameSize)
	}

	channels := info.ChannelCount()
	sampleSize := info.Format.ByteSize()
	out := make([]float32, len(buffer)/frameSize)
	for i := range out {
		var sum float32
		for c := range channels {
			offset := i*frameSize + c*sampleSize
			switch info.Format {
			case EncodingLinear16:
				sum += float32(int16(binary.LittleEndian.Uint16(buffer[offset:]))) / 32768
			case EncodingFloat32:
				sum += math.Float32frombits(binary.LittleEndian.Uint32(buffer[offset:]))
			}
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

func encodeLinear16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(sample)))
	}
	return out
}

func floatToInt16(sample float32) int16 {
	switch {
	case sample >= 1:
		return math.MaxInt16
	case sample <= -1:
		return math.MinInt16
	}
	return int16(sample * 32767)
}

// Package audio implements the Decoder: turning a WAV or MP3 file on disk
// into a mono float32 PCM buffer at the file's native sample rate.
//
// Channel reduction always selects channel 0, not the arithmetic mean, to
// match the reference design bit-for-bit (spec.md §9 "Channel reduction").
// Sample values keep their native integer PCM magnitude; they are not
// normalized to [-1, 1], since every downstream DSP stage is scale
// insensitive after the dB transform (spec.md §4.1).
package audio

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"
)

// Buffer is a decoded mono sample stream, carrying the rate it was decoded
// at purely for display purposes; all DSP downstream operates against a
// single configured rate (Settings.Fs), not this one.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Seconds returns the buffer's length in seconds at its native rate.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Supported reports whether path has a decodable extension (.wav or .mp3).
// Unsupported extensions are rejected by the Library before Decode is ever
// called (spec.md §4.1): Decode itself also rejects them defensively.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3":
		return true
	default:
		return false
	}
}

// Decode reads path fully into memory and returns a mono PCM buffer.
// It fails when the file cannot be opened, has an unsupported extension, or
// yields zero decoded frames.
func Decode(path string) (Buffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	default:
		return Buffer{}, errors.Errorf("unsupported audio extension: %s", filepath.Ext(path))
	}
}

func decodeWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, errors.Wrapf(err, "opening wav file %q", path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Buffer{}, errors.Errorf("%q is not a valid WAV file", path)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, errors.Wrapf(err, "reading PCM data from %q", path)
	}

	channels := pcm.Format.NumChannels
	if channels <= 0 || len(pcm.Data) == 0 {
		return Buffer{}, errors.Errorf("%q contains zero frames", path)
	}

	return Buffer{
		Samples:    selectChannelZero(pcm.Data, channels),
		SampleRate: pcm.Format.SampleRate,
	}, nil
}

// go-mp3 always decodes to interleaved little-endian 16-bit stereo PCM,
// regardless of the source file's true channel count.
const mp3BytesPerFrame = 4

func decodeMP3(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, errors.Wrapf(err, "opening mp3 file %q", path)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return Buffer{}, errors.Wrapf(err, "decoding mp3 header for %q", path)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return Buffer{}, errors.Wrapf(err, "reading mp3 stream %q", path)
	}
	if len(raw) < mp3BytesPerFrame {
		return Buffer{}, errors.Errorf("%q contains zero frames", path)
	}

	nFrames := len(raw) / mp3BytesPerFrame
	samples := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		lo := uint16(raw[i*mp3BytesPerFrame])
		hi := uint16(raw[i*mp3BytesPerFrame+1])
		samples[i] = float32(int16(lo | hi<<8))
	}

	return Buffer{Samples: samples, SampleRate: dec.SampleRate()}, nil
}

// selectChannelZero extracts channel 0 from interleaved multi-channel PCM
// data, per spec.md §9: a deliberate choice, not an average across channels.
func selectChannelZero(data []int, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out
	}

	nFrames := len(data) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		out[i] = float32(data[i*channels])
	}
	return out
}

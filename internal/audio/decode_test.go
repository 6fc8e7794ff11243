package audio

import (
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, sampleRate, numChans int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, numChans, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: numChans, SampleRate: sampleRate},
		Data:   data,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestDecodeWAVMono(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono.wav")

	data := []int{10, 20, 30, 40, 50}
	writeTestWAV(t, path, 22050, 1, data)

	buf, err := Decode(path)
	require.NoError(t, err)
	require.Equal(t, 22050, buf.SampleRate)
	require.Len(t, buf.Samples, len(data))
	for i, v := range data {
		require.Equal(t, float32(v), buf.Samples[i])
	}
}

func TestDecodeWAVSelectsChannelZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")

	// Interleaved stereo: left channel is 1,2,3; right channel is -1,-2,-3.
	data := []int{1, -1, 2, -2, 3, -3}
	writeTestWAV(t, path, 44100, 2, data)

	buf, err := Decode(path)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, buf.Samples)
}

func TestDecodeUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0644))

	_, err := Decode(path)
	require.Error(t, err)
}

func TestDecodeMissingFile(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}

func TestSupported(t *testing.T) {
	require.True(t, Supported("song.wav"))
	require.True(t, Supported("song.MP3"))
	require.False(t, Supported("song.flac"))
}

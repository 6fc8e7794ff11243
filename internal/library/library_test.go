package library

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"

	"github.com/kpcftsz/samplefinder/internal/audio"
	"github.com/kpcftsz/samplefinder/internal/config"
	"github.com/kpcftsz/samplefinder/internal/dsp"
	"github.com/kpcftsz/samplefinder/internal/fingerprint"
)

func writeSineWAV(t *testing.T, path string, sampleRate int, freq float64, n int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   data,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func testSettings() config.Settings {
	s := config.Defaults()
	s.DefaultWindowSize = 512
	s.DefaultOverlapRatio = 0.5
	s.Fs = 8000
	s.PeakNeighborhoodSize = 3
	s.DefaultAmpMin = -80
	s.DefaultFanValue = 5
	s.MinHashTimeDelta = 0
	s.MaxHashTimeDelta = 200
	s.FingerprintReduction = 20
	s.DemoteSongs = false
	s.Topn = 10
	return s
}

func TestLoadSkipsExcludedAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeSineWAV(t, filepath.Join(dir, "keep.wav"), 8000, 440, 4096)
	writeSineWAV(t, filepath.Join(dir, "skip_me.wav"), 8000, 440, 4096)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not audio"), 0644))

	lib := New(dir, testSettings(), []string{"skip_"})
	require.NoError(t, <-lib.Load(context.Background()))

	require.Equal(t, 1, lib.Len())
	require.Equal(t, "keep.wav", lib.Entries()[0].Path)
}

func TestLoadProcessSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeSineWAV(t, filepath.Join(dir, "a.wav"), 8000, 440, 8192)
	writeSineWAV(t, filepath.Join(dir, "b.wav"), 8000, 880, 8192)

	settings := testSettings()

	lib := New(dir, settings, nil)
	require.NoError(t, <-lib.Load(context.Background()))
	require.Equal(t, 2, lib.Len())
	require.NoError(t, <-lib.Process(context.Background(), false))

	for _, e := range lib.Entries() {
		require.True(t, e.Processed)
		require.NotNil(t, e.Fingerprint)
		require.Nil(t, e.Samples)
	}

	require.NoError(t, lib.Save())
	require.FileExists(t, filepath.Join(dir, "library.kpsf"))

	reloaded := New(dir, settings, nil)
	require.NoError(t, <-reloaded.Load(context.Background()))
	require.Equal(t, 2, reloaded.Len())
	for _, e := range reloaded.Entries() {
		require.True(t, e.Processed)
		require.NotNil(t, e.Fingerprint)
		require.Greater(t, e.Fingerprint.Len(), 0)
	}

	// A second Load must not duplicate entries already covered by the cache.
	require.NoError(t, <-reloaded.Load(context.Background()))
	require.Equal(t, 2, reloaded.Len())
}

func TestTestSongMatchesCorrectTrack(t *testing.T) {
	dir := t.TempDir()
	writeSineWAV(t, filepath.Join(dir, "a.wav"), 8000, 440, 8192)
	writeSineWAV(t, filepath.Join(dir, "b.wav"), 8000, 880, 8192)

	settings := testSettings()

	lib := New(dir, settings, nil)
	require.NoError(t, <-lib.Load(context.Background()))
	require.NoError(t, <-lib.Process(context.Background(), false))

	// Decode and fingerprint "a.wav" again as an incoming query, as if the
	// matcher were handed a standalone sample clipped from the library.
	queryDir := t.TempDir()
	queryPath := filepath.Join(queryDir, "query_a.wav")
	writeSineWAV(t, queryPath, 8000, 440, 8192)

	buf, err := audio.Decode(queryPath)
	require.NoError(t, err)

	spectrogram, err := dsp.Compute(buf.Samples, settings.DefaultWindowSize, settings.DefaultOverlapRatio, settings.Fs)
	require.NoError(t, err)
	peaks := dsp.PickPeaks(spectrogram, settings.PeakNeighborhoodSize, settings.DefaultAmpMin)
	query := fingerprint.Build(0, peaks, settings.DefaultFanValue, settings.MinHashTimeDelta, settings.MaxHashTimeDelta, settings.FingerprintReduction)

	matches := lib.TestSong(queryPath, query)
	require.NotEmpty(t, matches)
	require.Equal(t, "a.wav", matches[0].Path)
}

func TestLoadAndProcessReturnImmediatelyAndReportProgress(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeSineWAV(t, filepath.Join(dir, fmt.Sprintf("t%d.wav", i)), 8000, 440, 8192)
	}

	lib := New(dir, testSettings(), nil)

	loadDone := lib.Load(context.Background())
	_, _, loading := lib.Progress()
	require.True(t, loading)
	require.NoError(t, <-loadDone)
	_, _, loading = lib.Progress()
	require.False(t, loading)
	require.Equal(t, 5, lib.Len())

	processDone := lib.Process(context.Background(), false)
	_, _, processing := lib.ProcessProgress()
	require.True(t, processing)
	require.NoError(t, <-processDone)
	done, total, processing := lib.ProcessProgress()
	require.False(t, processing)
	require.Equal(t, 5, total)
	require.Equal(t, 5, done)
}

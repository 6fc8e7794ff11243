// Command samplefinder is the CLI front-end over the library/matcher
// pipeline: build and persist a fingerprint cache for a directory of audio
// files, then test a standalone sample against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/kpcftsz/samplefinder/internal/audio"
	"github.com/kpcftsz/samplefinder/internal/config"
	"github.com/kpcftsz/samplefinder/internal/dsp"
	"github.com/kpcftsz/samplefinder/internal/fingerprint"
	"github.com/kpcftsz/samplefinder/internal/library"
	"github.com/kpcftsz/samplefinder/internal/logging"
)

// progressPollInterval is how often the CLI samples Library.Progress()/
// ProcessProgress() while Load/Process run in the background.
const progressPollInterval = 150 * time.Millisecond

func main() {
	libraryPath := flag.String("library", "", "Path to the audio library directory")
	configPath := flag.String("config", "", "Path to a YAML settings file (defaults are used if empty)")
	processCmd := flag.Bool("process", false, "Fingerprint every unprocessed track and save the cache")
	forceCmd := flag.Bool("force", false, "Re-fingerprint already-processed tracks with -process")
	queryPath := flag.String("query", "", "Path to a standalone audio file to test against the library")
	listCmd := flag.Bool("list", false, "List every track currently tracked in the library")
	flag.Parse()

	defer logging.Sync()

	if *libraryPath == "" {
		logging.Error(errors.New("missing -library"))
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Error(errors.Wrap(err, "loading configuration"))
		os.Exit(1)
	}

	lib := library.New(*libraryPath, cfg.Settings, []string{"library.kpsf"})

	ctx := context.Background()
	logging.Info("loading library", "path", *libraryPath)
	loadBar := progressbar.Default(-1, "loading")
	loadDone := lib.Load(ctx)
	if err := trackProgress(loadDone, loadBar, lib.Progress); err != nil {
		logging.Error(errors.Wrap(err, "loading library"))
		os.Exit(1)
	}

	if *listCmd {
		for _, e := range lib.Entries() {
			status := "unprocessed"
			if e.Processed {
				status = "processed"
			}
			fmt.Printf("%d\t%s\t%.2fs\t%s\n", e.ID, e.Path, e.LengthSeconds, status)
		}
	}

	if *processCmd {
		logging.Info("processing library", "tracks", lib.Len())
		processBar := progressbar.Default(int64(lib.Len()), "fingerprinting")
		processDone := lib.Process(ctx, *forceCmd)
		if err := trackProgress(processDone, processBar, lib.ProcessProgress); err != nil {
			logging.Error(errors.Wrap(err, "processing library"))
			os.Exit(1)
		}

		if err := lib.Save(); err != nil {
			logging.Error(errors.Wrap(err, "saving cache"))
			os.Exit(1)
		}
		logging.Info("cache saved", "path", filepath.Join(*libraryPath, "library.kpsf"))
	}

	if *queryPath != "" {
		runQuery(lib, cfg.Settings, *queryPath)
	}
}

// trackProgress polls poll() on a ticker to drive bar incrementally while
// waiting for done to deliver the background worker's final error.
func trackProgress(done <-chan error, bar *progressbar.ProgressBar, poll func() (int, int, bool)) error {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			n, _, _ := poll()
			_ = bar.Set(n)
			return err
		case <-ticker.C:
			n, _, _ := poll()
			_ = bar.Set(n)
		}
	}
}

func runQuery(lib *library.Library, settings config.Settings, queryPath string) {
	buf, err := audio.Decode(queryPath)
	if err != nil {
		logging.Error(errors.Wrap(err, "decoding query"))
		os.Exit(1)
	}

	spectrogram, err := dsp.Compute(buf.Samples, settings.DefaultWindowSize, settings.DefaultOverlapRatio, settings.Fs)
	if err != nil {
		logging.Error(errors.Wrap(err, "computing query spectrogram"))
		os.Exit(1)
	}

	peaks := dsp.PickPeaks(spectrogram, settings.PeakNeighborhoodSize, settings.DefaultAmpMin)
	query := fingerprint.Build(0, peaks, settings.DefaultFanValue, settings.MinHashTimeDelta, settings.MaxHashTimeDelta, settings.FingerprintReduction)

	matches := lib.TestSong(queryPath, query)
	if len(matches) == 0 {
		fmt.Println("no match found")
		return
	}

	for _, m := range matches {
		fmt.Printf("%s\tconfidence=%.4f\toffset=%.2fs\n", m.Path, m.OverallConfidence, m.OffsetSeconds)
	}
}

// Package library implements the AudioLibrary: a directory-backed
// collection of tracks, their decoded samples, and their Fingerprints,
// plus the Loader/Processor/Saver operations spec.md §4.5-4.6 describe.
//
// Entries are referenced by EntryID, a stable index into Library.entries,
// never by pointer: spec.md §9 "Polymorphism and ownership" calls this out
// explicitly, since Fingerprint.SourceID and matcher.SID both outlive any
// particular entries slice reallocation.
package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kpcftsz/samplefinder/internal/audio"
	"github.com/kpcftsz/samplefinder/internal/cache"
	"github.com/kpcftsz/samplefinder/internal/config"
	"github.com/kpcftsz/samplefinder/internal/dsp"
	"github.com/kpcftsz/samplefinder/internal/fingerprint"
	"github.com/kpcftsz/samplefinder/internal/logging"
	"github.com/kpcftsz/samplefinder/internal/matcher"
)

// EntryID is a stable reference to a Library entry, used instead of a
// pointer so it survives Load growing (and reallocating) the entries slice.
type EntryID int

// Entry is one track: its path, decoded samples (dropped once it has been
// processed, to bound memory), and its Fingerprint once built.
type Entry struct {
	ID            EntryID
	Path          string // relative to the library root
	LengthSeconds float64
	Samples       []float32
	SampleRate    int
	Fingerprint   *fingerprint.Fingerprint
	Processed     bool
}

// Library is the AudioLibrary: a root directory of audio files, their
// decoded/fingerprinted Entry records, and the exclude list and load/process
// progress counters the CLI polls for status reporting.
type Library struct {
	mu sync.Mutex

	rootPath  string
	cachePath string
	settings  config.Settings
	exclude   []string

	entries          []*Entry
	fingerprintIndex []matcher.Song
	avgLengthSeconds float64

	loadMin, loadMax int
	loading          bool

	processMin, processMax int
	processing             bool

	matches []matcher.FoundSong
}

// New creates a Library rooted at rootPath. cache files are read from and
// written to rootPath/library.kpsf, matching the original tool's
// convention (spec.md §4.5).
func New(rootPath string, settings config.Settings, exclude []string) *Library {
	return &Library{
		rootPath:  rootPath,
		cachePath: filepath.Join(rootPath, "library.kpsf"),
		settings:  settings,
		exclude:   append([]string(nil), exclude...),
	}
}

// Progress reports (loaded, total, stillLoading) for CLI status polling
// against a Load running in the background (spec.md §6 `load_progress()`).
func (l *Library) Progress() (loaded, total int, loading bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadMin, l.loadMax, l.loading
}

// ProcessProgress reports (fingerprinted, total, stillProcessing) for CLI
// status polling against a Process running in the background.
func (l *Library) ProcessProgress() (done, total int, processing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processMin, l.processMax, l.processing
}

// Len returns the number of entries currently tracked (loaded, regardless
// of whether they have been processed yet).
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Load spawns a background worker that populates the Library from
// cachePath (if present) and then walks rootPath for any audio files the
// cache doesn't already know about, decoding each and dropping ones that
// fail to load (spec.md §4.5 "corrupt or unreadable files ... are skipped,
// not fatal"). It returns immediately; the caller polls Progress() for
// status and receives the final error (nil on success) on the returned
// channel, matching `AudioLibrary::Load`'s detached background thread
// (spec.md §5).
//
// A file path is excluded from the walk when it contains any of the
// exclude substrings — a loose, substring-containment check, not a glob or
// path-segment match. This mirrors the original implementation's
// std::string::find-based exclude check verbatim, fragility included: a
// library path of "demo/a" also excludes "demo/ab.wav".
func (l *Library) Load(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	l.mu.Lock()
	l.loading = true
	l.mu.Unlock()

	go func() {
		err := l.load(ctx)
		l.mu.Lock()
		l.loading = false
		l.mu.Unlock()
		done <- err
	}()

	return done
}

func (l *Library) load(ctx context.Context) error {
	if err := l.loadFromCache(); err != nil {
		logging.Error(errors.Wrap(err, "loading cache"), "path", l.cachePath)
	}

	// Every path already recovered from the cache joins the exclude list, so
	// the walk below skips it via the same substring-containment check as
	// any user-configured exclude (spec.md "Supplemented Features" #2).
	l.mu.Lock()
	for _, e := range l.entries {
		l.exclude = append(l.exclude, e.Path)
	}
	l.mu.Unlock()

	var paths []string
	walkErr := filepath.Walk(l.rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.rootPath, path)
		if relErr != nil {
			rel = path
		}
		if l.isExcluded(path) || l.isExcluded(rel) {
			return nil
		}
		if !audio.Supported(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return errors.Wrap(walkErr, "walking library root")
	}

	l.mu.Lock()
	l.loadMax = len(l.entries) + len(paths)
	l.mu.Unlock()

	for _, path := range paths {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, relErr := filepath.Rel(l.rootPath, path)
		if relErr != nil {
			rel = path
		}

		buf, err := audio.Decode(path)
		if err != nil {
			logging.Error(errors.Wrap(err, "decoding"), "path", path)
			l.bumpLoadMin()
			continue
		}

		l.mu.Lock()
		entry := &Entry{
			ID:            EntryID(len(l.entries)),
			Path:          rel,
			LengthSeconds: buf.Seconds(),
			Samples:       buf.Samples,
			SampleRate:    buf.SampleRate,
		}
		l.entries = append(l.entries, entry)
		l.mu.Unlock()

		l.bumpLoadMin()
	}

	l.rebuildFingerprintIndex()
	return nil
}

func (l *Library) bumpLoadMin() {
	l.mu.Lock()
	l.loadMin++
	l.mu.Unlock()
}

func (l *Library) isExcluded(path string) bool {
	for _, ex := range l.exclude {
		if strings.Contains(path, ex) {
			return true
		}
	}
	return false
}

func (l *Library) loadFromCache() error {
	f, err := os.Open(l.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	avg, cached, err := cache.Read(f, l.settings.FingerprintReduction)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	known := make(map[string]bool, len(l.entries))
	for _, existing := range l.entries {
		known[existing.Path] = true
	}

	l.avgLengthSeconds = avg
	for _, e := range cached {
		if known[e.Path] {
			continue
		}
		id := EntryID(len(l.entries))
		e.Fingerprint.SourceID = int(id)
		l.entries = append(l.entries, &Entry{
			ID:            id,
			Path:          e.Path,
			LengthSeconds: float64(e.LengthSeconds),
			Fingerprint:   e.Fingerprint,
			Processed:     true,
		})
	}
	return nil
}

// Process spawns a background worker that runs the Spectrogram ->
// PeakPicker -> Hasher pipeline over every entry that hasn't already been
// fingerprinted (or every entry, if force is true), fanned out across a
// fork-join pool (spec.md §5 "Concurrency & Resource Model"). It returns
// immediately; the caller polls ProcessProgress() for status and receives
// the final error (nil on success) on the returned channel, matching
// `AudioLibrary::Process`'s detached background thread.
func (l *Library) Process(ctx context.Context, force bool) <-chan error {
	done := make(chan error, 1)

	l.mu.Lock()
	l.processing = true
	l.mu.Unlock()

	go func() {
		err := l.process(ctx, force)
		l.mu.Lock()
		l.processing = false
		l.mu.Unlock()
		done <- err
	}()

	return done
}

func (l *Library) process(ctx context.Context, force bool) error {
	l.mu.Lock()
	pending := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if force || !e.Processed {
			pending = append(pending, e)
		}
	}
	l.processMin = 0
	l.processMax = len(pending)
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range pending {
		e := e
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if err := l.processEntry(e); err != nil {
				return err
			}
			l.mu.Lock()
			l.processMin++
			l.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.rebuildFingerprintIndex()
	return nil
}

func (l *Library) processEntry(e *Entry) error {
	s := l.settings

	spectrogram, err := dsp.Compute(e.Samples, s.DefaultWindowSize, s.DefaultOverlapRatio, s.Fs)
	if err != nil {
		return errors.Wrapf(err, "computing spectrogram for %q", e.Path)
	}

	peaks := dsp.PickPeaks(spectrogram, s.PeakNeighborhoodSize, s.DefaultAmpMin)
	fp := fingerprint.Build(int(e.ID), peaks, s.DefaultFanValue, s.MinHashTimeDelta, s.MaxHashTimeDelta, s.FingerprintReduction)

	l.mu.Lock()
	e.Fingerprint = fp
	e.Processed = true
	e.Samples = nil // processed entries don't need raw samples retained
	l.mu.Unlock()

	return nil
}

func (l *Library) rebuildFingerprintIndex() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.fingerprintIndex = l.fingerprintIndex[:0]
	var total float64
	for _, e := range l.entries {
		total += e.LengthSeconds
		if e.Fingerprint == nil {
			continue
		}
		l.fingerprintIndex = append(l.fingerprintIndex, matcher.Song{
			ID:            matcher.SID(e.ID),
			Path:          e.Path,
			LengthSeconds: e.LengthSeconds,
			Fingerprint:   e.Fingerprint,
		})
	}
	if n := len(l.entries); n > 0 {
		l.avgLengthSeconds = total / float64(n)
	}
}

// Save persists every fingerprinted entry to cachePath via cache.Write.
func (l *Library) Save() error {
	l.mu.Lock()
	entries := make([]cache.Entry, 0, len(l.entries))
	avg := l.avgLengthSeconds
	for _, e := range l.entries {
		if e.Fingerprint == nil {
			continue
		}
		entries = append(entries, cache.Entry{
			Path:          e.Path,
			LengthSeconds: float32(e.LengthSeconds),
			Fingerprint:   e.Fingerprint,
		})
	}
	l.mu.Unlock()

	f, err := os.Create(l.cachePath)
	if err != nil {
		return errors.Wrap(err, "creating cache file")
	}
	defer f.Close()

	if err := cache.Write(f, avg, entries); err != nil {
		return errors.Wrap(err, "writing cache")
	}
	return nil
}

// TestSong runs the Matcher against query and returns the ranked matches,
// trimmed to Settings.Topn (spec.md "Supplemented Features" #1: the
// original's AlignMatches accepts a topn parameter it never actually
// applies, so trimming is this Library's responsibility, not the
// Matcher's).
func (l *Library) TestSong(querySourcePath string, query *fingerprint.Fingerprint) []matcher.FoundSong {
	l.mu.Lock()
	songs := append([]matcher.Song(nil), l.fingerprintIndex...)
	avg := l.avgLengthSeconds
	l.mu.Unlock()

	out := matcher.Match(query, querySourcePath, songs, avg, l.settings)

	topn := l.settings.Topn
	if topn > 0 && len(out) > topn {
		out = out[:topn]
	}

	l.mu.Lock()
	l.matches = out
	l.mu.Unlock()

	return out
}

// Entries returns a snapshot of the currently tracked entries.
func (l *Library) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Entry(nil), l.entries...)
}

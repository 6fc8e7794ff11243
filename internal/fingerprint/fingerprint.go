// Package fingerprint implements the Hasher stage: fan-out pairing of
// spectrogram peaks by time proximity into SHA-1-truncated hash/offset
// pairs (spec.md §4.4), and the Fingerprint type that collects them into a
// multimap per audio file.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/kpcftsz/samplefinder/internal/dsp"
)

// HashEntry is a single (hash_string, time_offset) pair emitted by Generate,
// in the order step 2 of spec.md §4.4 enumerates them.
type HashEntry struct {
	Hash   string
	Offset int32
}

// Fingerprint is the multimap from truncated hash to time-offset for one
// audio file. SourceID is a non-owning back-reference (an index, not a
// pointer — see spec.md §9 "Polymorphism and ownership") into the owning
// Library entry.
type Fingerprint struct {
	SourceID int
	Hashes   map[string][]int32
}

// New returns an empty Fingerprint referencing sourceID.
func New(sourceID int) *Fingerprint {
	return &Fingerprint{SourceID: sourceID, Hashes: make(map[string][]int32)}
}

// Add appends offset to hash's offset list, preserving insertion order so
// the "first-inserted offset" lookup the Matcher relies on is well defined.
func (f *Fingerprint) Add(hash string, offset int32) {
	f.Hashes[hash] = append(f.Hashes[hash], offset)
}

// Len reports the total number of hash/offset pairs, counting duplicates —
// this is the `|fingerprint|` used in the Matcher's confidence math.
func (f *Fingerprint) Len() int {
	n := 0
	for _, offsets := range f.Hashes {
		n += len(offsets)
	}
	return n
}

// Build runs the full Hasher over peaks and collects the result into a
// Fingerprint referencing sourceID.
func Build(sourceID int, peaks []dsp.Peak, fan, minDelta, maxDelta, reduction int) *Fingerprint {
	fp := New(sourceID)
	for _, e := range Generate(peaks, fan, minDelta, maxDelta, reduction) {
		fp.Add(e.Hash, e.Offset)
	}
	return fp
}

// Generate performs the fan-out pairing of spec.md §4.4:
//
//  1. Sort peaks by (time_frame ascending, freq_bin ascending).
//  2. For each peak i and each lookahead j in [1, fan), pair (P[i], P[i+j])
//     when the delta falls in [effective minDelta, maxDelta].
//  3. Hash "<f1>|<f2>|<Δt>" with SHA-1, lowercase hex, truncate to
//     reduction characters.
//
// Invariant 2 of spec.md §8 requires Δt >= 1 (strict forward ordering) even
// though min_hash_time_delta defaults to 0; Generate enforces max(minDelta, 1)
// as the effective lower bound so peaks sharing a time frame never hash
// against each other.
func Generate(peaks []dsp.Peak, fan, minDelta, maxDelta, reduction int) []HashEntry {
	sorted := make([]dsp.Peak, len(peaks))
	copy(sorted, peaks)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].TimeFrame != sorted[b].TimeFrame {
			return sorted[a].TimeFrame < sorted[b].TimeFrame
		}
		return sorted[a].FreqBin < sorted[b].FreqBin
	})

	effectiveMin := minDelta
	if effectiveMin < 1 {
		effectiveMin = 1
	}

	var entries []HashEntry
	for i := range sorted {
		anchor := sorted[i]
		for j := 1; j < fan && i+j < len(sorted); j++ {
			target := sorted[i+j]
			delta := target.TimeFrame - anchor.TimeFrame
			if delta < effectiveMin || delta > maxDelta {
				continue
			}

			raw := fmt.Sprintf("%d|%d|%d", anchor.FreqBin, target.FreqBin, delta)
			sum := sha1.Sum([]byte(raw))
			hash := hex.EncodeToString(sum[:])
			if reduction < len(hash) {
				hash = hash[:reduction]
			}

			entries = append(entries, HashEntry{Hash: hash, Offset: int32(anchor.TimeFrame)})
		}
	}

	return entries
}

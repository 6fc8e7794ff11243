// Package matcher implements the Matcher/ranker: cross-referencing a query
// Fingerprint against a library of Fingerprints, aggregating offset-aligned
// matches per track, and producing a confidence-ranked FoundSong list with
// a length-bias correction (spec.md §4.7).
//
// Matcher never fails (spec.md §7 "NoMatch"): an empty query or empty
// library simply yields an empty result list.
package matcher

import (
	"path/filepath"
	"sort"

	"github.com/kpcftsz/samplefinder/internal/config"
	"github.com/kpcftsz/samplefinder/internal/fingerprint"
)

// SID is a song identity: a stable reference to a library entry.
type SID int

// Song is the library-side view the Matcher needs: enough to resolve a
// match back to a track without importing the library package (which
// itself calls into this one).
type Song struct {
	ID            SID
	Path          string
	LengthSeconds float64
	Fingerprint   *fingerprint.Fingerprint
}

// candidateMatch is one (sid, offset_diff) record (spec.md §4.7 step 3).
type candidateMatch struct {
	SID        SID
	OffsetDiff int32
}

// Results collects FindMatches' output: the raw offset-diff candidates and
// a per-song count of matched query hashes.
type Results struct {
	Matches []candidateMatch
	Dedups  map[SID]int
}

// FoundSong is one ranked match, as returned by Align.
type FoundSong struct {
	ID                      SID
	Path                    string
	InputHashes             int
	FingerprintedHashes     int
	HashesMatched           int
	InputConfidence         float64
	FingerprintedConfidence float64
	OverallConfidence       float64
	Offset                  float64
	OffsetSeconds           float64
}

// Match runs FindMatches followed by Align and returns the full ranked
// list; callers trim to Settings.Topn (spec.md "Supplemented Features" #1:
// trimming happens at the caller, not inside the Matcher).
func Match(query *fingerprint.Fingerprint, querySourcePath string, library []Song, avgLibraryLengthSeconds float64, settings config.Settings) []FoundSong {
	if query == nil || len(query.Hashes) == 0 || len(library) == 0 {
		return nil
	}

	results := FindMatches(query, querySourcePath, library)

	bySID := make(map[SID]Song, len(library))
	for _, song := range library {
		bySID[song.ID] = song
	}

	return Align(results, query.Len(), bySID, avgLibraryLengthSeconds, settings)
}

// FindMatches implements spec.md §4.7 step 1-3:
//
//  1. query_map is just query.Hashes — already a hash -> offsets multimap.
//  2. For each distinct hash in query_map, scan every library fingerprint
//     (skipping the one whose source filename matches the query's — the
//     self-exclusion heuristic) and look up the first-inserted offset.
//  3. For every such match, increment dedups[sid] once per (hash-match,
//     query-offset) pair and append an (sid, offset_diff) candidate for
//     every query offset of that hash.
//
// The per-(hash-match, query-offset)-pair increment of dedups is a pinned
// deviation, not an oversight: spec.md §4.7 notes it double-counts when a
// hash recurs at multiple offsets within the query fingerprint.
func FindMatches(query *fingerprint.Fingerprint, querySourcePath string, library []Song) Results {
	results := Results{Dedups: make(map[SID]int)}
	queryFilename := filepath.Base(querySourcePath)

	for hash, queryOffsets := range query.Hashes {
		for _, song := range library {
			if filepath.Base(song.Path) == queryFilename {
				continue
			}

			libOffsets, ok := song.Fingerprint.Hashes[hash]
			if !ok || len(libOffsets) == 0 {
				continue
			}
			libOffset := libOffsets[0]

			for _, queryOffset := range queryOffsets {
				results.Dedups[song.ID]++
				results.Matches = append(results.Matches, candidateMatch{
					SID:        song.ID,
					OffsetDiff: libOffset - queryOffset,
				})
			}
		}
	}

	return results
}

// Align implements spec.md §4.7 AlignMatches: collapse every song's
// candidates to one offset diff, score each, and sort descending by
// (overall_confidence, offset). With config.AlignByMax (the default and the
// spec-pinned behavior) the collapse keeps the maximum offset diff
// observed; config.AlignByMode is this repo's opt-in alternative that
// collapses by the most frequent offset diff instead (spec.md
// "Supplemented Features" #3).
func Align(results Results, queriedHashes int, library map[SID]Song, avgLibraryLengthSeconds float64, settings config.Settings) []FoundSong {
	var collapsed map[SID]int32
	if settings.AlignmentMode == config.AlignByMode {
		collapsed = collapseByMode(results.Matches)
	} else {
		collapsed = collapseByMax(results.Matches)
	}

	out := make([]FoundSong, 0, len(collapsed))
	for sid, diff := range collapsed {
		song, ok := library[sid]
		if !ok {
			continue
		}

		offset := float64(diff)
		seconds := (offset / float64(settings.Fs) * float64(settings.DefaultWindowSize) * float64(settings.DefaultOverlapRatio)) * 0.5

		songHashes := song.Fingerprint.Len()
		hashesMatched := results.Dedups[sid]

		inputConfidence := float64(hashesMatched) / float64(queriedHashes)
		fingerprintedConfidence := float64(hashesMatched) / float64(songHashes)

		if settings.DemoteSongs && song.LengthSeconds > 0 {
			lengthAdjust := (avgLibraryLengthSeconds / song.LengthSeconds) * float64(settings.DemotionFactor)
			if lengthAdjust > 1 {
				lengthAdjust = 1
			}
			inputConfidence *= lengthAdjust
		}

		out = append(out, FoundSong{
			ID:                      sid,
			Path:                    song.Path,
			InputHashes:             queriedHashes,
			FingerprintedHashes:     songHashes,
			HashesMatched:           hashesMatched,
			InputConfidence:         inputConfidence,
			FingerprintedConfidence: fingerprintedConfidence,
			OverallConfidence:       fingerprintedConfidence + inputConfidence,
			Offset:                  offset,
			OffsetSeconds:           seconds,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OverallConfidence != out[j].OverallConfidence {
			return out[i].OverallConfidence > out[j].OverallConfidence
		}
		return out[i].Offset > out[j].Offset
	})

	return out
}

func collapseByMax(matches []candidateMatch) map[SID]int32 {
	maxDiff := make(map[SID]int32)
	for _, m := range matches {
		if cur, ok := maxDiff[m.SID]; !ok || m.OffsetDiff > cur {
			maxDiff[m.SID] = m.OffsetDiff
		}
	}
	return maxDiff
}

func collapseByMode(matches []candidateMatch) map[SID]int32 {
	counts := make(map[SID]map[int32]int)
	for _, m := range matches {
		if counts[m.SID] == nil {
			counts[m.SID] = make(map[int32]int)
		}
		counts[m.SID][m.OffsetDiff]++
	}

	mode := make(map[SID]int32, len(counts))
	for sid, byDiff := range counts {
		var bestDiff int32
		bestCount := -1
		for diff, count := range byDiff {
			if count > bestCount || (count == bestCount && diff > bestDiff) {
				bestDiff, bestCount = diff, count
			}
		}
		mode[sid] = bestDiff
	}
	return mode
}

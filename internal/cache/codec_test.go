package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpcftsz/samplefinder/internal/fingerprint"
)

func buildFingerprint(sourceID int, pairs map[string][]int32) *fingerprint.Fingerprint {
	fp := fingerprint.New(sourceID)
	for hash, offsets := range pairs {
		for _, offset := range offsets {
			fp.Add(hash, offset)
		}
	}
	return fp
}

// TestRoundTrip is the property of spec.md §8 invariant 5:
// CacheCodec.read(CacheCodec.write(F)) == F, compared as multisets since
// map iteration order is not part of the format's contract.
func TestRoundTrip(t *testing.T) {
	entries := []Entry{
		{
			Path:          "kick.wav",
			LengthSeconds: 1.5,
			Fingerprint: buildFingerprint(0, map[string][]int32{
				"aaaaaaaaaaaaaaaaaaaa": {0, 10},
				"bbbbbbbbbbbbbbbbbbbb": {5},
			}),
		},
		{
			Path:          "sub/bass.mp3",
			LengthSeconds: 30.25,
			Fingerprint: buildFingerprint(1, map[string][]int32{
				"cccccccccccccccccccc": {100},
			}),
		},
		{
			Path:          "empty.wav",
			LengthSeconds: 0.1,
			Fingerprint:   fingerprint.New(2),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, 10.625, entries))

	avg, decoded, err := Read(&buf, 20)
	require.NoError(t, err)
	// The header's total_seconds is an i32: 10.625*3 = 31.875 is stored as 31,
	// so the recovered mean is 31/3.
	require.InDelta(t, 31.0/3, avg, 1e-4)
	require.Len(t, decoded, len(entries))

	for i, want := range entries {
		got := decoded[i]
		require.Equal(t, want.Path, got.Path)
		require.InDelta(t, want.LengthSeconds, got.LengthSeconds, 1e-5)
		require.Equal(t, countPairs(want.Fingerprint), countPairs(got.Fingerprint))

		for hash, offsets := range want.Fingerprint.Hashes {
			gotOffsets, ok := got.Fingerprint.Hashes[hash]
			require.True(t, ok, "missing hash %q", hash)
			require.ElementsMatch(t, offsets, gotOffsets)
		}
	}
}

func countPairs(fp *fingerprint.Fingerprint) int {
	if fp == nil {
		return 0
	}
	return fp.Len()
}

func TestReadEmptyLibrary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, 0, nil))

	avg, decoded, err := Read(&buf, 20)
	require.NoError(t, err)
	require.Equal(t, 0.0, avg)
	require.Empty(t, decoded)
}

func TestReadTruncatedStreamFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, 5, []Entry{
		{Path: "a.wav", LengthSeconds: 1, Fingerprint: buildFingerprint(0, map[string][]int32{
			"aaaaaaaaaaaaaaaaaaaa": {1},
		})},
	}))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-4])
	_, _, err := Read(truncated, 20)
	require.Error(t, err)
}

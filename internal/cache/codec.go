// Package cache implements CacheCodec: the little-endian fixed-width binary
// stream the Library persists fingerprints to (spec.md §4.5). There is no
// magic number or version field — a known fragility the spec pins rather
// than fixes (spec.md §9 "Cache format fragility") — so callers must supply
// the fingerprint_reduction a file was written with in order to read it back.
package cache

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/kpcftsz/samplefinder/internal/fingerprint"
)

// Entry is one library track as persisted to the cache file: a path
// relative to the library root, its length in seconds, and its fingerprint.
type Entry struct {
	Path          string
	LengthSeconds float32
	Fingerprint   *fingerprint.Fingerprint
}

// Write encodes entries as:
//
//	header := total_seconds:i32  n_entries:i32
//	entry  := path_len:i32  path:utf8[path_len]
//	          length_seconds:f32
//	          n_hashes:i32
//	          ( hash:utf8[fingerprint_reduction]  offset:i32 )^n_hashes
//
// avgLengthSeconds is the library's current mean track length; the header
// stores avgLengthSeconds*len(entries), truncated to whole seconds by the
// i32 field, so Read recovers the mean only to that precision once it knows
// how many entries followed.
func Write(w io.Writer, avgLengthSeconds float64, entries []Entry) error {
	total := int32(avgLengthSeconds * float64(len(entries)))
	if err := writeInt32(w, total); err != nil {
		return errors.Wrap(err, "writing header total")
	}
	if err := writeInt32(w, int32(len(entries))); err != nil {
		return errors.Wrap(err, "writing header count")
	}

	for _, e := range entries {
		if err := writeString(w, e.Path); err != nil {
			return errors.Wrapf(err, "writing path for %q", e.Path)
		}
		if err := writeFloat32(w, e.LengthSeconds); err != nil {
			return errors.Wrapf(err, "writing length for %q", e.Path)
		}

		n := 0
		if e.Fingerprint != nil {
			n = e.Fingerprint.Len()
		}
		if err := writeInt32(w, int32(n)); err != nil {
			return errors.Wrapf(err, "writing hash count for %q", e.Path)
		}
		if e.Fingerprint == nil {
			continue
		}

		for hash, offsets := range e.Fingerprint.Hashes {
			for _, offset := range offsets {
				if _, err := io.WriteString(w, hash); err != nil {
					return errors.Wrapf(err, "writing hash for %q", e.Path)
				}
				if err := writeInt32(w, offset); err != nil {
					return errors.Wrapf(err, "writing offset for %q", e.Path)
				}
			}
		}
	}

	return nil
}

// Read decodes the stream Write produces. hashLen must equal the
// fingerprint_reduction the file was written with, since the format carries
// no length prefix for the fixed-size hash field. Entry.Fingerprint.SourceID
// is left at its zero value for every decoded entry — the Library assigns
// the real SourceID once it inserts the entry and knows its index.
func Read(r io.Reader, hashLen int) (avgLengthSeconds float64, entries []Entry, err error) {
	var total, n int32
	if err = readInt32(r, &total); err != nil {
		return 0, nil, errors.Wrap(err, "reading header total")
	}
	if err = readInt32(r, &n); err != nil {
		return 0, nil, errors.Wrap(err, "reading header count")
	}

	entries = make([]Entry, 0, n)
	for i := int32(0); i < n; i++ {
		path, rerr := readString(r)
		if rerr != nil {
			return 0, nil, errors.Wrapf(rerr, "reading path for entry %d", i)
		}

		var length float32
		if rerr := readFloat32(r, &length); rerr != nil {
			return 0, nil, errors.Wrapf(rerr, "reading length for %q", path)
		}

		var nHashes int32
		if rerr := readInt32(r, &nHashes); rerr != nil {
			return 0, nil, errors.Wrapf(rerr, "reading hash count for %q", path)
		}

		fp := fingerprint.New(0)
		for j := int32(0); j < nHashes; j++ {
			hashBytes := make([]byte, hashLen)
			if _, rerr := io.ReadFull(r, hashBytes); rerr != nil {
				return 0, nil, errors.Wrapf(rerr, "reading hash %d for %q", j, path)
			}
			var offset int32
			if rerr := readInt32(r, &offset); rerr != nil {
				return 0, nil, errors.Wrapf(rerr, "reading offset %d for %q", j, path)
			}
			fp.Add(string(hashBytes), offset)
		}

		entries = append(entries, Entry{Path: path, LengthSeconds: length, Fingerprint: fp})
	}

	if n == 0 {
		return 0, entries, nil
	}
	return float64(total) / float64(n), entries, nil
}

func writeInt32(w io.Writer, v int32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeFloat32(w io.Writer, v float32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := writeInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readInt32(r io.Reader, v *int32) error {
	return binary.Read(r, binary.LittleEndian, v)
}

func readFloat32(r io.Reader, v *float32) error {
	return binary.Read(r, binary.LittleEndian, v)
}

func readString(r io.Reader) (string, error) {
	var length int32
	if err := readInt32(r, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

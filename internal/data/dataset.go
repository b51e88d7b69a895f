// Package data turns the cached feature store into padded training batches.
package data

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"

	"github.com/born-ml/vqtokenizer/internal/store"
)

var (
	// ErrEmpty is returned when a store holds no patches.
	ErrEmpty = errors.New("data: no patches in store")

	// ErrWidthMismatch is returned when stored sources disagree on patch width.
	ErrWidthMismatch = errors.New("data: inconsistent patch width")
)

// splitBuckets is the resolution of the hash-based train/validation split.
const splitBuckets = 10000

// Sequence is a run of consecutive patches from one source file.
type Sequence struct {
	Key   string    // Source file
	Start int       // Index of the first patch within the source
	Len   int       // Number of patches
	Data  []float32 // Len x Width, row-major
}

// Dataset is an ordered list of sequences sharing one patch width.
type Dataset struct {
	Width     int
	Sequences []Sequence
}

// Load reads every record of s and cuts it into sequences of at most
// maxSeqLen patches.
func Load(s *store.Store, maxSeqLen int) (*Dataset, error) {
	if maxSeqLen <= 0 {
		return nil, errors.Errorf("data: max sequence length must be positive, got %d", maxSeqLen)
	}
	ds := &Dataset{}
	err := s.ForEach(func(key string, rec *store.Record) error {
		if rec.Rows == 0 {
			return nil
		}
		if ds.Width == 0 {
			ds.Width = rec.Cols
		} else if rec.Cols != ds.Width {
			return errors.Wrapf(ErrWidthMismatch, "%s has width %d, want %d", key, rec.Cols, ds.Width)
		}
		for start := 0; start < rec.Rows; start += maxSeqLen {
			n := min(maxSeqLen, rec.Rows-start)
			ds.Sequences = append(ds.Sequences, Sequence{
				Key:   key,
				Start: start,
				Len:   n,
				Data:  rec.Data[start*rec.Cols : (start+n)*rec.Cols],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ds.Sequences) == 0 {
		return nil, ErrEmpty
	}
	return ds, nil
}

// Len returns the number of sequences.
func (d *Dataset) Len() int {
	return len(d.Sequences)
}

// NumPatches returns the total number of patches.
func (d *Dataset) NumPatches() int {
	n := 0
	for _, s := range d.Sequences {
		n += s.Len
	}
	return n
}

// Split assigns whole source files to validation by hashing their key:
// a file is held out when murmur3(key) mod 10000 < valFraction*10000.
//
// With valFraction > 0 and at least two files, neither side is left
// empty: if hashing holds out no file, the lowest bucket is held out; if
// it holds out every file, the highest bucket is returned to training.
func Split(ds *Dataset, valFraction float64) (train, val *Dataset) {
	train = &Dataset{Width: ds.Width}
	val = &Dataset{Width: ds.Width}
	threshold := uint32(valFraction * splitBuckets)

	buckets := make(map[string]uint32)
	for _, s := range ds.Sequences {
		if _, ok := buckets[s.Key]; !ok {
			buckets[s.Key] = murmur3.Sum32([]byte(s.Key)) % splitBuckets
		}
	}

	held := make(map[string]bool)
	for key, b := range buckets {
		if b < threshold {
			held[key] = true
		}
	}
	if valFraction > 0 && len(buckets) >= 2 {
		keys := make([]string, 0, len(buckets))
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if buckets[keys[i]] != buckets[keys[j]] {
				return buckets[keys[i]] < buckets[keys[j]]
			}
			return keys[i] < keys[j]
		})
		switch len(held) {
		case 0:
			held[keys[0]] = true
		case len(keys):
			delete(held, keys[len(keys)-1])
		}
	}

	for _, s := range ds.Sequences {
		if held[s.Key] {
			val.Sequences = append(val.Sequences, s)
		} else {
			train.Sequences = append(train.Sequences, s)
		}
	}
	return train, val
}

// Package store implements the cached feature store: a single bbolt file
// mapping each source structure path to the msgpack-encoded patch matrix
// extracted from it, plus a SHA-256 sidecar used to verify the file before
// training reads it.
package store

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	// FileName is the store file created inside the output folder.
	FileName = "patches.db"

	// RecordVersion is the payload serialization version.
	RecordVersion = 1

	bucketName = "patches"
)

var (
	// ErrNotFound is returned by Get for an unknown key.
	ErrNotFound = errors.New("store: key not found")

	// ErrReadOnly is returned by Put on a store opened with Open.
	ErrReadOnly = errors.New("store: opened read-only")

	// ErrBadRecord is returned when a payload's shape does not match its data.
	ErrBadRecord = errors.New("store: malformed record")
)

// Record is the stored patch matrix of one source file: Rows patches of
// Cols values each, row-major.
type Record struct {
	Version uint32    `msgpack:"version"`
	Rows    int       `msgpack:"rows"`
	Cols    int       `msgpack:"cols"`
	Data    []float32 `msgpack:"data"`
}

// Store is an open feature store. A store returned by Create is writable;
// one returned by Open is read-only.
type Store struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// Options controls Open.
type Options struct {
	// Verify compares the file against its checksum sidecar before opening.
	Verify bool
}

// Create removes any existing file at path and opens a fresh writable store.
func Create(path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "remove previous store %q", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return errors.Wrap(err, "create bucket")
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Open opens an existing store read-only.
func Open(path string, opts Options) (*Store, error) {
	if opts.Verify {
		if err := VerifyChecksum(path); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "stat %q", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	return &Store{db: db, path: path, readOnly: true}, nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Put stores the rows x cols patch matrix for key, replacing any previous value.
func (s *Store) Put(key string, rows, cols int, data []float32) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if rows*cols != len(data) {
		return errors.Wrapf(ErrBadRecord, "%s: %dx%d with %d values", key, rows, cols, len(data))
	}
	payload, err := msgpack.Marshal(&Record{Version: RecordVersion, Rows: rows, Cols: cols, Data: data})
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), payload)
	})
}

// Get returns the record stored under key.
func (s *Store) Get(key string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return errors.Wrap(ErrNotFound, key)
		}
		var err error
		rec, err = decode(v)
		return errors.Wrap(err, key)
	})
	return rec, err
}

// ForEach calls fn for every record in key order, stopping at the first error.
func (s *Store) ForEach(fn func(key string, rec *Record) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return errors.Wrap(err, string(k))
			}
			return fn(string(k), rec)
		})
	})
}

// Len returns the number of stored sources.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(v []byte) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(v, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	if rec.Rows*rec.Cols != len(rec.Data) {
		return nil, ErrBadRecord
	}
	return &rec, nil
}

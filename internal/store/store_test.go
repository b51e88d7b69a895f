package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/store"
)

func buildStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), store.FileName)
	s, err := store.Create(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("b.pdb", 2, 3, []float32{1, 2, 3, 4, 5, 6}))
	require.NoError(t, s.Put("a.pdb", 1, 3, []float32{7, 8, 9}))
	require.NoError(t, s.Close())
	return path
}

func TestStoreRoundTrip(t *testing.T) {
	path := buildStore(t)

	s, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	defer s.Close()

	var keys []string
	require.NoError(t, s.ForEach(func(key string, _ *store.Record) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"a.pdb", "b.pdb"}, keys)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := s.Get("b.pdb")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Rows)
	assert.Equal(t, 3, rec.Cols)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, rec.Data)
	assert.Equal(t, uint32(store.RecordVersion), rec.Version)

	_, err = s.Get("missing.pdb")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.ErrorIs(t, s.Put("c.pdb", 1, 1, []float32{1}), store.ErrReadOnly)
}

func TestStoreForEach(t *testing.T) {
	s, err := store.Open(buildStore(t), store.Options{})
	require.NoError(t, err)
	defer s.Close()

	rows := 0
	require.NoError(t, s.ForEach(func(_ string, rec *store.Record) error {
		rows += rec.Rows
		return nil
	}))
	assert.Equal(t, 3, rows)

	stop := errors.New("stop")
	assert.ErrorIs(t, s.ForEach(func(string, *store.Record) error { return stop }), stop)
}

func TestPutRejectsShapeMismatch(t *testing.T) {
	s, err := store.Create(filepath.Join(t.TempDir(), store.FileName))
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Put("x", 2, 2, []float32{1}), store.ErrBadRecord)
}

func TestCreateTruncatesExisting(t *testing.T) {
	path := buildStore(t)
	s, err := store.Create(path)
	require.NoError(t, err)
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Close())
}

func TestChecksumVerify(t *testing.T) {
	path := buildStore(t)

	_, err := store.Open(path, store.Options{Verify: true})
	assert.ErrorIs(t, err, store.ErrMissingChecksum)

	sum, sidecar, err := store.WriteChecksum(path)
	require.NoError(t, err)
	assert.Len(t, sum, 64)
	assert.Equal(t, path+".sha256", sidecar)

	s, err := store.Open(path, store.Options{Verify: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(sidecar, []byte("deadbeef"), 0o644))
	_, err = store.Open(path, store.Options{Verify: true})
	assert.ErrorIs(t, err, store.ErrChecksumMismatch)
}

func TestOpenMissing(t *testing.T) {
	_, err := store.Open(filepath.Join(t.TempDir(), "nope.db"), store.Options{})
	assert.Error(t, err)
}

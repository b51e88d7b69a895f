package preprocess_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/preprocess"
	"github.com/born-ml/vqtokenizer/internal/store"
)

// writeHelix writes a single-chain PDB file with n residues on a helix.
func writeHelix(t *testing.T, dir, name string, n int) string {
	t.Helper()
	var b strings.Builder
	serial := 1
	for i := 0; i < n; i++ {
		for j, atom := range []string{"N", "CA", "C"} {
			k := float64(3*i + j)
			fmt.Fprintf(&b, "ATOM  %5d  %-3s %3s %1s%4d    %8.3f%8.3f%8.3f  1.00  0.00\n",
				serial, atom, "ALA", "A", i+1, 2.3*math.Cos(k*1.7), 2.3*math.Sin(k*1.7), 0.5*k)
			serial++
		}
	}
	b.WriteString("END\n")
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestRunBuildsStore(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "lmdb")
	long := writeHelix(t, src, "long.pdb", 12)
	writeHelix(t, src, "short.pdb", 5)
	require.NoError(t, os.WriteFile(filepath.Join(src, "broken.pdb"), []byte("garbage\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("ignored"), 0o600))

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	res, err := preprocess.Run(context.Background(), preprocess.Options{
		SourceDir: src,
		OutputDir: out,
		PatchSize: 8,
		Workers:   2,
	}, logger)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, store.FileName), res.StorePath)
	assert.Equal(t, 1, res.FilesWritten)
	assert.Equal(t, 2, res.FilesSkipped)
	assert.Equal(t, 3, res.Patches)
	assert.Equal(t, res.StorePath+store.ChecksumSuffix, res.ChecksumPath)
	assert.NotEmpty(t, hook.AllEntries())

	s, err := store.Open(res.StorePath, store.Options{Verify: true})
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Get(long)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Rows)
	assert.Equal(t, 32, rec.Cols)
	for i := 0; i < len(rec.Data); i += 2 {
		c, sn := rec.Data[i], rec.Data[i+1]
		assert.InDelta(t, 1, c*c+sn*sn, 1e-5)
	}
}

func TestRunNoSources(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := preprocess.Run(context.Background(), preprocess.Options{
		SourceDir: t.TempDir(),
		OutputDir: t.TempDir(),
		PatchSize: 8,
	}, logger)
	assert.ErrorIs(t, err, preprocess.ErrNoSources)
}

func TestRunRejectsBadPatchSize(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := preprocess.Run(context.Background(), preprocess.Options{PatchSize: 0}, logger)
	assert.Error(t, err)
}

func TestRunIsRepeatable(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeHelix(t, src, "a.pdb", 15)
	logger, _ := test.NewNullLogger()
	opts := preprocess.Options{SourceDir: src, OutputDir: out, PatchSize: 4, Workers: 1}

	first, err := preprocess.Run(context.Background(), opts, logger)
	require.NoError(t, err)
	second, err := preprocess.Run(context.Background(), opts, logger)
	require.NoError(t, err)
	assert.Equal(t, first.Patches, second.Patches)
	assert.Equal(t, 10, second.Patches)
}

func TestRunCancelled(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 4; i++ {
		writeHelix(t, src, fmt.Sprintf("f%d.pdb", i), 12)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger, _ := test.NewNullLogger()
	_, err := preprocess.Run(ctx, preprocess.Options{SourceDir: src, OutputDir: t.TempDir(), PatchSize: 8}, logger)
	assert.ErrorIs(t, err, context.Canceled)
}

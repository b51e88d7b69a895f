package tokenizer_test

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/backbone"
	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/tokenizer"
)

func config() tokenizer.Config {
	return tokenizer.Config{
		Kind:           tokenizer.KindLFQ,
		InputDim:       16,
		HiddenDim:      8,
		LatentDim:      6,
		NumHeads:       2,
		NumLayers:      1,
		MaxSeqLen:      8,
		Temperature:    1,
		CommitmentCost: 0.25,
		Seed:           3,
	}
}

func helix(t *testing.T, n int) string {
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
	path := filepath.Join(t.TempDir(), "helix.pdb")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestPatchesFromPDB(t *testing.T) {
	patches, err := tokenizer.PatchesFromPDB(helix(t, 12), 4)
	require.NoError(t, err)
	// 12 residues give 10 torsion pairs and 7 windows of 4.
	require.Len(t, patches, 7)
	for _, p := range patches {
		assert.Len(t, p, 16)
	}

	_, err = tokenizer.PatchesFromPDB(helix(t, 4), 4)
	assert.ErrorIs(t, err, backbone.ErrTooFewResidues)
}

func TestLoad(t *testing.T) {
	tok, err := tokenizer.New(config())
	require.NoError(t, err)

	cfg := config()
	path := filepath.Join(t.TempDir(), "final_model.ckpt")
	require.NoError(t, checkpoint.Write(path, &checkpoint.State{
		Kind:    cfg.Kind,
		Model:   &cfg,
		Weights: checkpoint.FromStateDict(tok.StateDict()),
	}))

	loaded, err := tokenizer.Load(path)
	require.NoError(t, err)
	patches, err := tokenizer.PatchesFromPDB(helix(t, 12), 4)
	require.NoError(t, err)
	codes := tok.Encode(patches)
	assert.Equal(t, codes, loaded.Encode(patches))
	assert.Equal(t, tok.Decode(codes), loaded.Decode(codes))
}

func TestLoadWithoutArchitecture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.ckpt")
	require.NoError(t, checkpoint.Write(path, &checkpoint.State{Kind: tokenizer.KindVQ}))
	_, err := tokenizer.Load(path)
	assert.ErrorIs(t, err, tokenizer.ErrNoArchitecture)
}

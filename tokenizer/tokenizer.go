// Package tokenizer is the public API for backbone torsion tokenizers.
//
// It wraps the internal model, structure reader and checkpoint format so a
// trained model can turn protein structures into discrete codes without
// the training stack.
//
// Example usage:
//
//	import "github.com/born-ml/vqtokenizer/tokenizer"
//
//	tok, err := tokenizer.Load("weight/final_model.ckpt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	patches, err := tokenizer.PatchesFromPDB("1abc.pdb", 8)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	codes := tok.Encode(patches)
//	recon := tok.Decode(codes)
package tokenizer

import (
	"github.com/pkg/errors"

	"github.com/born-ml/vqtokenizer/internal/backbone"
	"github.com/born-ml/vqtokenizer/internal/backend/cpu"
	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/pdb"
)

// Tokenizer maps patch sequences to codes and codes back to patches.
type Tokenizer = model.Tokenizer

// Config describes a tokenizer architecture.
type Config = model.Config

// Tokenizer kinds.
const (
	KindVQ  = model.KindVQ
	KindLFQ = model.KindLFQ
)

// ErrNoArchitecture is returned by Load for a checkpoint that does not
// record the model architecture.
var ErrNoArchitecture = errors.New("tokenizer: checkpoint has no model architecture")

// New builds an untrained tokenizer on the CPU.
func New(cfg Config) (*Tokenizer, error) {
	return model.New(cfg, cpu.New())
}

// Load restores a trained tokenizer from a checkpoint or final model file.
func Load(path string) (*Tokenizer, error) {
	st, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	if st.Model == nil {
		return nil, errors.Wrap(ErrNoArchitecture, path)
	}
	tok, err := New(*st.Model)
	if err != nil {
		return nil, err
	}
	dict, err := st.StateDict()
	if err != nil {
		return nil, err
	}
	if err := tok.LoadStateDict(dict); err != nil {
		return nil, errors.Wrapf(err, "load weights from %q", path)
	}
	return tok, nil
}

// PatchesFromPDB reads a PDB file and returns its torsion patches, each
// of width 4*patchSize.
func PatchesFromPDB(path string, patchSize int) ([][]float32, error) {
	residues, err := pdb.ReadFile(path)
	if err != nil {
		return nil, err
	}
	patches, err := backbone.ExtractPatches(residues, patchSize)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	out := make([][]float32, len(patches))
	for i, p := range patches {
		out[i] = p
	}
	return out, nil
}

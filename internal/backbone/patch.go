package backbone

import (
	"errors"
	"math"
)

// EmbeddingDim is the width of one AngleEmbedding.
const EmbeddingDim = 4

// ErrTooFewResidues is returned by ExtractPatches when a chain has fewer
// than patchSize+2 eligible residues. Callers skip the source and go on.
var ErrTooFewResidues = errors.New("backbone: too few eligible residues")

// AngleEmbedding is (cos φ, sin φ, cos ψ, sin ψ).
type AngleEmbedding [EmbeddingDim]float32

// Patch is patchSize consecutive AngleEmbeddings flattened in order.
type Patch []float32

// Embed maps each torsion pair onto the unit circle.
func Embed(pairs []TorsionPair) []AngleEmbedding {
	out := make([]AngleEmbedding, len(pairs))
	for i, p := range pairs {
		sinPhi, cosPhi := math.Sincos(p.Phi)
		sinPsi, cosPsi := math.Sincos(p.Psi)
		out[i] = AngleEmbedding{float32(cosPhi), float32(sinPhi), float32(cosPsi), float32(sinPsi)}
	}
	return out
}

// Patches slides a window of patchSize over embeddings and returns
// max(0, L-patchSize+1) patches of width 4*patchSize, by ascending start.
func Patches(embeddings []AngleEmbedding, patchSize int) []Patch {
	if patchSize <= 0 || len(embeddings) < patchSize {
		return nil
	}
	count := len(embeddings) - patchSize + 1
	width := patchSize * EmbeddingDim
	backing := make([]float32, count*width)
	patches := make([]Patch, count)
	for i := range patches {
		p := Patch(backing[i*width : (i+1)*width : (i+1)*width])
		for j := 0; j < patchSize; j++ {
			copy(p[j*EmbeddingDim:], embeddings[i+j][:])
		}
		patches[i] = p
	}
	return patches
}

// ExtractPatches runs the full pipeline on one chain: eligible residues,
// torsions, embedding, patches.
func ExtractPatches(residues []Residue, patchSize int) ([]Patch, error) {
	eligible := EligibleResidues(residues)
	if len(eligible) < patchSize+2 {
		return nil, ErrTooFewResidues
	}
	return Patches(Embed(TorsionAngles(eligible)), patchSize), nil
}

// Flatten concatenates patches into one row-major buffer.
func Flatten(patches []Patch) []float32 {
	if len(patches) == 0 {
		return nil
	}
	out := make([]float32, 0, len(patches)*len(patches[0]))
	for _, p := range patches {
		out = append(out, p...)
	}
	return out
}

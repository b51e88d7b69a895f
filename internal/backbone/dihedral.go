package backbone

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateNorm is the norm below which a bond vector or half-plane
// normal is treated as undefined.
const degenerateNorm = 1e-8

// TorsionPair holds the backbone torsions of one interior residue, in radians.
type TorsionPair struct {
	Phi float64
	Psi float64
}

// Dihedral returns the signed angle between the plane (p0, p1, p2) and the
// plane (p1, p2, p3), in (-π, π].
//
// Degenerate geometry (coincident atoms, collinear triples) has no defined
// angle; Dihedral returns 0 in that case instead of NaN.
func Dihedral(p0, p1, p2, p3 r3.Vec) float64 {
	b1 := r3.Sub(p1, p0)
	b2 := r3.Sub(p2, p1)
	b3 := r3.Sub(p3, p2)

	n1 := r3.Cross(b1, b2)
	n2 := r3.Cross(b2, b3)
	b2Norm := r3.Norm(b2)
	if b2Norm < degenerateNorm || r3.Norm(n1) < degenerateNorm || r3.Norm(n2) < degenerateNorm {
		return 0
	}

	angle := math.Atan2(b2Norm*r3.Dot(b1, n2), r3.Dot(n1, n2))
	if angle == -math.Pi {
		return math.Pi
	}
	return angle
}

// TorsionAngles computes (phi, psi) for every interior residue i in
// 1..n-2:
//
//	phi = Dihedral(C[i-1], N[i], CA[i], C[i])
//	psi = Dihedral(N[i], CA[i], C[i], N[i+1])
//
// A residue whose own backbone or neighbouring C/N atom is missing is
// skipped; the rest of the chain is still processed.
func TorsionAngles(residues []Residue) []TorsionPair {
	if len(residues) < 3 {
		return nil
	}
	pairs := make([]TorsionPair, 0, len(residues)-2)
	for i := 1; i < len(residues)-1; i++ {
		prevC, ok1 := residues[i-1].Atom(AtomC)
		n, ok2 := residues[i].Atom(AtomN)
		ca, ok3 := residues[i].Atom(AtomCA)
		c, ok4 := residues[i].Atom(AtomC)
		nextN, ok5 := residues[i+1].Atom(AtomN)
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			continue
		}
		pairs = append(pairs, TorsionPair{
			Phi: Dihedral(prevC, n, ca, c),
			Psi: Dihedral(n, ca, c, nextN),
		})
	}
	return pairs
}

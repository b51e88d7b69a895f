// Package backbone turns protein backbone coordinates into torsion-angle
// patches: per-residue (phi, psi) angles, their unit-circle embedding, and
// overlapping fixed-width windows over the embedded sequence.
package backbone

import "gonum.org/v1/gonum/spatial/r3"

// Backbone atom names.
const (
	AtomN  = "N"
	AtomCA = "CA"
	AtomC  = "C"
)

// Residue is one element of a chain with its atom coordinates by name.
type Residue struct {
	Chain string
	Seq   int
	ICode string
	Name  string
	Atoms map[string]r3.Vec
}

// Atom returns the position of the named atom.
func (r Residue) Atom(name string) (r3.Vec, bool) {
	v, ok := r.Atoms[name]
	return v, ok
}

// HasBackbone reports whether N, CA and C are all present.
func (r Residue) HasBackbone() bool {
	for _, name := range []string{AtomN, AtomCA, AtomC} {
		if _, ok := r.Atoms[name]; !ok {
			return false
		}
	}
	return true
}

// EligibleResidues keeps the residues that have a complete backbone, in order.
func EligibleResidues(residues []Residue) []Residue {
	out := make([]Residue, 0, len(residues))
	for _, r := range residues {
		if r.HasBackbone() {
			out = append(out, r)
		}
	}
	return out
}

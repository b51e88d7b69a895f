// Package pdb reads residue coordinates from PDB-format files.
//
// Only what torsion extraction needs is parsed: ATOM and HETATM records of
// the first model, grouped into residues in file order. Chains are
// concatenated in the order they appear. The first alternate location of
// each atom wins.
package pdb

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/born-ml/vqtokenizer/internal/backbone"
)

// ErrNoAtoms is returned when a file contains no coordinate records.
var ErrNoAtoms = errors.New("pdb: no ATOM or HETATM records")

// minRecordLen is the last column of the z coordinate field.
const minRecordLen = 54

type residueKey struct {
	chain string
	seq   int
	icode string
	name  string
}

// ReadFile parses the PDB file at path.
func ReadFile(path string) ([]backbone.Residue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open structure")
	}
	defer f.Close()

	residues, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return residues, nil
}

// Read parses PDB records from r.
func Read(r io.Reader) ([]backbone.Residue, error) {
	var (
		residues []backbone.Residue
		current  residueKey
		atoms    int
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		record := strings.TrimSpace(field(line, 0, 6))
		if record == "ENDMDL" {
			break
		}
		if record != "ATOM" && record != "HETATM" {
			continue
		}
		if len(line) < minRecordLen {
			return nil, errors.Errorf("line %d: coordinate record too short", lineNo)
		}

		key, name, pos, err := parseAtom(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		atoms++

		if len(residues) == 0 || key != current {
			current = key
			residues = append(residues, backbone.Residue{
				Chain: key.chain,
				Seq:   key.seq,
				ICode: key.icode,
				Name:  key.name,
				Atoms: make(map[string]r3.Vec, 8),
			})
		}
		res := &residues[len(residues)-1]
		if _, seen := res.Atoms[name]; !seen {
			res.Atoms[name] = pos
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	if atoms == 0 {
		return nil, ErrNoAtoms
	}
	return residues, nil
}

func parseAtom(line string) (residueKey, string, r3.Vec, error) {
	seq, err := strconv.Atoi(strings.TrimSpace(field(line, 22, 26)))
	if err != nil {
		return residueKey{}, "", r3.Vec{}, errors.Wrap(err, "residue number")
	}
	var xyz [3]float64
	for i := range xyz {
		start := 30 + 8*i
		xyz[i], err = strconv.ParseFloat(strings.TrimSpace(field(line, start, start+8)), 64)
		if err != nil {
			return residueKey{}, "", r3.Vec{}, errors.Wrap(err, "coordinate")
		}
	}
	key := residueKey{
		chain: strings.TrimSpace(field(line, 21, 22)),
		seq:   seq,
		icode: strings.TrimSpace(field(line, 26, 27)),
		name:  strings.TrimSpace(field(line, 17, 20)),
	}
	name := strings.TrimSpace(field(line, 12, 16))
	return key, name, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// field returns line[start:end] clipped to the line length.
func field(line string, start, end int) string {
	if start >= len(line) {
		return ""
	}
	return line[start:min(end, len(line))]
}

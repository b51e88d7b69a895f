package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/optim"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// FormatVersion is the checkpoint serialization version.
const FormatVersion = 1

var (
	// ErrUnsupportedVersion is returned when reading a checkpoint written
	// by an incompatible version.
	ErrUnsupportedVersion = errors.New("checkpoint: unsupported format version")

	// ErrCorrupt is returned when a stored tensor's data does not match its shape.
	ErrCorrupt = errors.New("checkpoint: corrupt tensor")
)

// Tensor is a serialized parameter.
type Tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// State is everything needed to resume or deploy a model.
type State struct {
	Version   int                `msgpack:"version"`
	Kind      string             `msgpack:"kind"`
	Model     *model.Config      `msgpack:"model,omitempty"`
	Epoch     int                `msgpack:"epoch"`
	Step      int64              `msgpack:"step"`
	Monitor   string             `msgpack:"monitor"`
	Value     float64            `msgpack:"value"`
	Metrics   map[string]float64 `msgpack:"metrics"`
	Weights   map[string]Tensor  `msgpack:"weights"`
	Optimizer *optim.AdamState   `msgpack:"optimizer,omitempty"`
}

// FromStateDict copies a model state dict into serializable form.
func FromStateDict(dict map[string]*tensor.RawTensor) map[string]Tensor {
	out := make(map[string]Tensor, len(dict))
	for name, raw := range dict {
		out[name] = Tensor{
			Shape: append([]int(nil), raw.Shape()...),
			Data:  append([]float32(nil), raw.Data()...),
		}
	}
	return out
}

// StateDict rebuilds raw tensors from the stored weights.
func (s *State) StateDict() (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor, len(s.Weights))
	for name, t := range s.Weights {
		raw, err := tensor.NewRaw(tensor.Shape(t.Shape))
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "%s: %v", name, err)
		}
		if raw.NumElements() != len(t.Data) {
			return nil, errors.Wrapf(ErrCorrupt, "%s: shape %v holds %d values, got %d",
				name, t.Shape, raw.NumElements(), len(t.Data))
		}
		copy(raw.Data(), t.Data)
		out[name] = raw
	}
	return out, nil
}

// Write stores s at path. The file is written beside path and renamed into
// place, so readers never observe a partial checkpoint.
func Write(path string, s *State) error {
	s.Version = FormatVersion
	payload, err := msgpack.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %q", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrapf(err, "write %q", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %q", tmp)
}

// Read loads the checkpoint at path.
func Read(path string) (*State, error) {
	//nolint:gosec // G304: checkpoint paths come from configuration
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	var s State
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return nil, errors.Wrapf(err, "decode %q", path)
	}
	if s.Version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%q has version %d", path, s.Version)
	}
	return &s, nil
}

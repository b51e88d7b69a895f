package checkpoint_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/internal/optim"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

const template = "vqtokenizer-{epoch:02d}-{val_total_loss:.4f}"

func state(epoch int, loss float64) *checkpoint.State {
	w := tensor.MustRaw(tensor.Shape{2, 2})
	copy(w.Data(), []float32{1, 2, 3, float32(epoch)})
	return &checkpoint.State{
		Kind:    "vq",
		Epoch:   epoch,
		Step:    int64(epoch * 10),
		Metrics: map[string]float64{"val_total_loss": loss},
		Weights: checkpoint.FromStateDict(map[string]*tensor.RawTensor{"w": w}),
	}
}

func newManager(t *testing.T, dir string, topK int, mode checkpoint.Mode) *checkpoint.Manager {
	logger, _ := test.NewNullLogger()
	m, err := checkpoint.NewManager(dir, template, topK, "val_total_loss", mode, logger)
	require.NoError(t, err)
	return m
}

func ckptFiles(t *testing.T, dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+checkpoint.Extension))
	require.NoError(t, err)
	return matches
}

func TestFormat(t *testing.T) {
	name, err := checkpoint.Format(template, 3, map[string]float64{"val_total_loss": 0.12341})
	require.NoError(t, err)
	assert.Equal(t, "vqtokenizer-epoch=03-val_total_loss=0.1234", name)

	name, err = checkpoint.Format("m-{epoch}-{step:05d}", 12, map[string]float64{"step": 42})
	require.NoError(t, err)
	assert.Equal(t, "m-epoch=12-step=00042", name)

	_, err = checkpoint.Format("{val_recon_loss:.2f}", 0, nil)
	assert.ErrorIs(t, err, checkpoint.ErrUnknownField)

	_, err = checkpoint.Format("{epoch", 0, nil)
	assert.Error(t, err)
}

func TestManagerKeepsTopK(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 5, checkpoint.ModeMin)

	losses := []float64{0.9, 0.5, 0.7, 0.3, 0.8, 0.4, 0.6}
	for epoch, loss := range losses {
		_, err := m.Save(state(epoch, loss))
		require.NoError(t, err)
	}

	assert.Len(t, ckptFiles(t, dir), 5)
	var kept []float64
	for _, e := range m.Entries() {
		kept = append(kept, e.Value)
		assert.FileExists(t, e.Path)
	}
	assert.Equal(t, []float64{0.3, 0.4, 0.5, 0.6, 0.7}, kept)

	best, ok := m.Best()
	require.True(t, ok)
	assert.Equal(t, 3, best.Epoch)
	assert.Equal(t, filepath.Join(dir, "vqtokenizer-epoch=03-val_total_loss=0.3000.ckpt"), best.Path)
}

func TestManagerMaxMode(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 2, checkpoint.ModeMax)
	for epoch, v := range []float64{1, 3, 2} {
		_, err := m.Save(state(epoch, v))
		require.NoError(t, err)
	}
	best, _ := m.Best()
	assert.Equal(t, 3.0, best.Value)
	assert.Len(t, ckptFiles(t, dir), 2)
}

func TestManagerRejectsWorseWhenFull(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 1, checkpoint.ModeMin)
	path, err := m.Save(state(0, 0.2))
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	path, err = m.Save(state(1, 0.5))
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Len(t, ckptFiles(t, dir), 1)
}

func TestManagerSkipsNonFinite(t *testing.T) {
	m := newManager(t, t.TempDir(), 3, checkpoint.ModeMin)
	path, err := m.Save(state(0, math.NaN()))
	require.NoError(t, err)
	assert.Empty(t, path)
	_, ok := m.Best()
	assert.False(t, ok)
}

func TestManagerNameCollision(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, -1, checkpoint.ModeMin)
	a, err := m.Save(state(1, 0.5))
	require.NoError(t, err)
	b, err := m.Save(state(1, 0.5))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.Join(dir, "vqtokenizer-epoch=01-val_total_loss=0.5000-v1.ckpt"), b)
}

func TestNewManagerRanksExistingCheckpoints(t *testing.T) {
	dir := t.TempDir()
	first := newManager(t, dir, 3, checkpoint.ModeMin)
	for epoch, loss := range []float64{0.9, 0.5, 0.7} {
		_, err := first.Save(state(epoch, loss))
		require.NoError(t, err)
	}
	other := state(9, 0.1)
	other.Monitor = "val_recon_loss"
	foreign := filepath.Join(dir, "recon.ckpt")
	require.NoError(t, checkpoint.Write(foreign, other))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.ckpt"), []byte("not msgpack"), 0o644))

	m := newManager(t, dir, 2, checkpoint.ModeMin)
	var kept []float64
	for _, e := range m.Entries() {
		kept = append(kept, e.Value)
	}
	assert.Equal(t, []float64{0.5, 0.7}, kept)
	assert.NoFileExists(t, filepath.Join(dir, "vqtokenizer-epoch=00-val_total_loss=0.9000.ckpt"))
	assert.FileExists(t, foreign)

	// An earlier checkpoint still beats a worse one from the resumed run.
	path, err := m.Save(state(3, 0.6))
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	best, ok := m.Best()
	require.True(t, ok)
	assert.Equal(t, 0.5, best.Value)
	assert.Equal(t, 1, best.Epoch)
	assert.NoFileExists(t, filepath.Join(dir, "vqtokenizer-epoch=02-val_total_loss=0.7000.ckpt"))

	// A name already on disk is not overwritten.
	path, err = m.Save(state(1, 0.5))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vqtokenizer-epoch=01-val_total_loss=0.5000-v1.ckpt"), path)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := checkpoint.NewManager(t.TempDir(), template, 1, "val_total_loss", "median", logrus.New())
	assert.ErrorIs(t, err, checkpoint.ErrBadMode)
	_, err = checkpoint.NewManager(t.TempDir(), template, 1, "", checkpoint.ModeMin, nil)
	assert.Error(t, err)
}

func TestSaveFinalAndLoad(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 2, checkpoint.ModeMin)
	assert.ErrorIs(t, m.SaveFinal(filepath.Join(dir, "final.ckpt")), checkpoint.ErrNoCheckpoint)

	st := state(4, 0.25)
	st.Optimizer = &optim.AdamState{Step: 7, M: map[string][]float32{"w": {1, 2, 3, 4}}, V: map[string][]float32{"w": {0, 0, 0, 1}}}
	_, err := m.Save(st)
	require.NoError(t, err)
	_, err = m.Save(state(5, 0.9))
	require.NoError(t, err)

	final := filepath.Join(dir, "models", "final.ckpt")
	require.NoError(t, m.SaveFinal(final))

	loaded, err := checkpoint.Load(final)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Epoch)
	assert.Equal(t, "val_total_loss", loaded.Monitor)
	assert.Equal(t, 0.25, loaded.Value)
	require.NotNil(t, loaded.Optimizer)
	assert.Equal(t, 7, loaded.Optimizer.Step)

	dict, err := loaded.StateDict()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, dict["w"].Data())
	assert.Equal(t, tensor.Shape{2, 2}, dict["w"].Shape())
}

func TestReadRejectsCorruptWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	st := state(0, 1)
	st.Weights["w"] = checkpoint.Tensor{Shape: []int{3, 3}, Data: []float32{1}}
	require.NoError(t, checkpoint.Write(path, st))

	loaded, err := checkpoint.Read(path)
	require.NoError(t, err)
	_, err = loaded.StateDict()
	assert.ErrorIs(t, err, checkpoint.ErrCorrupt)

	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0o644))
	_, err = checkpoint.Read(path)
	assert.Error(t, err)
}

package train_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/autodiff"
	"github.com/born-ml/vqtokenizer/internal/backend/cpu"
	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/internal/data"
	"github.com/born-ml/vqtokenizer/internal/metrics"
	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/train"
)

const width = 8

func dataset(n, seqLen int, offset float64) *data.Dataset {
	ds := &data.Dataset{Width: width}
	for s := 0; s < n; s++ {
		seq := data.Sequence{Key: "f", Start: s * seqLen, Len: seqLen}
		for i := 0; i < seqLen*width; i++ {
			seq.Data = append(seq.Data, float32(math.Sin(offset+float64(s*seqLen*width+i)*0.3)))
		}
		ds.Sequences = append(ds.Sequences, seq)
	}
	return ds
}

func modelConfig(kind string) model.Config {
	return model.Config{
		Kind:           kind,
		InputDim:       width,
		HiddenDim:      8,
		LatentDim:      4,
		NumEmbeddings:  16,
		NumHeads:       2,
		NumLayers:      1,
		MaxSeqLen:      3,
		CommitmentCost: 0.25,
		Temperature:    1,
		Seed:           7,
	}
}

type fixture struct {
	backend *autodiff.AutodiffBackend
	model   *model.Tokenizer
	rec     *metrics.Recorder
	ckpt    *checkpoint.Manager
	dir     string
}

func newFixture(t *testing.T, kind string) *fixture {
	t.Helper()
	return newFixtureIn(t, kind, t.TempDir())
}

// newFixtureIn builds a fixture whose checkpoints live under dir.
func newFixtureIn(t *testing.T, kind, dir string) *fixture {
	t.Helper()
	backend := autodiff.New(cpu.New())
	m, err := model.New(modelConfig(kind), backend)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	ckpt, err := checkpoint.NewManager(filepath.Join(dir, "checkpoints"), "tok-{epoch:02d}-{val_total_loss:.4f}",
		2, train.MetricValTotal, checkpoint.ModeMin, logger)
	require.NoError(t, err)
	return &fixture{backend: backend, model: m, rec: metrics.NewRecorder(), ckpt: ckpt, dir: dir}
}

func (f *fixture) trainer(t *testing.T, cfg train.Config, totalSteps int) *train.Trainer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	tr, err := train.New(cfg, f.model, f.backend, totalSteps, f.ckpt, f.rec, logger)
	require.NoError(t, err)
	return tr
}

func loader(ds *data.Dataset, shuffle bool) *data.Loader {
	return &data.Loader{Dataset: ds, BatchSize: 2, Workers: 2, Shuffle: shuffle, Seed: 1}
}

func TestTotalSteps(t *testing.T) {
	assert.Equal(t, 500, train.TotalSteps(500, 50, 100))
	assert.Equal(t, 5000, train.TotalSteps(0, 50, 100))
}

func TestFitVQ(t *testing.T) {
	f := newFixture(t, model.KindVQ)
	final := filepath.Join(f.dir, "weight", "final_model.ckpt")
	tr := f.trainer(t, train.Config{
		MaxEpochs:        2,
		LogEveryNSteps:   1,
		ValCheckInterval: 0.5,
		LearningRate:     1e-2,
		FinalModelPath:   final,
	}, 0)

	// 6 sequences in batches of 2: 3 steps per epoch, validation after each.
	res, err := tr.Fit(context.Background(), loader(dataset(6, 3, 0), true), loader(dataset(2, 3, 1), false))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Epochs)
	assert.Equal(t, int64(6), res.Steps)
	assert.Equal(t, final, res.FinalModel)

	for _, name := range []string{train.MetricTrainRecon, train.MetricTrainQuant, train.MetricTrainTotal, train.MetricLR} {
		assert.Len(t, f.rec.Series(name), 6, name)
	}
	for _, name := range []string{train.MetricValRecon, train.MetricValQuant, train.MetricValTotal, train.MetricUniqueCodes, train.MetricTopCode} {
		assert.Len(t, f.rec.Series(name), 6, name)
	}
	lr, _ := f.rec.Last(train.MetricLR)
	assert.InDelta(t, 1e-2, lr, 1e-9)

	kept, err := filepath.Glob(filepath.Join(f.dir, "checkpoints", "*.ckpt"))
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	// The final model is the best checkpoint and loads into a fresh model.
	best, ok := f.ckpt.Best()
	require.True(t, ok)
	assert.Equal(t, best, res.Best)
	st, err := checkpoint.Load(final)
	require.NoError(t, err)
	assert.Equal(t, best.Value, st.Value)
	require.NotNil(t, st.Model)
	assert.Equal(t, modelConfig(model.KindVQ), *st.Model)
	dict, err := st.StateDict()
	require.NoError(t, err)
	fresh, err := model.New(modelConfig(model.KindVQ), cpu.New())
	require.NoError(t, err)
	require.NoError(t, fresh.LoadStateDict(dict))
}

func TestFitStopsAtMaxSteps(t *testing.T) {
	f := newFixture(t, model.KindVQ)
	tr := f.trainer(t, train.Config{
		MaxEpochs:      10,
		MaxSteps:       4,
		LogEveryNSteps: 2,
		LearningRate:   1e-3,
		FinalModelPath: filepath.Join(f.dir, "final.ckpt"),
	}, 4)

	res, err := tr.Fit(context.Background(), loader(dataset(6, 3, 0), false), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Steps)
	assert.Len(t, f.rec.Series(train.MetricTrainTotal), 2)
	assert.Empty(t, f.rec.Series(train.MetricValTotal))

	// Without validation the last weights are written.
	st, err := checkpoint.Load(res.FinalModel)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Step)
}

func TestLFQFollowsSchedule(t *testing.T) {
	f := newFixture(t, model.KindLFQ)
	tr := f.trainer(t, train.Config{
		MaxSteps:       10,
		LogEveryNSteps: 1,
		LRPeak:         1e-3,
		LRMin:          1e-4,
		LRWarmupRatio:  0.2,
		LRDecayRatio:   0.5,
		WeightDecay:    0.01,
	}, 10)

	ds := dataset(2, 3, 0)
	b := <-mustBatches(t, ds)
	want := []float64{0, 5e-4, 1e-3, 8.2e-4, 6.4e-4}
	for i, lr := range want {
		res, err := tr.Step(b)
		require.NoError(t, err)
		assert.InDelta(t, lr, res.LR, 1e-9, "step %d", i)
	}
	assert.Equal(t, int64(5), tr.GlobalStep())
}

func TestStepRejectsNonFinite(t *testing.T) {
	f := newFixture(t, model.KindVQ)
	tr := f.trainer(t, train.Config{MaxEpochs: 1, LearningRate: 1e-3}, 0)

	ds := dataset(1, 3, 0)
	ds.Sequences[0].Data[0] = float32(math.NaN())
	b := <-mustBatches(t, ds)

	before := append([]float32(nil), f.model.Projection.Weight().Tensor().Data()...)
	_, err := tr.Step(b)
	assert.ErrorIs(t, err, train.ErrNonFinite)
	assert.Equal(t, before, f.model.Projection.Weight().Tensor().Data())
	assert.Zero(t, tr.GlobalStep())

	_, err = tr.Fit(context.Background(), loader(ds, false), nil)
	assert.ErrorIs(t, err, train.ErrNonFinite)
}

func TestEvaluateLeavesParameters(t *testing.T) {
	f := newFixture(t, model.KindVQ)
	tr := f.trainer(t, train.Config{MaxEpochs: 1, LearningRate: 1e-3}, 0)

	before := f.model.StateDict()
	snapshot := make(map[string][]float32, len(before))
	for k, v := range before {
		snapshot[k] = append([]float32(nil), v.Data()...)
	}

	res, err := tr.Evaluate(context.Background(), loader(dataset(3, 2, 0), false))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Patches)
	assert.GreaterOrEqual(t, res.UniqueCodes, 1)
	assert.LessOrEqual(t, res.UniqueCodes, 6)
	assert.GreaterOrEqual(t, res.TopShare, 1/float64(res.UniqueCodes))
	assert.LessOrEqual(t, res.TopShare, 1.0)
	assert.Less(t, res.TopCode, f.model.Quantizer.NumEmbeddings())
	share, ok := f.rec.Last(train.MetricTopCode)
	require.True(t, ok)
	assert.Equal(t, res.TopShare, share)
	assert.InDelta(t, res.ReconLoss+res.QuantLoss, res.TotalLoss, 1e-5)
	assert.Zero(t, f.backend.Tape().NumOps())

	for k, v := range f.model.StateDict() {
		assert.Equal(t, snapshot[k], v.Data(), k)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t, model.KindVQ)
	path := filepath.Join(f.dir, "final.ckpt")
	tr := f.trainer(t, train.Config{MaxSteps: 3, LearningRate: 1e-2, FinalModelPath: path}, 3)
	_, err := tr.Fit(context.Background(), loader(dataset(4, 3, 0), false), nil)
	require.NoError(t, err)

	g := newFixture(t, model.KindVQ)
	restored := g.trainer(t, train.Config{MaxSteps: 3, LearningRate: 1e-2}, 3)
	st, err := checkpoint.Load(path)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(st))

	assert.Equal(t, int64(3), restored.GlobalStep())
	assert.Equal(t, 3, restored.Optimizer().GetTimestep())
	in := [][]float32{dataset(1, 1, 2).Sequences[0].Data}
	assert.Equal(t, f.model.Encode(in), g.model.Encode(in))
}

func TestResumeKeepsRankingEarlierCheckpoints(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "weight", "final_model.ckpt")
	cfg := train.Config{
		MaxEpochs:        2,
		LogEveryNSteps:   1,
		ValCheckInterval: 0.5,
		LearningRate:     1e-2,
		FinalModelPath:   final,
	}

	f := newFixtureIn(t, model.KindVQ, dir)
	_, err := f.trainer(t, cfg, 0).Fit(context.Background(), loader(dataset(6, 3, 0), true), loader(dataset(2, 3, 1), false))
	require.NoError(t, err)
	before, ok := f.ckpt.Best()
	require.True(t, ok)

	// A new run in the same directory starts from the saved final model.
	g := newFixtureIn(t, model.KindVQ, dir)
	require.Len(t, g.ckpt.Entries(), 2)
	assert.Equal(t, before, g.ckpt.Entries()[0])

	cfg.MaxEpochs = 4
	resumed := g.trainer(t, cfg, 0)
	st, err := checkpoint.Load(final)
	require.NoError(t, err)
	require.NoError(t, resumed.Restore(st))
	res, err := resumed.Fit(context.Background(), loader(dataset(6, 3, 0), true), loader(dataset(2, 3, 1), false))
	require.NoError(t, err)

	kept, err := filepath.Glob(filepath.Join(dir, "checkpoints", "*.ckpt"))
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	after, ok := g.ckpt.Best()
	require.True(t, ok)
	assert.LessOrEqual(t, after.Value, before.Value)
	assert.Equal(t, after, res.Best)
	saved, err := checkpoint.Load(final)
	require.NoError(t, err)
	assert.Equal(t, after.Value, saved.Value)
}

func mustBatches(t *testing.T, ds *data.Dataset) <-chan *data.Batch {
	t.Helper()
	batches, _ := (&data.Loader{Dataset: ds, BatchSize: ds.Len(), Workers: 1}).Batches(context.Background())
	return batches
}

// Package train runs the tokenizer training loop: optimizer steps with a
// learning-rate schedule, periodic validation, metric logging and
// checkpoint retention.
package train

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/vqtokenizer/internal/autodiff"
	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/internal/data"
	"github.com/born-ml/vqtokenizer/internal/metrics"
	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/optim"
	"github.com/born-ml/vqtokenizer/internal/quantize"
	"github.com/born-ml/vqtokenizer/internal/schedule"
)

// ErrNonFinite is returned when a loss becomes NaN or infinite.
var ErrNonFinite = errors.New("train: non-finite loss")

// Metric names.
const (
	MetricTrainRecon  = "train_recon_loss"
	MetricTrainQuant  = "train_vq_loss"
	MetricTrainTotal  = "train_total_loss"
	MetricLR          = "lr"
	MetricValRecon    = "val_recon_loss"
	MetricValQuant    = "val_vq_loss"
	MetricValTotal    = "val_total_loss"
	MetricUniqueCodes = "val_unique_codes"
	MetricTopCode     = "val_top_code_share"
)

// Config controls the loop.
type Config struct {
	MaxEpochs        int
	MaxSteps         int     // 0 derives the budget from MaxEpochs
	LogEveryNSteps   int     // Train metrics cadence
	ValCheckInterval float64 // Fraction of an epoch between validations, in (0, 1]

	// VQ trains with Adam at a constant LearningRate. LFQ trains with
	// AdamW and the warmup/decay schedule.
	LearningRate  float64
	LRPeak        float64
	LRMin         float64
	LRWarmupRatio float64
	LRDecayRatio  float64
	WeightDecay   float64

	FinalModelPath string
}

// StepResult reports one optimizer step.
type StepResult struct {
	Step      int64
	ReconLoss float64
	QuantLoss float64
	TotalLoss float64
	LR        float64
}

// EvalResult reports a validation pass. Losses are averaged over patches.
type EvalResult struct {
	ReconLoss   float64
	QuantLoss   float64
	TotalLoss   float64
	UniqueCodes int
	TopCode     int     // most frequent code, lowest on ties
	TopShare    float64 // fraction of patches mapped to TopCode
	Patches     int
}

// FitResult summarizes a completed Fit.
type FitResult struct {
	Epochs     int
	Steps      int64
	Best       checkpoint.Entry
	FinalModel string
}

// Trainer owns the optimizer and schedule for one model.
type Trainer struct {
	cfg      Config
	model    *model.Tokenizer
	backend  *autodiff.AutodiffBackend
	opt      *optim.Adam
	schedule schedule.Schedule
	ckpt     *checkpoint.Manager
	metrics  metrics.Logger
	logger   logrus.FieldLogger

	step  int64
	epoch int
}

// New prepares a trainer. totalSteps is the number of optimizer steps the
// LFQ schedule spans. The model must have been built on backend. ckpt may
// be nil to disable checkpointing.
func New(cfg Config, m *model.Tokenizer, backend *autodiff.AutodiffBackend, totalSteps int,
	ckpt *checkpoint.Manager, sink metrics.Logger, logger logrus.FieldLogger,
) (*Trainer, error) {
	if cfg.LogEveryNSteps <= 0 {
		cfg.LogEveryNSteps = 1
	}
	if cfg.ValCheckInterval <= 0 || cfg.ValCheckInterval > 1 {
		cfg.ValCheckInterval = 1
	}
	if sink == nil {
		sink = metrics.Multi{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	t := &Trainer{
		cfg:     cfg,
		model:   m,
		backend: backend,
		ckpt:    ckpt,
		metrics: sink,
		logger:  logger.WithField("action", "train"),
	}

	switch m.Config().Kind {
	case model.KindVQ:
		if cfg.LearningRate <= 0 {
			return nil, errors.Errorf("train: learning rate must be positive, got %v", cfg.LearningRate)
		}
		t.schedule = schedule.Constant(cfg.LearningRate)
		t.opt = optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: float32(cfg.LearningRate)})
	case model.KindLFQ:
		if cfg.LRPeak <= 0 {
			return nil, errors.Errorf("train: lr_peak must be positive, got %v", cfg.LRPeak)
		}
		t.schedule = schedule.NewWarmupLinearDecay(cfg.LRPeak, cfg.LRMin, totalSteps, cfg.LRWarmupRatio, cfg.LRDecayRatio)
		t.opt = optim.NewAdam(m.Parameters(), optim.AdamConfig{
			LR:          float32(cfg.LRPeak),
			WeightDecay: float32(cfg.WeightDecay),
		})
	default:
		return nil, errors.Wrap(model.ErrUnknownKind, m.Config().Kind)
	}
	return t, nil
}

// TotalSteps is the optimizer step budget: maxSteps when set, otherwise
// epochs times batches per epoch.
func TotalSteps(maxSteps, epochs, batchesPerEpoch int) int {
	if maxSteps > 0 {
		return maxSteps
	}
	return epochs * batchesPerEpoch
}

// GlobalStep returns the number of optimizer steps taken.
func (t *Trainer) GlobalStep() int64 {
	return t.step
}

// Optimizer exposes the optimizer for checkpoint restore.
func (t *Trainer) Optimizer() *optim.Adam {
	return t.opt
}

// Step runs forward, backward and one parameter update on b. On a
// non-finite loss no update is applied and ErrNonFinite is returned.
func (t *Trainer) Step(b *data.Batch) (StepResult, error) {
	lr := t.schedule.LR(int(t.step))
	t.opt.SetLR(float32(lr))

	tape := t.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	out := t.model.Forward(b)
	res := StepResult{
		Step:      t.step,
		ReconLoss: float64(out.ReconLoss.Item()),
		QuantLoss: float64(out.QuantLoss.Item()),
		TotalLoss: float64(out.Total.Item()),
		LR:        lr,
	}
	if !finite(res.TotalLoss) {
		return res, errors.Wrapf(ErrNonFinite, "step %d: total loss %v", t.step, res.TotalLoss)
	}

	grads := autodiff.Backward(out.Total, t.backend)
	t.opt.Step(grads)
	t.step++

	if t.step%int64(t.cfg.LogEveryNSteps) == 0 {
		t.log(MetricTrainRecon, res.ReconLoss)
		t.log(MetricTrainQuant, res.QuantLoss)
		t.log(MetricTrainTotal, res.TotalLoss)
		t.log(MetricLR, lr)
	}
	return res, nil
}

// Evaluate runs one pass over loader without updating parameters and
// logs the validation metrics. Code utilization counts distinct codes
// across the whole pass.
func (t *Trainer) Evaluate(ctx context.Context, loader *data.Loader) (EvalResult, error) {
	tape := t.backend.Tape()
	tape.StopRecording()
	tape.Clear()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res EvalResult
	var codes []int
	batches, errs := loader.Batches(ctx)
	for b := range batches {
		out := t.model.Forward(b)
		n := float64(b.NumValid())
		total := float64(out.Total.Item())
		if !finite(total) {
			return res, errors.Wrapf(ErrNonFinite, "validation at step %d: total loss %v", t.step, total)
		}
		res.ReconLoss += float64(out.ReconLoss.Item()) * n
		res.QuantLoss += float64(out.QuantLoss.Item()) * n
		res.TotalLoss += total * n
		res.Patches += b.NumValid()
		codes = append(codes, out.Indices...)
	}
	if err := <-errs; err != nil {
		return res, errors.Wrap(err, "validation batches")
	}
	if res.Patches > 0 {
		res.ReconLoss /= float64(res.Patches)
		res.QuantLoss /= float64(res.Patches)
		res.TotalLoss /= float64(res.Patches)
	}
	res.UniqueCodes = quantize.UniqueCodes(codes)
	res.TopCode, res.TopShare = topCode(quantize.Histogram(codes), len(codes))

	t.log(MetricValRecon, res.ReconLoss)
	t.log(MetricValQuant, res.QuantLoss)
	t.log(MetricValTotal, res.TotalLoss)
	t.log(MetricUniqueCodes, float64(res.UniqueCodes))
	t.log(MetricTopCode, res.TopShare)
	if res.UniqueCodes <= 1 && res.Patches > 1 {
		t.logger.WithFields(logrus.Fields{
			"step": t.step,
			"code": res.TopCode,
		}).Warn("validation uses a single code: representation collapse")
	}
	return res, nil
}

// Fit trains until the epoch or step budget is spent. val may be nil to
// skip validation; the final model is then the last weights.
func (t *Trainer) Fit(ctx context.Context, trainLoader, val *data.Loader) (*FitResult, error) {
	perEpoch := trainLoader.NumBatches()
	if perEpoch == 0 {
		return nil, errors.Wrap(data.ErrEmpty, "train: no training batches")
	}
	budget := int64(TotalSteps(t.cfg.MaxSteps, t.cfg.MaxEpochs, perEpoch))
	valEvery := max(1, int(t.cfg.ValCheckInterval*float64(perEpoch)))

	t.logger.WithFields(logrus.Fields{
		"batches_per_epoch": perEpoch,
		"total_steps":       budget,
		"validate_every":    valEvery,
		"parameters":        len(t.model.Parameters()),
	}).Info("training started")

	for t.step < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.runEpoch(ctx, trainLoader, val, perEpoch, valEvery, budget); err != nil {
			return nil, err
		}
		t.epoch++
	}

	res := &FitResult{Epochs: t.epoch, Steps: t.step}
	if err := t.saveFinal(res); err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"epochs":      res.Epochs,
		"steps":       res.Steps,
		"final_model": res.FinalModel,
	}).Info("training finished")
	return res, nil
}

func (t *Trainer) runEpoch(ctx context.Context, trainLoader, val *data.Loader, perEpoch, valEvery int, budget int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errs := trainLoader.Batches(ctx)
	i := 0
	for b := range batches {
		if _, err := t.Step(b); err != nil {
			return err
		}
		i++
		last := i == perEpoch || t.step >= budget
		if val != nil && (i%valEvery == 0 || last) {
			if err := t.validate(ctx, val); err != nil {
				return err
			}
		}
		if t.step >= budget {
			return nil
		}
	}
	return errors.Wrap(<-errs, "training batches")
}

// validate evaluates and offers a checkpoint.
func (t *Trainer) validate(ctx context.Context, val *data.Loader) error {
	res, err := t.Evaluate(ctx, val)
	if err != nil {
		return err
	}
	if t.ckpt == nil {
		return nil
	}
	path, err := t.ckpt.Save(t.state(map[string]float64{
		MetricValRecon:    res.ReconLoss,
		MetricValQuant:    res.QuantLoss,
		MetricValTotal:    res.TotalLoss,
		MetricUniqueCodes: float64(res.UniqueCodes),
		"step":            float64(t.step),
	}))
	if err != nil {
		return err
	}
	if path != "" {
		t.logger.WithFields(logrus.Fields{"epoch": t.epoch, "step": t.step, "path": path}).Info("checkpoint kept")
	}
	return nil
}

func (t *Trainer) saveFinal(res *FitResult) error {
	if t.cfg.FinalModelPath == "" {
		return nil
	}
	if t.ckpt != nil {
		if best, ok := t.ckpt.Best(); ok {
			res.Best = best
			res.FinalModel = t.cfg.FinalModelPath
			return t.ckpt.SaveFinal(t.cfg.FinalModelPath)
		}
	}
	res.FinalModel = t.cfg.FinalModelPath
	return checkpoint.Write(t.cfg.FinalModelPath, t.state(nil))
}

// State snapshots the model and optimizer.
func (t *Trainer) state(values map[string]float64) *checkpoint.State {
	opt := t.opt.State()
	arch := t.model.Config()
	return &checkpoint.State{
		Kind:      arch.Kind,
		Model:     &arch,
		Epoch:     t.epoch,
		Step:      t.step,
		Metrics:   values,
		Weights:   checkpoint.FromStateDict(t.model.StateDict()),
		Optimizer: &opt,
	}
}

// Restore loads model and optimizer state from a checkpoint and resumes
// the step and epoch counters.
func (t *Trainer) Restore(s *checkpoint.State) error {
	dict, err := s.StateDict()
	if err != nil {
		return err
	}
	if err := t.model.LoadStateDict(dict); err != nil {
		return errors.Wrap(err, "restore model")
	}
	if s.Optimizer != nil {
		if err := t.opt.LoadState(*s.Optimizer); err != nil {
			return errors.Wrap(err, "restore optimizer")
		}
	}
	t.step = s.Step
	t.epoch = s.Epoch
	return nil
}

func (t *Trainer) log(name string, value float64) {
	t.metrics.Log(t.step, name, value)
}

func topCode(hist map[int]int, n int) (int, float64) {
	if n == 0 {
		return 0, 0
	}
	code, count := 0, 0
	for c, k := range hist {
		if k > count || (k == count && c < code) {
			code, count = c, k
		}
	}
	return code, float64(count) / float64(n)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/vqtokenizer/internal/autodiff"
	"github.com/born-ml/vqtokenizer/internal/backend/cpu"
	"github.com/born-ml/vqtokenizer/internal/checkpoint"
	"github.com/born-ml/vqtokenizer/internal/config"
	"github.com/born-ml/vqtokenizer/internal/data"
	"github.com/born-ml/vqtokenizer/internal/metrics"
	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/store"
	"github.com/born-ml/vqtokenizer/internal/train"
)

type trainCommand struct {
	global *globalOptions
	stderr io.Writer

	Config string `long:"config" required:"true" description:"path to the training config"`
	Resume string `long:"resume" description:"checkpoint to resume from"`
}

// Execute implements flags.Commander.
func (c *trainCommand) Execute([]string) error {
	logger := c.global.newLogger(c.stderr)
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runTraining(ctx, cfg, c.Resume, logger); err != nil {
		logger.WithError(err).Error("training failed")
		return err
	}
	return nil
}

func runTraining(ctx context.Context, cfg *config.Config, resume string, logger *logrus.Logger) error {
	warnUnsupported(cfg, logger)

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ds, err := data.Load(s, cfg.Data.MaxSeqLen)
	if err != nil {
		return err
	}
	trainSet, valSet := data.Split(ds, cfg.Data.ValFraction)
	logger.WithFields(logrus.Fields{
		"action":         "train",
		"train_patches":  trainSet.NumPatches(),
		"val_patches":    valSet.NumPatches(),
		"train_sequence": trainSet.Len(),
		"val_sequence":   valSet.Len(),
	}).Info("dataset loaded")
	if trainSet.Len() == 0 {
		return errors.Wrap(data.ErrEmpty, "training split")
	}

	trainLoader := &data.Loader{
		Dataset:   trainSet,
		BatchSize: cfg.Data.BatchSize,
		Workers:   cfg.Data.NumWorkers,
		Shuffle:   true,
		Seed:      cfg.Data.Seed,
	}
	var valLoader *data.Loader
	if valSet.Len() > 0 {
		valLoader = &data.Loader{Dataset: valSet, BatchSize: cfg.Data.BatchSize, Workers: cfg.Data.NumWorkers}
	} else if cfg.Trainer.SaveTopK != 0 {
		logger.WithFields(logrus.Fields{
			"action":       "train",
			"val_fraction": cfg.Data.ValFraction,
			"save_top_k":   cfg.Trainer.SaveTopK,
		}).Warn("validation split is empty: no checkpoints are kept and the final model is the last weights")
	}

	backend := autodiff.New(cpu.New())
	m, err := model.New(modelConfig(cfg, ds.Width), backend)
	if err != nil {
		return err
	}

	mode := checkpoint.Mode(cfg.Trainer.MonitorMode)
	ckpt, err := checkpoint.NewManager(cfg.Trainer.CheckpointDir, cfg.Trainer.CheckpointName,
		cfg.Trainer.SaveTopK, cfg.Trainer.Monitor, mode, logger)
	if err != nil {
		return err
	}

	sink, closeSink, err := metricSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	tr, err := train.New(trainConfig(cfg), m, backend,
		train.TotalSteps(cfg.Trainer.MaxSteps, cfg.Trainer.MaxEpochs, trainLoader.NumBatches()),
		ckpt, sink, logger)
	if err != nil {
		return err
	}
	if resume != "" {
		st, err := checkpoint.Load(resume)
		if err != nil {
			return err
		}
		if err := tr.Restore(st); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"action":      "train",
			"from":        resume,
			"step":        st.Step,
			"checkpoints": len(ckpt.Entries()),
		}).Info("resumed")
	}

	_, err = tr.Fit(ctx, trainLoader, valLoader)
	return err
}

// openStore opens the configured feature store, building it from
// data.pdb_dir first when it or its checksum does not exist yet. A store
// without a checksum is left over from an interrupted build.
func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*store.Store, error) {
	folder := cfg.Data.LMDBDir
	if folder == "" {
		folder = filepath.Join(cfg.Trainer.CheckpointDir, "store")
	}
	path := filepath.Join(folder, store.FileName)
	if !exists(path) || !exists(store.ChecksumPath(path)) {
		logger.WithField("path", path).Info("feature store missing, building it")
		if _, err := buildStore(ctx, cfg, folder, 0, logger); err != nil {
			return nil, err
		}
	}
	return store.Open(path, store.Options{Verify: true})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func modelConfig(cfg *config.Config, width int) model.Config {
	m := cfg.Model
	return model.Config{
		Kind:           m.Type,
		InputDim:       width,
		HiddenDim:      m.HiddenDim,
		LatentDim:      m.LatentDim,
		NumEmbeddings:  m.NumEmbeddings,
		NumHeads:       m.NHead,
		NumLayers:      m.NumLayers,
		MaxSeqLen:      cfg.Data.MaxSeqLen,
		Positional:     m.PositionalEncoding,
		CommitmentCost: float32(m.CommitmentCost),
		Temperature:    float32(m.Temperature),
		EntropyWeight:  float32(m.EntropyWeight),
		Seed:           cfg.Data.Seed,
	}
}

func trainConfig(cfg *config.Config) train.Config {
	m, t := cfg.Model, cfg.Trainer
	return train.Config{
		MaxEpochs:        t.MaxEpochs,
		MaxSteps:         t.MaxSteps,
		LogEveryNSteps:   t.LogEveryNSteps,
		ValCheckInterval: t.ValCheckInterval,
		LearningRate:     m.LearningRate,
		LRPeak:           m.LRPeak,
		LRMin:            m.LRMin,
		LRWarmupRatio:    m.LRWarmupRatio,
		LRDecayRatio:     m.LRDecayRatio,
		WeightDecay:      m.WeightDecay,
		FinalModelPath:   t.FinalModelPath,
	}
}

// metricSinks wires the log, the run history and, when a listen address is
// configured, a Prometheus endpoint.
func metricSinks(cfg *config.Config, logger *logrus.Logger) (metrics.Logger, func(), error) {
	run, err := metrics.NewRunWriter(cfg.Metrics.RunDir, cfg.Wandb.Project)
	if err != nil {
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{"run": run.ID, "history": run.Path}).Info("run started")
	sinks := metrics.Multi{metrics.NewLogrusLogger(logger), run}

	var srv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		prom, err := metrics.NewPrometheusLogger(prometheus.NewRegistry(), "vqtokenizer")
		if err != nil {
			run.Close()
			return nil, nil, err
		}
		sinks = append(sinks, prom)
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		srv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	closeAll := func() {
		if err := run.Close(); err != nil {
			logger.WithError(err).Warn("close run history")
		}
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}
	return sinks, closeAll, nil
}

// warnUnsupported notes settings kept for document compatibility that
// this trainer does not act on.
func warnUnsupported(cfg *config.Config, logger logrus.FieldLogger) {
	t := cfg.Trainer
	for key, v := range map[string]string{
		"accelerator": t.Accelerator,
		"precision":   t.Precision,
		"strategy":    t.Strategy,
	} {
		if v != "" && v != "auto" && v != "32" && v != "cpu" {
			logger.WithFields(logrus.Fields{"key": "trainer." + key, "value": v}).
				Warn("setting ignored: training runs on the CPU in float32")
		}
	}
}

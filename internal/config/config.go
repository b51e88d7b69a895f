// Package config reads and writes the training configuration document.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tokenizer types.
const (
	TypeVQ  = "vq"
	TypeLFQ = "lfq"
)

// ErrUnknownType is returned for a tokenizer type other than vq or lfq.
var ErrUnknownType = errors.New("config: type must be either 'lfq' or 'vq'")

// ValidationError reports an invalid or missing field.
type ValidationError struct {
	Field  string // Dotted key, e.g. "model.hidden_dim"
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the training configuration document.
type Config struct {
	Wandb   Wandb   `yaml:"wandb"`
	Data    Data    `yaml:"data"`
	Model   Model   `yaml:"model"`
	Trainer Trainer `yaml:"trainer"`
	Metrics Metrics `yaml:"metrics"`
}

// Wandb names the experiment project. Runs are recorded locally under
// metrics.run_dir/<project>.
type Wandb struct {
	Project string `yaml:"project"`
}

// Data configures preprocessing and loading.
type Data struct {
	PDBDir      string  `yaml:"pdb_dir"`
	PatchSize   int     `yaml:"patch_size"`
	LMDBDir     string  `yaml:"lmdb_dir,omitempty"`
	BatchSize   int     `yaml:"batch_size"`
	NumWorkers  int     `yaml:"num_workers"`
	MaxSeqLen   int     `yaml:"max_seq_len"`
	ValFraction float64 `yaml:"val_fraction"`
	Seed        int64   `yaml:"seed"`
}

// Model configures the tokenizer architecture and optimizer.
type Model struct {
	Type               string  `yaml:"type"`
	HiddenDim          int     `yaml:"hidden_dim"`
	LatentDim          int     `yaml:"latent_dim"`
	NumEmbeddings      int     `yaml:"num_embeddings,omitempty"`
	NHead              int     `yaml:"nhead"`
	NumLayers          int     `yaml:"num_layers"`
	PositionalEncoding bool    `yaml:"positional_encoding"`
	LearningRate       float64 `yaml:"learning_rate"`
	Temperature        float64 `yaml:"temperature,omitempty"`
	CommitmentCost     float64 `yaml:"commitment_cost"`
	EntropyWeight      float64 `yaml:"entropy_weight,omitempty"`
	LRPeak             float64 `yaml:"lr_peak,omitempty"`
	LRMin              float64 `yaml:"lr_min,omitempty"`
	LRWarmupRatio      float64 `yaml:"lr_warmup_ratio,omitempty"`
	LRDecayRatio       float64 `yaml:"lr_decay_ratio,omitempty"`
	WeightDecay        float64 `yaml:"weight_decay,omitempty"`
}

// Trainer configures the training loop and checkpointing.
type Trainer struct {
	MaxEpochs        int     `yaml:"max_epochs"`
	MaxSteps         int     `yaml:"max_steps"`
	Accelerator      string  `yaml:"accelerator"`
	CheckpointDir    string  `yaml:"checkpoint_dir"`
	CheckpointName   string  `yaml:"checkpoint_name"`
	SaveTopK         int     `yaml:"save_top_k"`
	Monitor          string  `yaml:"monitor"`
	MonitorMode      string  `yaml:"monitor_mode"`
	LogEveryNSteps   int     `yaml:"log_every_n_steps"`
	ValCheckInterval float64 `yaml:"val_check_interval"`
	FinalModelPath   string  `yaml:"final_model_path"`
	Precision        string  `yaml:"precision"`
	Strategy         string  `yaml:"strategy"`
}

// Metrics configures metric sinks beyond the log.
type Metrics struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	RunDir     string `yaml:"run_dir"`
}

const (
	defaultValFraction    = 0.05
	defaultCommitmentCost = 0.25
)

// Default returns the reference configuration for a tokenizer type.
func Default(kind string) (*Config, error) {
	cfg := &Config{
		Wandb: Wandb{Project: "VQTokenizer"},
		Data: Data{
			PDBDir:      "./data",
			PatchSize:   8,
			BatchSize:   64,
			NumWorkers:  12,
			MaxSeqLen:   64,
			ValFraction: defaultValFraction,
			Seed:        42,
		},
		Trainer: Trainer{
			MaxEpochs:        50,
			Accelerator:      "auto",
			CheckpointDir:    "./checkpoints",
			SaveTopK:         5,
			Monitor:          "val_total_loss",
			MonitorMode:      "min",
			LogEveryNSteps:   100,
			ValCheckInterval: 0.25,
			FinalModelPath:   "./weight/final_model.ckpt",
			Precision:        "bf16-mixed",
			Strategy:         "auto",
		},
		Metrics: Metrics{RunDir: "./runs"},
	}

	switch kind {
	case TypeVQ:
		cfg.Model = Model{
			Type:           TypeVQ,
			HiddenDim:      768,
			LatentDim:      512,
			NumEmbeddings:  768,
			NHead:          16,
			NumLayers:      3,
			LearningRate:   1e-3,
			CommitmentCost: defaultCommitmentCost,
		}
		cfg.Trainer.CheckpointName = "vqtokenizer-{epoch:02d}-{val_total_loss:.4f}"
	case TypeLFQ:
		cfg.Data.PDBDir = "../data"
		cfg.Data.LMDBDir = "./LMDB"
		cfg.Model = Model{
			Type:           TypeLFQ,
			HiddenDim:      1024,
			LatentDim:      8,
			NHead:          16,
			NumLayers:      3,
			LearningRate:   4e-4,
			Temperature:    1.0,
			CommitmentCost: defaultCommitmentCost,
			LRPeak:         4e-4,
			LRMin:          4e-5,
			LRWarmupRatio:  0.02,
			LRDecayRatio:   0.9,
			WeightDecay:    0.01,
		}
		cfg.Trainer.CheckpointName = "lfqtokenizer-{epoch:02d}-{val_total_loss:.4f}"
	default:
		return nil, errors.Wrapf(ErrUnknownType, "got %q", kind)
	}
	return cfg, nil
}

// DefaultPath is where the config command writes the document for kind.
func DefaultPath(kind string) string {
	return filepath.Join("config", kind+"_train.yml")
}

// Write encodes cfg as YAML at path, creating parent folders.
func Write(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %q", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, buf.Bytes(), 0o644), "write %q", path)
}

// Load reads and validates the document at path. When model.type is
// absent it is inferred: a document with num_embeddings is VQ, otherwise LFQ.
// Optional keys missing from the document take their defaults.
func Load(path string) (*Config, error) {
	//nolint:gosec // G304: path comes from the command line
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}
	return Parse(raw)
}

// Parse decodes and validates a document.
func Parse(raw []byte) (*Config, error) {
	// Keys where zero is a meaningful setting are preset, so only an
	// absent key takes the default.
	cfg := Config{
		Data:  Data{ValFraction: defaultValFraction},
		Model: Model{CommitmentCost: defaultCommitmentCost},
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if cfg.Model.Type == "" {
		if cfg.Model.NumEmbeddings > 0 {
			cfg.Model.Type = TypeVQ
		} else {
			cfg.Model.Type = TypeLFQ
		}
	}
	cfg.Model.Type = strings.ToLower(cfg.Model.Type)
	if cfg.Model.Type != TypeVQ && cfg.Model.Type != TypeLFQ {
		return nil, errors.Wrapf(ErrUnknownType, "got %q", cfg.Model.Type)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills optional keys.
func (c *Config) applyDefaults() {
	if c.Wandb.Project == "" {
		c.Wandb.Project = "VQTokenizer"
	}
	if c.Data.NumWorkers <= 0 {
		c.Data.NumWorkers = 1
	}
	if c.Data.MaxSeqLen == 0 {
		c.Data.MaxSeqLen = 64
	}
	if c.Model.NumLayers == 0 {
		c.Model.NumLayers = 3
	}
	t := &c.Trainer
	if t.CheckpointDir == "" {
		t.CheckpointDir = "./checkpoints"
	}
	if t.CheckpointName == "" {
		t.CheckpointName = c.Model.Type + "tokenizer-{epoch:02d}-{val_total_loss:.4f}"
	}
	if t.Monitor == "" {
		t.Monitor = "val_total_loss"
	}
	if t.MonitorMode == "" {
		t.MonitorMode = "min"
	}
	if t.LogEveryNSteps <= 0 {
		t.LogEveryNSteps = 100
	}
	if t.ValCheckInterval == 0 {
		t.ValCheckInterval = 1
	}
	if c.Metrics.RunDir == "" {
		c.Metrics.RunDir = "./runs"
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	type check struct {
		field  string
		ok     bool
		reason string
	}
	m := c.Model
	checks := []check{
		{"data.pdb_dir", c.Data.PDBDir != "", "required"},
		{"data.patch_size", c.Data.PatchSize > 0, "must be positive"},
		{"data.batch_size", c.Data.BatchSize > 0, "must be positive"},
		{"data.max_seq_len", c.Data.MaxSeqLen > 0, "must be positive"},
		{"data.val_fraction", c.Data.ValFraction >= 0 && c.Data.ValFraction < 1, "must be in [0, 1)"},
		{"model.hidden_dim", m.HiddenDim > 0, "must be positive"},
		{"model.latent_dim", m.LatentDim > 0, "must be positive"},
		{"model.nhead", m.NHead > 0 && m.HiddenDim%max(1, m.NHead) == 0, "must be positive and divide hidden_dim"},
		{"model.num_layers", m.NumLayers > 0, "must be positive"},
		{"model.commitment_cost", m.CommitmentCost >= 0, "must be non-negative"},
		{"trainer.max_epochs", c.Trainer.MaxEpochs > 0 || c.Trainer.MaxSteps > 0, "max_epochs or max_steps must be positive"},
		{"trainer.monitor_mode", c.Trainer.MonitorMode == "min" || c.Trainer.MonitorMode == "max", "must be min or max"},
		{"trainer.val_check_interval", c.Trainer.ValCheckInterval > 0 && c.Trainer.ValCheckInterval <= 1, "must be in (0, 1]"},
		{"trainer.final_model_path", c.Trainer.FinalModelPath != "", "required"},
	}
	switch m.Type {
	case TypeVQ:
		checks = append(checks,
			check{"model.num_embeddings", m.NumEmbeddings > 0, "required for vq"},
			check{"model.learning_rate", m.LearningRate > 0, "must be positive"},
		)
	case TypeLFQ:
		checks = append(checks,
			check{"model.latent_dim", m.LatentDim <= 24, "lfq supports at most 24 bits"},
			check{"model.temperature", m.Temperature > 0, "required for lfq"},
			check{"model.lr_peak", m.LRPeak > 0, "required for lfq"},
			check{"model.lr_min", m.LRMin >= 0 && m.LRMin <= m.LRPeak, "must be in [0, lr_peak]"},
			check{"model.lr_warmup_ratio", m.LRWarmupRatio >= 0, "must be non-negative"},
			check{"model.lr_decay_ratio", m.LRDecayRatio >= 0 && m.LRWarmupRatio+m.LRDecayRatio <= 1, "warmup and decay ratios must sum to at most 1"},
			check{"model.weight_decay", m.WeightDecay >= 0, "must be non-negative"},
			check{"model.entropy_weight", m.EntropyWeight >= 0, "must be non-negative"},
		)
	}
	for _, ch := range checks {
		if !ch.ok {
			return &ValidationError{Field: ch.field, Reason: ch.reason}
		}
	}
	return nil
}

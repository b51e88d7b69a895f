package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/config"
)

// legacyVQ is a document as produced by the original generator.
const legacyVQ = `wandb:
  project: VQTokenizer
data:
  pdb_dir: ./data
  patch_size: 8
  batch_size: 64
  num_workers: 12
model:
  hidden_dim: 768
  latent_dim: 512
  num_embeddings: 768
  nhead: 16
  learning_rate: 0.001
trainer:
  max_epochs: 50
  accelerator: auto
  checkpoint_dir: ./checkpoints
  checkpoint_name: vqtokenizer-{epoch:02d}-{val_total_loss:.4f}
  save_top_k: 5
  monitor: val_total_loss
  monitor_mode: min
  log_every_n_steps: 100
  val_check_interval: 0.25
  final_model_path: ./weight/final_model.ckpt
  precision: bf16-mixed
  strategy: auto
`

func TestDefaultRoundTrip(t *testing.T) {
	for _, kind := range []string{config.TypeVQ, config.TypeLFQ} {
		t.Run(kind, func(t *testing.T) {
			want, err := config.Default(kind)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), config.DefaultPath(kind))
			require.NoError(t, config.Write(path, want))

			got, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDefaultValues(t *testing.T) {
	vq, err := config.Default(config.TypeVQ)
	require.NoError(t, err)
	assert.Equal(t, 768, vq.Model.NumEmbeddings)
	assert.Equal(t, 1e-3, vq.Model.LearningRate)
	assert.Equal(t, "vqtokenizer-{epoch:02d}-{val_total_loss:.4f}", vq.Trainer.CheckpointName)

	lfq, err := config.Default(config.TypeLFQ)
	require.NoError(t, err)
	assert.Zero(t, lfq.Model.NumEmbeddings)
	assert.Equal(t, 8, lfq.Model.LatentDim)
	assert.Equal(t, 4e-5, lfq.Model.LRMin)
	assert.Equal(t, 0.02, lfq.Model.LRWarmupRatio)
	assert.Equal(t, "./LMDB", lfq.Data.LMDBDir)

	_, err = config.Default("pq")
	assert.ErrorIs(t, err, config.ErrUnknownType)
}

func TestWriteOmitsOtherKindKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vq.yml")
	cfg, err := config.Default(config.TypeVQ)
	require.NoError(t, err)
	require.NoError(t, config.Write(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lr_peak")
	assert.Contains(t, string(raw), "num_embeddings: 768")
	assert.Contains(t, string(raw), "checkpoint_name: vqtokenizer-{epoch:02d}-{val_total_loss:.4f}")
}

func TestParseLegacyDocument(t *testing.T) {
	cfg, err := config.Parse([]byte(legacyVQ))
	require.NoError(t, err)
	assert.Equal(t, config.TypeVQ, cfg.Model.Type)
	assert.Equal(t, 3, cfg.Model.NumLayers)
	assert.Equal(t, 64, cfg.Data.MaxSeqLen)
	assert.Equal(t, 0.25, cfg.Model.CommitmentCost)
	assert.Equal(t, 0.05, cfg.Data.ValFraction)
	assert.Equal(t, "./runs", cfg.Metrics.RunDir)
}

func TestParseKeepsExplicitZeros(t *testing.T) {
	doc := strings.Replace(legacyVQ, "  num_workers: 12\n", "  num_workers: 12\n  val_fraction: 0\n", 1)
	doc = strings.Replace(doc, "  learning_rate: 0.001\n", "  learning_rate: 0.001\n  commitment_cost: 0\n", 1)
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Zero(t, cfg.Data.ValFraction)
	assert.Zero(t, cfg.Model.CommitmentCost)

	// The zeros survive a write and reload.
	path := filepath.Join(t.TempDir(), "zeros.yml")
	require.NoError(t, config.Write(path, cfg))
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing hidden_dim", "data: {pdb_dir: d, patch_size: 8, batch_size: 2}\nmodel: {latent_dim: 4, num_embeddings: 8, nhead: 2, learning_rate: 0.1}\ntrainer: {max_epochs: 1, final_model_path: f}", "model.hidden_dim"},
		{"missing pdb_dir", "data: {patch_size: 8, batch_size: 2}\nmodel: {hidden_dim: 8, latent_dim: 4, num_embeddings: 8, nhead: 2, learning_rate: 0.1}\ntrainer: {max_epochs: 1, final_model_path: f}", "data.pdb_dir"},
		{"lfq without temperature", "data: {pdb_dir: d, patch_size: 8, batch_size: 2}\nmodel: {hidden_dim: 8, latent_dim: 4, nhead: 2, lr_peak: 0.1}\ntrainer: {max_epochs: 1, final_model_path: f}", "model.temperature"},
		{"heads do not divide", "data: {pdb_dir: d, patch_size: 8, batch_size: 2}\nmodel: {hidden_dim: 8, latent_dim: 4, num_embeddings: 8, nhead: 3, learning_rate: 0.1}\ntrainer: {max_epochs: 1, final_model_path: f}", "model.nhead"},
		{"negative commitment", "data: {pdb_dir: d, patch_size: 8, batch_size: 2}\nmodel: {hidden_dim: 8, latent_dim: 4, num_embeddings: 8, nhead: 2, learning_rate: 0.1, commitment_cost: -1}\ntrainer: {max_epochs: 1, final_model_path: f}", "model.commitment_cost"},
		{"bad monitor mode", "data: {pdb_dir: d, patch_size: 8, batch_size: 2}\nmodel: {hidden_dim: 8, latent_dim: 4, num_embeddings: 8, nhead: 2, learning_rate: 0.1}\ntrainer: {max_epochs: 1, final_model_path: f, monitor_mode: up}", "trainer.monitor_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			var verr *config.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseRejectsUnknownTypeAndKeys(t *testing.T) {
	_, err := config.Parse([]byte("model: {type: pq}"))
	assert.ErrorIs(t, err, config.ErrUnknownType)

	_, err = config.Parse([]byte("model: {hidden_size: 8}"))
	assert.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

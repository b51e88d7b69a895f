package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vqtokenizer/internal/config"
	"github.com/born-ml/vqtokenizer/internal/preprocess"
)

type preprocessCommand struct {
	global *globalOptions
	stdout io.Writer
	stderr io.Writer

	Config     string `long:"config" required:"true" description:"path to the training config"`
	LMDBFolder string `long:"lmdb_folder" required:"true" description:"folder that receives the feature store"`
	Workers    int    `long:"workers" description:"parsing workers (default data.num_workers)"`
}

// Execute implements flags.Commander.
func (c *preprocessCommand) Execute([]string) error {
	logger := c.global.newLogger(c.stderr)
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := buildStore(ctx, cfg, c.LMDBFolder, c.Workers, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Store saved: %s\n", res.StorePath)
	fmt.Fprintf(c.stdout, "SHA256: %s\n", res.Checksum)
	fmt.Fprintf(c.stdout, "Checksum file: %s\n", res.ChecksumPath)
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, folder string, workers int, logger logrus.FieldLogger) (*preprocess.Result, error) {
	if workers <= 0 {
		workers = cfg.Data.NumWorkers
	}
	return preprocess.Run(ctx, preprocess.Options{
		SourceDir: cfg.Data.PDBDir,
		OutputDir: folder,
		PatchSize: cfg.Data.PatchSize,
		Workers:   workers,
	}, logger)
}

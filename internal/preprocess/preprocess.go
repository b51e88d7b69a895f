// Package preprocess builds the cached feature store from a directory of
// structure files. The job is single-pass: an interrupted run is restarted
// from scratch, and every run recreates the store.
package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/vqtokenizer/internal/backbone"
	"github.com/born-ml/vqtokenizer/internal/pdb"
	"github.com/born-ml/vqtokenizer/internal/store"
)

// ErrNoSources is returned when the source directory holds no structure files.
var ErrNoSources = errors.New("preprocess: no .pdb files found")

// Options configures a Run.
type Options struct {
	SourceDir string // Directory scanned for *.pdb files
	OutputDir string // Folder that receives the store and its checksum
	PatchSize int
	Workers   int // Parsing workers; <= 0 uses GOMAXPROCS
}

// Result summarizes a completed run.
type Result struct {
	StorePath    string
	Checksum     string
	ChecksumPath string
	FilesWritten int
	FilesSkipped int
	Patches      int
}

type extracted struct {
	key     string
	patches []backbone.Patch
}

// Run extracts patches from every structure file and writes them to a new
// store under OutputDir.
//
// Files with too few eligible residues and unreadable files are logged and
// skipped. Parsing runs on a bounded worker pool; a single goroutine owns
// the store and writes results as they arrive.
func Run(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Result, error) {
	if opts.PatchSize <= 0 {
		return nil, errors.Errorf("preprocess: patch size must be positive, got %d", opts.PatchSize)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger = logger.WithField("action", "preprocess")

	files, err := filepath.Glob(filepath.Join(opts.SourceDir, "*.pdb"))
	if err != nil {
		return nil, errors.Wrap(err, "list structure files")
	}
	if len(files) == 0 {
		return nil, errors.Wrap(ErrNoSources, opts.SourceDir)
	}
	sort.Strings(files)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output folder")
	}
	storePath := filepath.Join(opts.OutputDir, store.FileName)
	st, err := store.Create(storePath)
	if err != nil {
		return nil, err
	}

	res := &Result{StorePath: storePath}
	results := make(chan extracted, workers)
	paths := make(chan string)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(paths)
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case paths <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	parsers, pctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		parsers.Go(func() error {
			for path := range paths {
				patches := extract(path, opts.PatchSize, logger)
				select {
				case results <- extracted{key: path, patches: patches}:
				case <-pctx.Done():
					return pctx.Err()
				}
			}
			return nil
		})
	}
	eg.Go(func() error {
		defer close(results)
		return parsers.Wait()
	})

	eg.Go(func() error {
		for r := range results {
			if len(r.patches) == 0 {
				res.FilesSkipped++
				continue
			}
			cols := len(r.patches[0])
			if err := st.Put(r.key, len(r.patches), cols, backbone.Flatten(r.patches)); err != nil {
				return errors.Wrapf(err, "store %s", r.key)
			}
			res.FilesWritten++
			res.Patches += len(r.patches)
		}
		return nil
	})

	runErr := eg.Wait()
	if err := st.Close(); err != nil && runErr == nil {
		runErr = errors.Wrap(err, "close store")
	}
	if runErr != nil {
		return nil, runErr
	}

	res.Checksum, res.ChecksumPath, err = store.WriteChecksum(storePath)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"store":   storePath,
		"written": res.FilesWritten,
		"skipped": res.FilesSkipped,
		"patches": res.Patches,
	}).Info("feature store built")
	return res, nil
}

// extract returns the patches of one file, or nil when the file is skipped.
func extract(path string, patchSize int, logger logrus.FieldLogger) []backbone.Patch {
	residues, err := pdb.ReadFile(path)
	if err != nil {
		logger.WithField("file", path).WithError(err).Warn("skipping unreadable structure")
		return nil
	}
	patches, err := backbone.ExtractPatches(residues, patchSize)
	if errors.Is(err, backbone.ErrTooFewResidues) {
		logger.WithField("file", path).Debug("skipping short chain")
		return nil
	}
	return patches
}

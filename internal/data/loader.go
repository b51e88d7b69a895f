package data

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Batch is a padded block of sequences. Inputs is [Size, SeqLen, Width]
// row-major; Mask[b*SeqLen+t] is true for real patches and false for padding.
type Batch struct {
	Size   int
	SeqLen int
	Width  int
	Inputs []float32
	Mask   []bool
	Keys   []string // Source file of each sequence
}

// NumValid returns the number of unpadded patches.
func (b *Batch) NumValid() int {
	n := 0
	for _, ok := range b.Mask {
		if ok {
			n++
		}
	}
	return n
}

// ValidIndices returns the flat positions of unpadded patches in order.
func (b *Batch) ValidIndices() []int {
	idx := make([]int, 0, len(b.Mask))
	for i, ok := range b.Mask {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// Loader produces batches from a Dataset with a pool of workers.
//
// Each worker assembles complete batches from its own share of the batch
// plan and sends them on a channel buffered to Workers entries, so the
// consumer blocks only when no batch is ready. Workers share no mutable
// state.
type Loader struct {
	Dataset   *Dataset
	BatchSize int
	Workers   int
	Shuffle   bool
	Seed      int64

	mu    sync.Mutex
	epoch int64
}

// NumBatches returns the number of batches per pass.
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Dataset.Len() + l.BatchSize - 1) / l.BatchSize
}

// Batches starts one pass over the dataset. The batch channel is closed
// when the pass completes or ctx is cancelled; the error channel then
// yields at most one error.
//
// With Shuffle set, every call draws a new order from Seed and the pass
// number, so runs are reproducible.
func (l *Loader) Batches(ctx context.Context) (<-chan *Batch, <-chan error) {
	workers := max(1, l.Workers)
	out := make(chan *Batch, workers)
	errs := make(chan error, 1)

	plan := l.plan()
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for i := w; i < len(plan); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				select {
				case out <- l.assemble(plan[i]):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		if err := eg.Wait(); err != nil {
			errs <- err
		}
		close(out)
		close(errs)
	}()
	return out, errs
}

// plan splits the (optionally shuffled) sequence order into batches.
func (l *Loader) plan() [][]int {
	n := l.Dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.mu.Lock()
		epoch := l.epoch
		l.epoch++
		l.mu.Unlock()
		rng := rand.New(rand.NewSource(l.Seed + epoch))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	size := max(1, l.BatchSize)
	plan := make([][]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		plan = append(plan, order[start:min(start+size, n)])
	}
	return plan
}

// assemble pads the given sequences to the longest one.
func (l *Loader) assemble(indices []int) *Batch {
	width := l.Dataset.Width
	seqLen := 0
	for _, i := range indices {
		seqLen = max(seqLen, l.Dataset.Sequences[i].Len)
	}

	b := &Batch{
		Size:   len(indices),
		SeqLen: seqLen,
		Width:  width,
		Inputs: make([]float32, len(indices)*seqLen*width),
		Mask:   make([]bool, len(indices)*seqLen),
		Keys:   make([]string, len(indices)),
	}
	for row, i := range indices {
		seq := l.Dataset.Sequences[i]
		copy(b.Inputs[row*seqLen*width:], seq.Data)
		for t := 0; t < seq.Len; t++ {
			b.Mask[row*seqLen+t] = true
		}
		b.Keys[row] = seq.Key
	}
	return b
}

package encoder

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/boxes"
)

// Sample is the ground truth of one image.
type Sample struct {
	Boxes  []boxes.Box
	Labels []int
}

// Validate reports the first reason Encode would reject the sample:
// ErrLengthMismatch, ErrInvalidLabel or ErrDegenerateBox.
func (s Sample) Validate() error {
	if len(s.Boxes) != len(s.Labels) {
		return errors.Wrapf(ErrLengthMismatch, "%d boxes, %d labels", len(s.Boxes), len(s.Labels))
	}
	for i, b := range s.Boxes {
		if s.Labels[i] <= 0 {
			return errors.Wrapf(ErrInvalidLabel, "box %d has label %d", i, s.Labels[i])
		}
		if b.Width() <= 0 || b.Height() <= 0 {
			return errors.Wrapf(ErrDegenerateBox, "box %d is %s", i, b)
		}
	}
	return nil
}

// EncodeBatch encodes samples concurrently and returns their targets in input
// order.
//
// Arguments:
//   - samples: The images of the batch.
//   - workers: Number of goroutines. Values below 1 use runtime.NumCPU().
//
// Returns:
//   - []*Targets: One entry per sample.
//   - error: The error of the lowest-indexed failing sample.
func (e *Encoder) EncodeBatch(samples []Sample, workers int) ([]*Targets, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(samples))

	out := make([]*Targets, len(samples))
	errs := make([]error, len(samples))

	jobs := make(chan int, len(samples))
	for i := range samples {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i], errs[i] = e.Encode(samples[i].Boxes, samples[i].Labels)
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
	}
	return out, nil
}

// Stack batches per-image targets into the tensors consumed by the loss.
//
// Returns:
//   - loc: A (B, N, 4) float32 tensor.
//   - conf: A (B, N) int tensor.
//   - err: ErrShapeMismatch if the batch is empty or the targets differ in length.
func Stack(targets []*Targets) (loc, conf *tensor.Dense, err error) {
	if len(targets) == 0 {
		return nil, nil, errors.Wrap(ErrShapeMismatch, "empty batch")
	}

	n := len(targets[0].Conf)
	locBacking := make([]float32, 0, len(targets)*4*n)
	confBacking := make([]int, 0, len(targets)*n)
	for i, t := range targets {
		if len(t.Conf) != n || len(t.Loc) != 4*n {
			return nil, nil, errors.Wrapf(ErrShapeMismatch,
				"sample %d has %d anchors, sample 0 has %d", i, len(t.Conf), n)
		}
		locBacking = append(locBacking, t.Loc...)
		confBacking = append(confBacking, t.Conf...)
	}

	loc = tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(targets), n, 4),
		tensor.WithBacking(locBacking),
	)
	conf = tensor.New(
		tensor.Of(tensor.Int),
		tensor.WithShape(len(targets), n),
		tensor.WithBacking(confBacking),
	)
	return loc, conf, nil
}

// Package runner keeps a compute device busy with a dense linear layer for
// a fixed wall-clock budget, then runs one final forward pass.
package runner

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scttfrdmn/devblock/internal/device"
	"github.com/scttfrdmn/devblock/internal/model"
	"github.com/scttfrdmn/devblock/internal/tensor"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A run has three phases:
//
//   1. setup:   resolve the device, decide how the final pass will execute,
//               open the backend(s), build the layer and a random batch
//   2. warm-up: apply the layer to the same batch over and over until the
//               block time has elapsed, printing progress every 2 seconds
//   3. final:   apply the layer once more, directly or replicated across
//               every accelerator, and print the output shape
//
// The final-pass strategy is decided in setup, so an impossible combination
// (parallel mode without at least two accelerators) fails before any time
// is spent blocking.
//
// The warm-up never sleeps. It checks the context between passes so Ctrl-C
// ends it promptly.
//
// ===========================================================================

// Defaults for the layer and batch.
const (
	DefaultBatchSize     = 64
	DefaultFeatures      = 1024
	DefaultPrintInterval = 2 * time.Second
)

type strategy int

const (
	direct strategy = iota
	replicated
)

// Runner executes Options against a set of accelerators.
type Runner struct {
	Out          io.Writer
	Logger       *zap.Logger
	Accelerators device.Accelerators
	Compute      tensor.ComputeConfig
	Rand         *rand.Rand
	// Now is the wall clock. Tests replace it.
	Now           func() time.Time
	BatchSize     int
	Features      int
	PrintInterval time.Duration
}

// New returns a runner on the system's accelerators with default sizes.
// A nil logger discards logs.
func New(out io.Writer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Out:           out,
		Logger:        logger,
		Accelerators:  device.System(),
		Compute:       tensor.DefaultComputeConfig(),
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:           time.Now,
		BatchSize:     DefaultBatchSize,
		Features:      DefaultFeatures,
		PrintInterval: DefaultPrintInterval,
	}
}

// Run executes one run.
func (r *Runner) Run(ctx context.Context, opts Options) (err error) {
	if err := opts.Validate(); err != nil {
		return err
	}

	dev, err := device.Resolve(device.Request{
		Type:   opts.DeviceType,
		Single: opts.Mode == ModeSingle,
		Index:  opts.CUDADevice,
	}, r.Accelerators)
	if err != nil {
		return errors.Wrap(err, "resolve device")
	}
	r.printf("Using %s.\n", dev)

	strat, err := chooseStrategy(opts, dev, r.Accelerators.Count())
	if err != nil {
		return err
	}

	backends, err := r.openBackends(dev, strat)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := device.CloseAll(backends); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close backends")
		}
	}()
	primary := backends[0]
	r.Logger.Info("device ready",
		zap.Stringer("device", primary.Device()),
		zap.String("backend", primary.Name()),
		zap.Int("replicas", len(backends)))

	layer := model.NewLinear(r.Rand, r.Features, r.Features)
	data := tensor.Randn(r.Rand, r.BatchSize, r.Features)
	bound := layer.To(primary)

	statsBefore := tensor.Stats.Snapshot()
	iterations, err := r.block(ctx, bound, data, opts.BlockTime)
	if err != nil {
		return err
	}
	statsAfter := tensor.Stats.Snapshot()
	r.Logger.Debug("warm-up finished",
		zap.Int("iterations", iterations),
		zap.Int64("cpu_matmuls", statsAfter.TotalOps-statsBefore.TotalOps),
		zap.Duration("cpu_matmul_time", time.Duration(statsAfter.TotalTimeNs-statsBefore.TotalTimeNs)))
	r.printf("Completed blocking GPU for %d seconds.\n", opts.BlockTime)

	var final model.Model = bound
	if strat == replicated {
		r.printf("Running on %d GPUs in parallel\n", len(backends))
		dp, err := model.NewDataParallel(layer, backends)
		if err != nil {
			return err
		}
		final = dp
	}

	output, err := final.Forward(ctx, data)
	if err != nil {
		return errors.Wrap(err, "final forward pass")
	}
	r.printf("Output size: %s\n", tensor.FormatShape(output.Shape()))
	return nil
}

// chooseStrategy decides how the final pass runs: directly when in single
// mode or on the CPU, replicated when in parallel mode on an accelerator with
// more than one visible, and not at all otherwise.
func chooseStrategy(opts Options, dev device.Device, accelerators int) (strategy, error) {
	switch {
	case opts.Mode == ModeSingle || opts.wantsCPU():
		return direct, nil
	case opts.Mode == ModeParallel && dev.IsAccelerator() && accelerators > 1:
		return replicated, nil
	default:
		return 0, errors.Wrapf(ErrInvalidConfig, "mode %s on %s with %d accelerator(s)", opts.Mode, dev, accelerators)
	}
}

// openBackends returns the backend for dev first, followed by the rest of
// the accelerators when the final pass is replicated.
func (r *Runner) openBackends(dev device.Device, strat strategy) ([]device.Backend, error) {
	if strat == replicated {
		backends, err := device.OpenAll(r.Accelerators)
		if err != nil {
			return nil, errors.Wrap(err, "open accelerators")
		}
		return backends, nil
	}

	b, err := device.Open(dev, r.Accelerators, r.Compute)
	if err != nil {
		return nil, err
	}
	return []device.Backend{b}, nil
}

// block applies m to data until seconds have elapsed and returns how many
// passes ran.
func (r *Runner) block(ctx context.Context, m model.Model, data *tensor.Tensor, seconds int) (int, error) {
	budget := time.Duration(seconds) * time.Second
	start := r.Now()
	nextPrint := start.Add(r.PrintInterval)
	r.printf("I will now be blocking the GPU for %.1fs\n", float64(seconds))

	iterations := 0
	for r.Now().Sub(start) < budget {
		if err := ctx.Err(); err != nil {
			return iterations, errors.Wrap(err, "blocking interrupted")
		}
		if _, err := m.Forward(ctx, data); err != nil {
			return iterations, errors.Wrap(err, "forward pass")
		}
		iterations++

		current := r.Now()
		if !current.Before(nextPrint) {
			r.printf("Blocking GPU, elapsed time: %.2f/%.1fs\n", current.Sub(start).Seconds(), float64(seconds))
			nextPrint = nextPrint.Add(r.PrintInterval)
		}
	}
	return iterations, nil
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.Out, format, args...)
}

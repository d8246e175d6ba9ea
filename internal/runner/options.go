package runner

import (
	"strings"

	"github.com/pkg/errors"
)

// Execution modes.
const (
	ModeSingle   = "single"
	ModeParallel = "parallel"
)

// Device types accepted on the command line.
const (
	DeviceCPU = "cpu"
	DeviceGPU = "gpu"
)

// ErrInvalidConfig is returned for option values or combinations the runner
// cannot execute.
var ErrInvalidConfig = errors.New("invalid mode or device type selected")

// Options are the parsed command-line values for one run.
type Options struct {
	// Mode is "single" or "parallel".
	Mode string
	// DeviceType is "cpu" or "gpu", case-insensitive.
	DeviceType string
	// BlockTime is how long to keep the device busy, in seconds.
	BlockTime int
	// CUDADevice is the accelerator index used in single mode.
	CUDADevice string
}

// DefaultOptions returns the command-line defaults.
func DefaultOptions() Options {
	return Options{
		Mode:       ModeSingle,
		DeviceType: DeviceGPU,
		BlockTime:  0,
		CUDADevice: "0",
	}
}

// Validate checks each option on its own. Combinations are checked once the
// device is known.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeSingle, ModeParallel:
	default:
		return errors.Wrapf(ErrInvalidConfig, "mode %q (want %s or %s)", o.Mode, ModeSingle, ModeParallel)
	}

	switch strings.ToLower(o.DeviceType) {
	case DeviceCPU, DeviceGPU:
	default:
		return errors.Wrapf(ErrInvalidConfig, "device %q (want %s or %s)", o.DeviceType, DeviceCPU, DeviceGPU)
	}

	if o.BlockTime < 0 {
		return errors.Wrapf(ErrInvalidConfig, "time %d must not be negative", o.BlockTime)
	}
	return nil
}

func (o Options) wantsCPU() bool {
	return strings.EqualFold(o.DeviceType, DeviceCPU)
}

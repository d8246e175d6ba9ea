// Command devblock keeps a CPU or GPU busy with a dense linear layer for a
// given number of seconds, then runs it once more and prints the output
// shape.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scttfrdmn/devblock/internal/logging"
	"github.com/scttfrdmn/devblock/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := runner.DefaultOptions()
	var verbose bool
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "devblock",
		Short: "Occupy a compute device with a linear layer",
		Long: `devblock builds a single 1024x1024 linear layer and applies it to a random
(64, 1024) batch in a busy loop for --time seconds, printing progress every
2 seconds. It then applies the layer once more, replicated across every
visible GPU in parallel mode, and prints the output shape.

Builds without the "cuda" tag see no GPUs and always run on the CPU.`,
		Example: `  devblock -d cpu
  devblock -m single -d gpu -c 1 -t 60
  devblock -m parallel -d gpu -t 30`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.New(verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags parsed; failures from here on are not usage errors.
			cmd.SilenceUsage = true
			return runner.New(out, logger).Run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Mode, "mode", "m", opts.Mode,
		"Mode to run the model: 'single' for a single GPU or 'parallel' for all GPUs")
	flags.StringVarP(&opts.DeviceType, "device", "d", opts.DeviceType,
		"Device type to use: 'cpu' or 'gpu'")
	flags.IntVarP(&opts.BlockTime, "time", "t", opts.BlockTime,
		"Time in seconds to block the device")
	flags.StringVarP(&opts.CUDADevice, "cuda-device", "c", opts.CUDADevice,
		"CUDA device index to use when mode is 'single'")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")

	cmd.SetOut(out)
	return cmd
}

// Command hello prints a greeting, the argument it was given and a small
// array.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scttfrdmn/devblock/internal/greeting"
	"github.com/scttfrdmn/devblock/internal/logging"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var argument string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "hello",
		Short:         "Print a greeting and a simple array",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			logger, err := logging.New(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger.Debug("greeting", zap.String("argument", argument))

			return greeting.Greet(out, argument)
		},
	}

	cmd.Flags().StringVarP(&argument, "argument", "a", greeting.DefaultArgument,
		"Provide an argument for the script")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")

	cmd.SetOut(out)
	return cmd
}

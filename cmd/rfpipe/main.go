package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	successExitCode = 0
	errorExitCode   = 1
)

// rootOptions are flags shared by all commands.
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "rfpipe",
		Short: "Chunked processing of radio intensity streams",
		Long: `rfpipe feeds a stream of frequency by time intensity and weight samples
through a chain of transforms. Each transform works at its own chunk size
with its own look-back and look-ahead.

Settings are read from the config file and RFPIPE_* environment variables,
e.g. RFPIPE_STREAM_NFREQ overrides stream.nfreq.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "pipeline config file (default: noise through a detrender)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.AddCommand(newRunCmd(opts), newConfigCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(errorExitCode)
	}
	os.Exit(successExitCode)
}

package main

import "github.com/spf13/cobra"

// NewRootCmd builds the command tree. Running the bare command is the same as
// "run".
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "medialauncher",
		Short:         "Start the Media Explorer server and open it in a browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a medialauncher.yaml config file")
	flags.IntVar(&opts.port, "port", 0, "first port to try for the server")
	flags.BoolVar(&opts.dev, "dev", false, "resolve the install root as a development checkout")
	flags.StringVar(&opts.logLevel, "log-level", "", "diagnostic log level (trace, debug, info, warn, error, disabled)")
	flags.BoolVar(&opts.noBrowser, "no-browser", false, "do not open a browser once the server is up")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newPortsCmd(opts))
	root.AddCommand(newHistoryCmd(opts))

	return root
}

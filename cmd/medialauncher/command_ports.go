package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/medialauncher/launcher/processes"
)

func newPortsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Show which port the server would be started on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			port, err := processes.NewPortManager().Allocate(cfg.Server.BasePort, cfg.Server.ScanWidth)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/medialauncher/launcher/deps"
	"github.com/tomyedwab/medialauncher/launcher/events"
)

// lineNotifier prints installer output and warnings straight to the terminal.
type lineNotifier struct {
	cmd *cobra.Command
}

func (n lineNotifier) Log(stream events.Stream, line string) {
	fmt.Fprintln(n.cmd.OutOrStdout(), line)
}

func (n lineNotifier) ReportStatus(state fmt.Stringer) {}

func (n lineNotifier) ReportError(err error) {
	fmt.Fprintln(n.cmd.ErrOrStderr(), err)
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the install layout and dependencies, installing packages if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			l, err := resolveLayout(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Install root:  %s\n", l.InstallRoot())
			fmt.Fprintf(out, "Runtime:       %s\n", l.RuntimeExecutable())
			fmt.Fprintf(out, "Media tool:    %s\n", l.MediaToolExecutable())
			fmt.Fprintf(out, "Application:   %s\n", l.AppDirectory())

			outcome, err := deps.NewChecker(deps.Config{Notifier: lineNotifier{cmd}}).Verify(cmd.Context(), l)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Status:        %s\n", outcome.Status)
			if outcome.Installed {
				fmt.Fprintln(out, "Packages were installed.")
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/medialauncher/launcher/history"
	"github.com/tomyedwab/medialauncher/launcher/logging"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit int
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent server sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.Path, logging.NewSlogLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				return pruneSessions(cmd.OutOrStdout(), store, prune)
			}
			sessions, err := store.Recent(limit)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete sessions older than this instead of listing")
	return cmd
}

func pruneSessions(w io.Writer, store *history.Store, olderThan time.Duration) error {
	n, err := store.DeleteOlderThan(olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed %d sessions older than %s.\n", n, olderThan)
	return nil
}

func printSessions(w io.Writer, sessions []history.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	fmt.Fprintf(w, "%-19s  %-5s  %-7s  %-8s  %-9s  %s\n", "STARTED", "PORT", "PID", "STATE", "DURATION", "ERROR")
	for _, s := range sessions {
		duration := "-"
		if s.EndedAt.Valid {
			duration = s.Duration().Round(time.Second).String()
		}
		errText := ""
		if s.Error.Valid {
			// Only the headline; the output tail is too long for a table.
			errText, _, _ = strings.Cut(s.Error.String, "\n")
		}
		fmt.Fprintf(w, "%-19s  %-5d  %-7d  %-8s  %-9s  %s\n",
			s.Started().Format("2006-01-02 15:04:05"), s.Port, s.PID, s.FinalState, duration, errText)
	}
}

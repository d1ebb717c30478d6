package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/services"
)

func escalationsCmd(connect Connector) *cobra.Command {
	var filter db.EscalationLogFilter

	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "Show the escalation log, newest first",
		Long: `Show the escalation log, newest first.

Examples:
  stagectl escalations
  stagectl escalations --request REQ-2024-001
  stagectl escalations --stage field_visit --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				entries, total, err := s.Engine.Escalations.ListEscalations(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No escalations recorded")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "WHEN\tREQUEST\tSTAGE\tLEVEL\tDELAY\tFROM\tTO")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.RequestID, e.StageCode,
						levelMarker(e.EscalationLevel), e.DelayDays, orDash(e.EscalatedFrom), orDash(e.EscalatedTo))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nShowing %d of %d\n", len(entries), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.RequestID, "request", "", "Only escalations for this request")
	cmd.Flags().StringVar(&filter.StageCode, "stage", "", "Only escalations for this stage code")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum entries to show (max 500)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Entries to skip")
	return cmd
}

func hashAPIKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-api-key [key]",
		Short: "Print the bcrypt hash to put in ADMIN_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if len(key) < 16 {
				return errors.New("api key must be at least 16 characters")
			}
			hash, err := services.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

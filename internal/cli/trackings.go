package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/services"
)

func scanCmd(connect Connector) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one delay scan now",
		Long: `Recompute delay days for every overdue open tracking, escalate those
that crossed a level threshold and mark overdue sub-stages.

Fails if another scan is already running in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				result, err := s.Engine.Scanner.RunDelayScan(ctx)
				if err != nil {
					return err
				}
				s.Log.Info("delay scan triggered from cli", "actor", db.GetSystemActorBySource("cli"), "escalated", result.Escalated)
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(result)
				}
				printScanResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printScanResult(out io.Writer, r services.ScanResult) {
	fmt.Fprintf(out, "Scanned:    %d\n", r.Scanned)
	fmt.Fprintf(out, "Processed:  %d\n", r.Processed)
	fmt.Fprintf(out, "Escalated:  %d\n", r.Escalated)
	fmt.Fprintf(out, "Skipped:    %d\n", r.Skipped)
	fmt.Fprintf(out, "Failed:     %d\n", r.Failed)
	fmt.Fprintf(out, "Sub-stages: %d\n", r.SubStagesScanned)
	fmt.Fprintf(out, "Took:       %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

func trackingsCmd(connect Connector) *cobra.Command {
	var openOnly bool

	cmd := &cobra.Command{
		Use:   "trackings [request-id]",
		Short: "Show stage and sub-stage trackings for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID := args[0]
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				var (
					stages []db.StageTracking
					subs   []db.SubStageTracking
					err    error
				)
				if openOnly {
					stages, err = s.Engine.Stages.ListOpenForRequest(ctx, requestID)
				} else {
					stages, err = s.Engine.Stages.ListForRequest(ctx, requestID)
				}
				if err != nil {
					return err
				}
				if openOnly {
					subs, err = s.Engine.SubStages.ListOpenForRequest(ctx, requestID)
				} else {
					subs, err = s.Engine.SubStages.ListForRequest(ctx, requestID)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(stages) == 0 && len(subs) == 0 {
					fmt.Fprintf(out, "No trackings for request %s\n", requestID)
					return nil
				}
				if err := printStageTrackings(out, stages); err != nil {
					return err
				}
				if len(subs) > 0 {
					fmt.Fprintln(out)
					return printSubStageTrackings(out, subs)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only show trackings that are not completed")
	return cmd
}

func delayedCmd(connect Connector) *cobra.Command {
	var withSubs bool

	cmd := &cobra.Command{
		Use:   "delayed",
		Short: "List open trackings flagged as delayed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				stages, err := s.Engine.Stages.ListAllDelayed(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(stages) == 0 {
					fmt.Fprintln(out, "No delayed stages")
				} else if err := printStageTrackings(out, stages); err != nil {
					return err
				}

				if !withSubs {
					return nil
				}
				subs, err := s.Engine.SubStages.ListAllDelayed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				if len(subs) == 0 {
					fmt.Fprintln(out, "No delayed sub-stages")
					return nil
				}
				return printSubStageTrackings(out, subs)
			})
		},
	}
	cmd.Flags().BoolVar(&withSubs, "sub-stages", false, "Also list delayed sub-stages")
	return cmd
}

func atRiskCmd(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "at-risk",
		Short: "List open trackings inside their warning window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				stages, err := s.Engine.Stages.ListAtRisk(ctx)
				if err != nil {
					return err
				}
				if len(stages) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stages at risk")
					return nil
				}
				return printStageTrackings(cmd.OutOrStdout(), stages)
			})
		},
	}
}

func printStageTrackings(out io.Writer, trackings []db.StageTracking) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREQUEST\tSTAGE\tSTARTED\tDUE\tDELAY\tLEVEL\tASSIGNEE\tSTATUS")
	for _, t := range trackings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID, t.RequestID, stageName(t.StageCode, t.StageLabel),
			formatDate(&t.StartedAt), formatDate(t.DueAt), t.DelayDays,
			levelMarker(t.EscalationLevel), orDash(t.AssignedTo), status(t.CompletedAt, t.IsDelayed))
	}
	return w.Flush()
}

func printSubStageTrackings(out io.Writer, trackings []db.SubStageTracking) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREQUEST\tSUB-STAGE\tSTAGE\tDUE\tDELAY\tASSIGNEE\tSTATUS")
	for _, t := range trackings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.RequestID, t.SubStageCode, t.StageCode, formatDate(t.DueAt), t.DelayDays,
			orDash(t.AssignedTo), status(t.CompletedAt, t.IsDelayed))
	}
	return w.Flush()
}

func stageName(code, label string) string {
	if label == "" {
		return code
	}
	return fmt.Sprintf("%s (%s)", code, label)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func levelMarker(level int) string {
	switch level {
	case 0:
		return "-"
	case 1:
		return color.New(color.FgYellow).Sprint("L1")
	default:
		return color.New(color.FgRed).Sprintf("L%d", level)
	}
}

func status(completedAt *time.Time, delayed bool) string {
	switch {
	case completedAt != nil:
		return color.New(color.FgHiGreen).Sprint("done")
	case delayed:
		return color.New(color.FgRed).Sprint("delayed")
	default:
		return "open"
	}
}

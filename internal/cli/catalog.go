package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/migrations"
)

func migrateCmd(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				applied, err := migrations.Apply(ctx, s.PG, s.Log)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
				}
				return nil
			})
		},
	}
}

func seedCmd(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install or refresh the default stage catalog",
		Long: `Insert the default stages and sub-stages. Existing rows keep their
thresholds and active flag; only label, position and description are refreshed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				if err := bootstrap.SeedCatalog(ctx, s.Engine.Catalog, s.Log); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stage catalog seeded")
				return nil
			})
		},
	}
}

func stagesCmd(connect Connector) *cobra.Command {
	var includeInactive bool

	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List the stage catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, connect, func(ctx context.Context, s *Session) error {
				stages, err := s.Engine.Catalog.ListStages(ctx, includeInactive)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "POS\tCODE\tLABEL\tDAYS\tWARN\tL1\tL2\tSUB-STAGES")
				for _, st := range stages {
					subs, err := s.Engine.Catalog.ListSubStages(ctx, st.Code)
					if err != nil {
						return err
					}
					code := st.Code
					if !st.IsActive {
						code += color.New(color.FgHiBlack).Sprint(" [inactive]")
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", st.Position, code, st.Label,
						st.ExpectedDurationDays, st.WarningThresholdDays,
						st.EscalationLevel1Days, st.EscalationLevel2Days, len(subs))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&includeInactive, "all", false, "Include deactivated stages")
	return cmd
}

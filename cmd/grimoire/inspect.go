package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Hydrate from the store and print a state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.engine.Ready(ctx); err != nil {
				return fmt.Errorf("hydrate: %w", err)
			}
			snap, err := rt.engine.Snapshot(ctx)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func decreesCmd() *cobra.Command {
	var toggle string

	cmd := &cobra.Command{
		Use:   "decrees",
		Short: "Print today's decrees, regenerating them if the day changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.engine.Ready(ctx); err != nil {
				return fmt.Errorf("hydrate: %w", err)
			}
			if toggle != "" {
				res, err := rt.engine.ToggleDecree(ctx, toggle)
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			d, err := rt.engine.Decrees(ctx)
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}

	cmd.Flags().StringVar(&toggle, "toggle", "", "Decree id to toggle")
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all durable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe state without --yes")
			}
			ctx := cmd.Context()
			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.engine.ResetAll(ctx)
			if err != nil {
				return err
			}
			rt.logger.Warn().Int("entities", len(report.States)).Msg("state wiped")
			return printJSON(report)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	return cmd
}

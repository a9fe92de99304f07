package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"brain2-connections/application/services"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/infrastructure/config"
	"brain2-connections/infrastructure/di"
)

// opener builds the dependency container; tests swap it out
type opener func(ctx context.Context) (*di.Container, func(), error)

func openContainer(ctx context.Context) (*di.Container, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return di.InitializeContainer(ctx, cfg)
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "historyctl",
		Short:         "Inspect and maintain the connection history ledger",
		Long:          `historyctl works directly against the configured store (STORAGE_BACKEND, CONFIG_FILE). It is meant for operators; the HTTP API is the normal interface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newCleanupCmd(open),
		newStatsCmd(open),
		newRollbackCmd(open),
		newLineageCmd(open),
	)
	return root
}

// withContainer opens the container for the duration of one command
func withContainer(cmd *cobra.Command, open opener, fn func(c *di.Container) (interface{}, error)) error {
	c, cleanup, err := open(cmd.Context())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer cleanup()

	result, err := fn(c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newCleanupCmd(open opener) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete history entries older than a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, open, func(c *di.Container) (interface{}, error) {
				if !cmd.Flags().Changed("older-than-days") {
					days = c.Janitor.DefaultDays()
				}
				deleted, err := c.Janitor.Cleanup(cmd.Context(), days)
				if err != nil {
					return nil, err
				}
				return map[string]int{"deleted": deleted, "olderThanDays": days}, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 0, "age threshold in days (default: configured retention)")
	return cmd
}

func newStatsCmd(open opener) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show change counts and recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, open, func(c *di.Container) (interface{}, error) {
				return c.History.Stats(cmd.Context(), actor)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "only count entries recorded by this actor")
	return cmd
}

func newRollbackCmd(open opener) *cobra.Command {
	var actorID, actorName, reason string
	cmd := &cobra.Command{
		Use:   "rollback <historyID>",
		Short: "Invert one recorded change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := valueobjects.NewActor(actorID, actorName)
			if err != nil {
				return err
			}
			return withContainer(cmd, open, func(c *di.Container) (interface{}, error) {
				result, err := c.Rollback.Rollback(cmd.Context(), services.RollbackCommand{
					HistoryID: args[0],
					Actor:     actor,
					Reason:    reason,
				})
				if err != nil {
					return nil, fmt.Errorf("rollback %s: %s", args[0], result.Error)
				}
				return result, nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "id recorded as the actor (required)")
	cmd.Flags().StringVar(&actorName, "actor-name", "", "display name recorded with the actor")
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored on the new history entry")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newLineageCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <historyID>",
		Short: "Print the rollback provenance chain of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, open, func(c *di.Container) (interface{}, error) {
				return c.History.Lineage(cmd.Context(), args[0])
			})
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rfarias/sisaih/internal/storage"
)

func newCacheCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Query cache operations",
	}
	cmd.AddCommand(newCacheClearCommand(deps))
	return cmd
}

func newCacheClearCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [pattern]",
		Short: "Drop cached query results, optionally only keys containing pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
				cleared := store.ClearCache(pattern)

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"pattern": pattern,
						"cleared": cleared,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "cache limpo: %d entradas removidas\n", cleared)
				return err
			})
		},
	}
	return cmd
}

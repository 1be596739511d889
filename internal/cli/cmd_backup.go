package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rfarias/sisaih/internal/storage"
)

func newBackupCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Checkpoint the WAL and copy the database to the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup does not accept positional arguments")
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
				path, err := store.Backup(ctx)
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"backup_path": path})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "backup criado: %s\n", path)
				return err
			})
		},
	}
	return cmd
}

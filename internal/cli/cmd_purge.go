package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rfarias/sisaih/internal/aih"
	"github.com/rfarias/sisaih/internal/storage"
)

func newPurgeCommand(deps commandDeps) *cobra.Command {
	var (
		confirm  bool
		admin    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all audit data, keeping users and reference catalogs",
		Long: "Purge removes every AIH, movement, deduction and log after taking a " +
			"safety backup. Users, professionals and deduction types survive. " +
			"Administrator credentials and --confirm are required.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("purge does not accept positional arguments")
			}
			if !confirm {
				return usageErrorf("purge is irreversible; pass --confirm to proceed")
			}
			if admin == "" || password == "" {
				return usageErrorf("purge requires --admin and --password")
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
				svc := aih.NewService(store, logger)
				adm, err := svc.AuthenticateAdmin(ctx, admin, password)
				if err != nil {
					return err
				}

				removed, err := store.SelectivePurge(ctx, adm.ID)
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"removed_rows": removed})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "limpeza concluída: %d registros removidos\n", removed)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the irreversible purge")
	cmd.Flags().StringVar(&admin, "admin", "", "Administrator username")
	cmd.Flags().StringVar(&password, "password", "", "Administrator password")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rfarias/sisaih/internal/storage"
)

const defaultInitConfig = `[database]
type = "local"
path = "db/aih.db"
pool_size = 25

[cache]
sweep_interval = "3m"

[cache.quick]
ttl = "5m"
max_entries = 5000

[cache.medium]
ttl = "15m"
max_entries = 10000

[cache.report]
ttl = "30m"
max_entries = 2000

[cache.dashboard]
ttl = "10m"
max_entries = 500

[backup]
dir = "backups"
retain = 7

[logging]
level = "info"
file = ""
max_size_mb = 10
max_files = 5
`

func newInitCommand(deps commandDeps) *cobra.Command {
	var writeConfig string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database file, apply the schema and seed reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}

			if writeConfig != "" {
				if err := writeDefaultConfig(writeConfig); err != nil {
					return mapCommandError(err)
				}
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
				// Open already applied the schema and seeds; report the outcome.
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"initialized":  true,
						"db_path":      store.Path(),
						"config_path":  writeConfig,
						"total_aihs":   stats.TotalAIHs,
						"db_size":      stats.DBSizeBytes,
						"default_user": storage.DefaultAdminUser,
					})
				}
				if deps.globals.Quiet {
					return nil
				}

				if _, err := fmt.Fprintf(deps.out, "banco inicializado: %s (%d bytes)\n", store.Path(), stats.DBSizeBytes); err != nil {
					return err
				}
				if writeConfig != "" {
					if _, err := fmt.Fprintf(deps.out, "configuração gravada: %s\n", writeConfig); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintf(deps.out, "administrador padrão: %s (altere a senha no primeiro acesso)\n", storage.DefaultAdminUser)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "Also write a default TOML config to this path")
	return cmd
}

func writeDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return usageErrorf("init --write-config requires a non-empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("init: create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("init: stat config path: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return fmt.Errorf("init: write config: %w", err)
	}
	return nil
}

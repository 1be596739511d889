package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rfarias/sisaih/internal/storage"
)

func newStatsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print table counts, file sizes, pool and cache utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("stats does not accept positional arguments")
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"total_aihs":          stats.TotalAIHs,
						"total_movimentacoes": stats.TotalMovimentacoes,
						"total_glosas_ativas": stats.TotalGlosasAtivas,
						"total_usuarios":      stats.TotalUsuarios,
						"total_logs":          stats.TotalLogs,
						"db_size_bytes":       stats.DBSizeBytes,
						"wal_size_bytes":      stats.WALSizeBytes,
						"cache_entries":       stats.CacheEntries,
						"pool_size":           stats.PoolSize,
						"pool_idle":           stats.PoolIdle,
						"pool_in_use":         stats.PoolInUse,
						"pool_waiting":        stats.PoolWaiting,
					})
				}

				lines := []string{
					fmt.Sprintf("aihs: %d", stats.TotalAIHs),
					fmt.Sprintf("movimentações: %d", stats.TotalMovimentacoes),
					fmt.Sprintf("glosas ativas: %d", stats.TotalGlosasAtivas),
					fmt.Sprintf("usuários: %d", stats.TotalUsuarios),
					fmt.Sprintf("logs de acesso: %d", stats.TotalLogs),
					fmt.Sprintf("banco: %d bytes (WAL: %d bytes)", stats.DBSizeBytes, stats.WALSizeBytes),
					fmt.Sprintf("cache: %d entradas", stats.CacheEntries),
					fmt.Sprintf("pool: %d conexões (%d livres, %d em uso, %d aguardando)",
						stats.PoolSize, stats.PoolIdle, stats.PoolInUse, stats.PoolWaiting),
				}
				for _, line := range lines {
					if _, err := fmt.Fprintln(deps.out, line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}

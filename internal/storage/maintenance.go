package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultBackupRetain = 7

	backupPrefix = "aih-backup-"
	backupSuffix = ".db"
)

// Tables purged by SelectivePurge, in foreign-key-safe order. Reference
// tables (usuarios, profissionais, tipos_glosa, administradores) are never
// touched.
var purgeTables = []string{
	"logs_exclusao",
	"logs_acesso",
	"glosas",
	"movimentacoes",
	"atendimentos",
	"aihs",
}

// Backup checkpoints the write-ahead log so the main file is self-consistent,
// copies it to a timestamped path under the backup directory and prunes all
// but the most recent retained copies (by filename sort). Returns the backup
// path.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0o700); err != nil {
		return "", fmt.Errorf("create backup: create dir: %w", err)
	}

	if _, err := s.primary.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		return "", fmt.Errorf("create backup: wal checkpoint: %w", err)
	}

	stamp := s.now().UTC().Format("2006-01-02")
	backupPath := filepath.Join(s.backupDir, backupPrefix+stamp+backupSuffix)
	if err := copyFile(s.path, backupPath); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	s.logger.Info("backup criado", "caminho", backupPath)

	if err := s.pruneBackups(); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (s *Store) pruneBackups() error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for i := s.backupRetain; i < len(names); i++ {
		if err := os.Remove(filepath.Join(s.backupDir, names[i])); err != nil {
			return fmt.Errorf("prune backups: remove %s: %w", names[i], err)
		}
		s.logger.Info("backup antigo removido", "arquivo", names[i])
	}
	return nil
}

// SelectivePurge wipes the operational tables while preserving reference
// data: a safety backup is taken first, then with foreign keys suspended the
// operational tables are emptied in FK-safe order and their auto-increment
// counters reset, an audit row naming the acting administrator is written,
// and finally the file is vacuumed and the planner statistics refreshed. The
// query cache is emptied since everything it held is gone. Returns the number
// of rows removed.
func (s *Store) SelectivePurge(ctx context.Context, adminID int64) (int64, error) {
	if _, err := s.Backup(ctx); err != nil {
		return 0, fmt.Errorf("selective purge: safety backup: %w", err)
	}

	if _, err := s.primary.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return 0, fmt.Errorf("selective purge: disable foreign keys: %w", err)
	}

	var removed int64
	for _, table := range purgeTables {
		var count int64
		if err := s.primary.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			return removed, fmt.Errorf("selective purge: count %s: %w", table, err)
		}
		if _, err := s.primary.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return removed, fmt.Errorf("selective purge: clear %s: %w", table, err)
		}
		removed += count
		s.logger.Info("tabela limpa", "tabela", table, "registros", count)
	}

	for _, table := range purgeTables {
		// sqlite_sequence may not have a row for the table; ignore.
		_, _ = s.primary.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = ?`, table)
	}

	if _, err := s.primary.ExecContext(ctx,
		`INSERT INTO logs_acesso (usuario_id, acao, data_hora) VALUES (?, 'Limpeza seletiva de dados executada', CURRENT_TIMESTAMP)`,
		adminID); err != nil {
		s.logger.Warn("registro da limpeza no log falhou", "erro", err)
	}

	if _, err := s.primary.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return removed, fmt.Errorf("selective purge: enable foreign keys: %w", err)
	}

	for _, stmt := range []string{`VACUUM`, `ANALYZE`, `PRAGMA optimize`, `PRAGMA wal_checkpoint(TRUNCATE)`} {
		if _, err := s.primary.ExecContext(ctx, stmt); err != nil {
			return removed, fmt.Errorf("selective purge: %s: %w", strings.ToLower(stmt), err)
		}
	}

	s.cache.Clear("")
	s.logger.Info("limpeza seletiva concluída", "registros_removidos", removed)
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

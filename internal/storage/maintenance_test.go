package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackupCreatesDatedCopy(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := openTestStore(t, clock)
	ctx := context.Background()

	usuarioID := seedUsuario(t, store)
	seedAIH(t, store, usuarioID, "601", 100)

	path, err := store.Backup(ctx)
	require.NoError(t, err)
	require.Equal(t, "aih-backup-2024-03-01.db", filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestBackupPrunesBeyondRetention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0o700))

	// Pre-existing backups older than anything the store will write.
	stale := []string{
		"aih-backup-2024-01-01.db",
		"aih-backup-2024-01-02.db",
		"aih-backup-2024-02-01.db",
	}
	for _, name := range stale {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("old"), 0o600))
	}
	// Unrelated files survive pruning.
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "notes.txt"), []byte("keep"), 0o600))

	store, err := Open(context.Background(), Options{
		Path:         filepath.Join(dir, "aih.db"),
		PoolSize:     2,
		BackupDir:    backupDir,
		BackupRetain: 2,
		Logger:       testLogger(),
		Now:          clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	_, err = store.Backup(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	require.ElementsMatch(t, []string{
		"aih-backup-2024-03-01.db",
		"aih-backup-2024-02-01.db",
		"notes.txt",
	}, names)
}

func TestSelectivePurgePreservesReferenceData(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, newFakeClock())
	ctx := context.Background()

	usuarioID := seedUsuario(t, store)
	aihID := seedAIH(t, store, usuarioID, "701", 1000)

	_, err := store.Exec(ctx,
		`INSERT INTO atendimentos (aih_id, numero_atendimento) VALUES (?, 'A1')`, aihID)
	require.NoError(t, err)
	_, err = store.Exec(ctx, `
		INSERT INTO movimentacoes (aih_id, tipo, usuario_id, status_aih)
		VALUES (?, 'entrada_sus', ?, 2)
	`, aihID, usuarioID)
	require.NoError(t, err)
	_, err = store.Exec(ctx, `
		INSERT INTO glosas (aih_id, linha, tipo, profissional) VALUES (?, 'L1', 'Material', 'Dr. A')
	`, aihID)
	require.NoError(t, err)
	_, err = store.Exec(ctx,
		`INSERT INTO profissionais (nome, especialidade) VALUES ('Dr. A', 'Medicina')`)
	require.NoError(t, err)

	removed, err := store.SelectivePurge(ctx, 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, int64(4))

	for _, table := range []string{"aihs", "atendimentos", "movimentacoes", "glosas", "logs_exclusao"} {
		rows, err := store.All(ctx, `SELECT id FROM `+table, nil, TierNone)
		require.NoError(t, err)
		require.Emptyf(t, rows, "expected %s to be empty after purge", table)
	}

	// Reference tables survive.
	usuarios, err := store.All(ctx, `SELECT id FROM usuarios`, nil, TierNone)
	require.NoError(t, err)
	require.Len(t, usuarios, 1)

	profissionais, err := store.All(ctx, `SELECT id FROM profissionais`, nil, TierNone)
	require.NoError(t, err)
	require.Len(t, profissionais, 1)

	tipos, err := store.All(ctx, `SELECT id FROM tipos_glosa`, nil, TierNone)
	require.NoError(t, err)
	require.Len(t, tipos, 5)

	// The purge itself is recorded in the (freshly emptied) access log.
	logs, err := store.All(ctx, `SELECT acao FROM logs_acesso`, nil, TierNone)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "Limpeza seletiva de dados executada", logs[0]["acao"])

	// The safety backup exists.
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(store.Path()), "backups", "aih-backup-*.db"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// Auto-increment counters were reset.
	newID := seedAIH(t, store, usuarioID, "702", 100)
	require.Equal(t, int64(1), newID)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, BuildInfo{Version: "test", Commit: "abc", BuildTime: "now"})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=test")
	require.Contains(t, out, "commit=abc")
}

func TestVersionCommandJSON(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var build BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &build))
	require.Equal(t, "test", build.Version)
}

func TestInitCommandCreatesDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "aih.db")
	out, err := runCommand(t, "init", "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "banco inicializado")
	require.Contains(t, out, "admin")

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestInitCommandWritesConfigOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aih.db")
	configPath := filepath.Join(dir, "sisaih.toml")

	_, err := runCommand(t, "init", "--db", dbPath, "--write-config", configPath)
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `pool_size = 25`)

	// A second init must not clobber an edited config.
	require.NoError(t, os.WriteFile(configPath, []byte("# editado\n"), 0o600))
	_, err = runCommand(t, "init", "--db", dbPath, "--write-config", configPath)
	require.NoError(t, err)

	data, err = os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, "# editado\n", string(data))
}

func TestInitCommandRejectsPositionalArgs(t *testing.T) {
	t.Parallel()

	_, err := runCommand(t, "init", "extra")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.ExitCode())
}

func TestStatsCommandJSON(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "aih.db")
	_, err := runCommand(t, "init", "--db", dbPath)
	require.NoError(t, err)

	out, err := runCommand(t, "stats", "--db", dbPath, "--json")
	require.NoError(t, err)

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.EqualValues(t, 0, stats["total_aihs"])
	require.Contains(t, stats, "pool_size")
	require.Contains(t, stats, "db_size_bytes")
}

func TestPurgeCommandRequiresConfirmation(t *testing.T) {
	t.Parallel()

	_, err := runCommand(t, "purge")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.ExitCode())
}

func TestPurgeCommandAuthenticatesAdmin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SISAIH_BACKUP_DIR", filepath.Join(dir, "backups"))

	dbPath := filepath.Join(dir, "aih.db")
	_, err := runCommand(t, "init", "--db", dbPath)
	require.NoError(t, err)

	_, err = runCommand(t, "purge", "--db", dbPath, "--confirm",
		"--admin", "admin", "--password", "errada")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeAuthFailed, exitErr.ExitCode())

	out, err := runCommand(t, "purge", "--db", dbPath, "--confirm",
		"--admin", "admin", "--password", "admin")
	require.NoError(t, err)
	require.Contains(t, out, "limpeza concluída")
}

func TestBackupCommand(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	t.Setenv("SISAIH_BACKUP_DIR", backupDir)

	dbPath := filepath.Join(dir, "aih.db")
	_, err := runCommand(t, "init", "--db", dbPath)
	require.NoError(t, err)

	out, err := runCommand(t, "backup", "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "backup criado")

	matches, err := filepath.Glob(filepath.Join(backupDir, "aih-backup-*.db"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestCacheClearCommand(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "aih.db")
	_, err := runCommand(t, "init", "--db", dbPath)
	require.NoError(t, err)

	out, err := runCommand(t, "cache", "clear", "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "cache limpo")
}

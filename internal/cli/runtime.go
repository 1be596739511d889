package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rfarias/sisaih/internal/config"
	"github.com/rfarias/sisaih/internal/log"
	"github.com/rfarias/sisaih/internal/storage"
)

var loadConfigFn = config.Load

type globalFlags struct {
	ConfigPath string
	DBPath     string
	JSON       bool
	Quiet      bool
}

type commandDeps struct {
	out     io.Writer
	globals *globalFlags
}

// withStore loads configuration, builds the logger and opens the store, then
// runs fn and tears everything down. Every subcommand that touches the
// database goes through here.
func withStore(cmdCtx context.Context, deps commandDeps, fn func(context.Context, *storage.Store, *slog.Logger) error) error {
	loadOpts := config.LoadOptions{}
	if deps.globals != nil {
		if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
			loadOpts.ConfigPath = configPath
		}
		if dbPath := strings.TrimSpace(deps.globals.DBPath); dbPath != "" {
			loadOpts.Env = map[string]string{"SISAIH_DB_PATH": dbPath}
		}
	}

	cfg, err := loadConfigFn(loadOpts)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}

	logger, closer, err := log.New(cfg.Logging)
	if err != nil {
		return mapCommandError(fmt.Errorf("build logger: %w", err))
	}
	if closer != nil {
		defer closer.Close()
	}

	if cfg.Database.Type == config.DatabaseTypeRemote {
		logger.Warn("banco remoto não suportado, usando arquivo local", "path", cfg.Database.Path)
	}

	store, err := storage.Open(cmdCtx, storage.Options{
		Path:         cfg.Database.Path,
		PoolSize:     cfg.Database.PoolSize,
		Cache:        cacheConfig(cfg.Cache),
		BackupDir:    cfg.Backup.Dir,
		BackupRetain: cfg.Backup.Retain,
		Logger:       logger,
	})
	if err != nil {
		return mapCommandError(fmt.Errorf("open storage: %w", err))
	}
	defer store.Close()

	return mapCommandError(fn(cmdCtx, store, logger))
}

func cacheConfig(cfg config.CacheConfig) storage.CacheConfig {
	return storage.CacheConfig{
		Quick:         storage.TierConfig{TTL: cfg.Quick.TTL, MaxEntries: cfg.Quick.MaxEntries},
		Medium:        storage.TierConfig{TTL: cfg.Medium.TTL, MaxEntries: cfg.Medium.MaxEntries},
		Report:        storage.TierConfig{TTL: cfg.Report.TTL, MaxEntries: cfg.Report.MaxEntries},
		Dashboard:     storage.TierConfig{TTL: cfg.Dashboard.TTL, MaxEntries: cfg.Dashboard.MaxEntries},
		SweepInterval: cfg.SweepInterval,
	}
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

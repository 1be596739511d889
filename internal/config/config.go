package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DatabaseTypeLocal  = "local"
	DatabaseTypeRemote = "remote"

	defaultPoolSize     = 25
	defaultBackupRetain = 7
	defaultLogLevel     = "info"
	defaultLogMaxSizeMB = 10
	defaultLogMaxFiles  = 5

	defaultQuickTTL     = 5 * time.Minute
	defaultMediumTTL    = 15 * time.Minute
	defaultReportTTL    = 30 * time.Minute
	defaultDashboardTTL = 10 * time.Minute
	defaultSweepEvery   = 3 * time.Minute
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Backup   BackupConfig   `toml:"backup"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	// Type selects local or remote storage. Remote is accepted but not
	// implemented; it falls back to the local path with a warning.
	Type     string `toml:"type"`
	Path     string `toml:"path"`
	PoolSize int    `toml:"pool_size"`
}

type CacheConfig struct {
	Quick         TierConfig    `toml:"quick"`
	Medium        TierConfig    `toml:"medium"`
	Report        TierConfig    `toml:"report"`
	Dashboard     TierConfig    `toml:"dashboard"`
	SweepInterval time.Duration `toml:"sweep_interval"`
}

type TierConfig struct {
	TTL        time.Duration `toml:"ttl"`
	MaxEntries int           `toml:"max_entries"`
}

type BackupConfig struct {
	Dir    string `toml:"dir"`
	Retain int    `toml:"retain"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Type:     DatabaseTypeLocal,
			Path:     filepath.Join("db", "aih.db"),
			PoolSize: defaultPoolSize,
		},
		Cache: CacheConfig{
			Quick:         TierConfig{TTL: defaultQuickTTL, MaxEntries: 5000},
			Medium:        TierConfig{TTL: defaultMediumTTL, MaxEntries: 10000},
			Report:        TierConfig{TTL: defaultReportTTL, MaxEntries: 2000},
			Dashboard:     TierConfig{TTL: defaultDashboardTTL, MaxEntries: 500},
			SweepInterval: defaultSweepEvery,
		},
		Backup: BackupConfig{
			Dir:    "backups",
			Retain: defaultBackupRetain,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves the configuration: defaults, then the TOML file (when it
// exists), then SISAIH_* environment overrides, then validation.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	path := opts.ConfigPath
	if path == "" {
		if value, ok := lookupEnv(opts, "SISAIH_CONFIG_PATH"); ok {
			path = value
		}
	}
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Database *rawDatabase `toml:"database"`
	Cache    *rawCache    `toml:"cache"`
	Backup   *rawBackup   `toml:"backup"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawDatabase struct {
	Type     *string `toml:"type"`
	Path     *string `toml:"path"`
	PoolSize *int    `toml:"pool_size"`
}

type rawCache struct {
	Quick         *rawTier `toml:"quick"`
	Medium        *rawTier `toml:"medium"`
	Report        *rawTier `toml:"report"`
	Dashboard     *rawTier `toml:"dashboard"`
	SweepInterval *string  `toml:"sweep_interval"`
}

type rawTier struct {
	TTL        *string `toml:"ttl"`
	MaxEntries *int    `toml:"max_entries"`
}

type rawBackup struct {
	Dir    *string `toml:"dir"`
	Retain *int    `toml:"retain"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Database != nil {
		setString(raw.Database.Type, &cfg.Database.Type)
		setString(raw.Database.Path, &cfg.Database.Path)
		setInt(raw.Database.PoolSize, &cfg.Database.PoolSize)
	}

	if raw.Cache != nil {
		tiers := []struct {
			raw    *rawTier
			target *TierConfig
			name   string
		}{
			{raw.Cache.Quick, &cfg.Cache.Quick, "cache.quick"},
			{raw.Cache.Medium, &cfg.Cache.Medium, "cache.medium"},
			{raw.Cache.Report, &cfg.Cache.Report, "cache.report"},
			{raw.Cache.Dashboard, &cfg.Cache.Dashboard, "cache.dashboard"},
		}
		for _, tier := range tiers {
			if tier.raw == nil {
				continue
			}
			if err := setDuration(tier.name+".ttl", tier.raw.TTL, &tier.target.TTL); err != nil {
				return err
			}
			setInt(tier.raw.MaxEntries, &tier.target.MaxEntries)
		}
		if err := setDuration("cache.sweep_interval", raw.Cache.SweepInterval, &cfg.Cache.SweepInterval); err != nil {
			return err
		}
	}

	if raw.Backup != nil {
		setString(raw.Backup.Dir, &cfg.Backup.Dir)
		setInt(raw.Backup.Retain, &cfg.Backup.Retain)
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "SISAIH_DB_TYPE"); ok {
		cfg.Database.Type = value
	}
	if value, ok := lookupEnv(opts, "SISAIH_DB_PATH"); ok {
		cfg.Database.Path = value
	}
	if value, ok := lookupEnv(opts, "SISAIH_POOL_SIZE"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse SISAIH_POOL_SIZE: %v", ErrInvalidConfig, err)
		}
		cfg.Database.PoolSize = parsed
	}
	if value, ok := lookupEnv(opts, "SISAIH_BACKUP_DIR"); ok {
		cfg.Backup.Dir = value
	}
	if value, ok := lookupEnv(opts, "SISAIH_BACKUP_RETAIN"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse SISAIH_BACKUP_RETAIN: %v", ErrInvalidConfig, err)
		}
		cfg.Backup.Retain = parsed
	}
	if value, ok := lookupEnv(opts, "SISAIH_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "SISAIH_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Database.Type != DatabaseTypeLocal && cfg.Database.Type != DatabaseTypeRemote {
		return fmt.Errorf("%w: database.type must be %q or %q", ErrInvalidConfig, DatabaseTypeLocal, DatabaseTypeRemote)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("%w: database.path must not be empty", ErrInvalidConfig)
	}
	if cfg.Database.PoolSize <= 0 {
		return fmt.Errorf("%w: database.pool_size must be > 0", ErrInvalidConfig)
	}
	if cfg.Backup.Retain <= 0 {
		return fmt.Errorf("%w: backup.retain must be > 0", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

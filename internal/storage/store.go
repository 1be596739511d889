package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Pragmas for the primary connection, which handles schema evolution and
// maintenance and therefore gets the more generous tuning.
var primaryPragmas = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA synchronous = NORMAL`,
	`PRAGMA cache_size = 200000`,
	`PRAGMA temp_store = MEMORY`,
	`PRAGMA mmap_size = 4294967296`,
	`PRAGMA foreign_keys = ON`,
	`PRAGMA busy_timeout = 180000`,
	`PRAGMA wal_autocheckpoint = 10000`,
	`PRAGMA secure_delete = OFF`,
	`PRAGMA optimize`,
}

const maxLoggedSQL = 100

// Options configures Open. Zero values fall back to production defaults.
type Options struct {
	Path         string
	PoolSize     int
	Cache        CacheConfig
	BackupDir    string
	BackupRetain int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store is the data-access facade: cached reads, pooled writes and
// multi-statement atomic transactions over a single SQLite file.
type Store struct {
	path    string
	primary *sql.DB
	pool    *Pool
	cache   *QueryCache
	logger  *slog.Logger
	now     func() time.Time

	backupDir    string
	backupRetain int
}

// Open prepares the storage file, applies the schema, builds the connection
// pool and the query cache. The returned Store is safe for concurrent use.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open storage: empty path")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.BackupRetain <= 0 {
		opts.BackupRetain = DefaultBackupRetain
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(filepath.Dir(opts.Path), "backups")
	}
	if opts.Cache == (CacheConfig{}) {
		opts.Cache = DefaultCacheConfig()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("open storage: create parent dir: %w", err)
	}

	primary, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// One physical connection so session pragmas stick.
	primary.SetMaxOpenConns(1)
	primary.SetMaxIdleConns(1)
	primary.SetConnMaxLifetime(0)

	for _, stmt := range primaryPragmas {
		if _, err := primary.ExecContext(ctx, stmt); err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("open storage: configure primary %q: %w", stmt, err)
		}
	}

	s := &Store{
		path:         opts.Path,
		primary:      primary,
		logger:       opts.Logger,
		now:          opts.Now,
		backupDir:    opts.BackupDir,
		backupRetain: opts.BackupRetain,
	}

	if err := s.Initialize(ctx); err != nil {
		_ = primary.Close()
		return nil, err
	}

	pool, err := NewPool(ctx, opts.Path, opts.PoolSize, opts.Logger)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	s.pool = pool
	s.cache = NewQueryCache(opts.Cache, opts.Now)

	return s, nil
}

func (s *Store) Path() string { return s.path }

// Pool exposes pool accounting for the stats surface.
func (s *Store) Pool() *Pool { return s.pool }

// Cache exposes the query cache; callers normally go through Get/All and
// ClearCache instead.
func (s *Store) Cache() *QueryCache { return s.cache }

// Close shuts the cache sweeper, the pool and the primary connection. Only
// called at process shutdown.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.cache != nil {
		s.cache.Close()
	}
	var firstErr error
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			firstErr = err
		}
	}
	if s.primary != nil {
		if err := s.primary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Exec runs one mutating statement on a pooled connection, releasing it on
// every path, and surfaces the insert id and affected-row count.
func (s *Store) Exec(ctx context.Context, query string, params ...any) (Result, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer s.pool.Release(conn)

	res, err := conn.ExecContext(ctx, query, params...)
	if err != nil {
		s.logStatementError(query, params, err)
		return Result{}, fmt.Errorf("exec: %w", err)
	}
	return resultOf(res), nil
}

// Get runs a single-row read. A nil Row with nil error means no row matched.
// When tier is not TierNone the cache is consulted first and populated on a
// fresh non-empty result. Callers receive a private copy on both paths, so
// mutating a returned Row never poisons the cached value.
func (s *Store) Get(ctx context.Context, query string, params []any, tier Tier) (Row, error) {
	if tier != TierNone {
		if cached, ok := s.cache.Get(tier, query, params); ok {
			if row, ok := cached.(Row); ok {
				return cloneRow(row), nil
			}
		}
	}

	rows, err := s.queryRows(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	if tier != TierNone {
		s.cache.Put(tier, query, params, cloneRow(row))
	}
	return row, nil
}

// All runs a multi-row read; same caching and copy contract as Get, and only
// non-empty result sets are cached.
func (s *Store) All(ctx context.Context, query string, params []any, tier Tier) ([]Row, error) {
	if tier != TierNone {
		if cached, ok := s.cache.Get(tier, query, params); ok {
			if rows, ok := cached.([]Row); ok {
				return cloneRows(rows), nil
			}
		}
	}

	rows, err := s.queryRows(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if tier != TierNone && len(rows) > 0 {
		s.cache.Put(tier, query, params, cloneRows(rows))
	}
	return rows, nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for col, value := range row {
		out[col] = value
	}
	return out
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}

func (s *Store) queryRows(ctx context.Context, query string, params []any) ([]Row, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)

	result, err := conn.QueryContext(ctx, query, params...)
	if err != nil {
		s.logStatementError(query, params, err)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer result.Close()

	rows, err := scanRows(result)
	if err != nil {
		s.logStatementError(query, params, err)
		return nil, err
	}
	return rows, nil
}

// Transaction executes ops in submission order inside one BEGIN IMMEDIATE
// transaction so concurrent writers cannot interleave. Any failure rolls the
// whole batch back and re-raises the original error; a rollback failure is
// logged, never propagated over it. The connection is released on every path.
func (s *Store) Transaction(ctx context.Context, ops []Op) ([]Result, error) {
	results := make([]Result, 0, len(ops))
	err := s.WithTransaction(ctx, func(tx *sql.Conn) error {
		for _, op := range ops {
			res, err := tx.ExecContext(ctx, op.SQL, op.Params...)
			if err != nil {
				s.logStatementError(op.SQL, op.Params, err)
				return err
			}
			results = append(results, resultOf(res))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// WithTransaction is the dependent-statement variant of Transaction: fn runs
// on one pooled connection inside BEGIN IMMEDIATE, with the same
// all-or-nothing and no-leak guarantees.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE TRANSACTION"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			s.logger.Error("rollback falhou", "erro", rbErr)
		}
		return fmt.Errorf("transaction: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClearCache purges all tiers, or only keys containing pattern. Writes do not
// invalidate related cache entries automatically; this coarse purge is the
// only invalidation mechanism, so a write-then-cached-read window of
// staleness up to the tier TTL exists by contract.
func (s *Store) ClearCache(pattern string) int {
	cleared := s.cache.Clear(pattern)
	if pattern == "" {
		s.logger.Info("todos os caches limpos")
	} else {
		s.logger.Info("cache limpo", "padrao", pattern, "entradas", cleared)
	}
	return cleared
}

// Stats returns the aggregate counters, storage file sizes and pool
// utilization used by the operator dashboard.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	row, err := s.Get(ctx, `
		SELECT
			(SELECT COUNT(*) FROM aihs) AS total_aihs,
			(SELECT COUNT(*) FROM movimentacoes) AS total_movimentacoes,
			(SELECT COUNT(*) FROM glosas WHERE ativa = 1) AS total_glosas_ativas,
			(SELECT COUNT(*) FROM usuarios) AS total_usuarios,
			(SELECT COUNT(*) FROM logs_acesso) AS total_logs
	`, nil, TierDashboard)
	if err != nil {
		return Stats{}, err
	}

	sizeRow, err := s.Get(ctx, `SELECT page_count * page_size AS size FROM pragma_page_count(), pragma_page_size()`, nil, TierNone)
	if err != nil {
		return Stats{}, err
	}

	var walSize int64
	if info, err := os.Stat(s.path + "-wal"); err == nil {
		walSize = info.Size()
	}

	pool := s.pool.Stats()
	return Stats{
		TotalAIHs:          rowInt64(row, "total_aihs"),
		TotalMovimentacoes: rowInt64(row, "total_movimentacoes"),
		TotalGlosasAtivas:  rowInt64(row, "total_glosas_ativas"),
		TotalUsuarios:      rowInt64(row, "total_usuarios"),
		TotalLogs:          rowInt64(row, "total_logs"),
		DBSizeBytes:        rowInt64(sizeRow, "size"),
		WALSizeBytes:       walSize,
		CacheEntries:       s.cache.Len(),
		PoolSize:           pool.Size,
		PoolIdle:           pool.Idle,
		PoolInUse:          pool.InUse,
		PoolWaiting:        pool.Waiting,
	}, nil
}

func (s *Store) logStatementError(query string, params []any, err error) {
	truncated := query
	if len(truncated) > maxLoggedSQL {
		truncated = truncated[:maxLoggedSQL]
	}
	s.logger.Error("erro SQL", "sql", truncated, "params", fmt.Sprintf("%v", params), "erro", err)
}

func resultOf(res sql.Result) Result {
	id, err := res.LastInsertId()
	if err != nil {
		id = 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return Result{LastInsertID: id, RowsAffected: n}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("scan columns: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func rowInt64(row Row, col string) int64 {
	if row == nil {
		return 0
	}
	switch v := row[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// IsNotFound reports whether err (or a wrapped cause) is the not-found
// sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// Pragmas applied once per pooled connection. Tuning values carried over from
// the production deployment; none of them are correctness-critical.
var poolPragmas = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA synchronous = NORMAL`,
	`PRAGMA cache_size = 100000`,
	`PRAGMA temp_store = MEMORY`,
	`PRAGMA mmap_size = 2147483648`,
	`PRAGMA foreign_keys = ON`,
	`PRAGMA busy_timeout = 120000`,
	`PRAGMA wal_autocheckpoint = 5000`,
	`PRAGMA page_size = 65536`,
}

const DefaultPoolSize = 25

// Pool owns a fixed set of SQLite connections, each pinned so its pragma
// session state survives across uses. Acquire never rejects a caller for
// capacity: when no connection is idle the caller waits in a FIFO queue until
// a release hands one over.
type Pool struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*sql.Conn
	waiters []chan *sql.Conn
	inUse   int
	total   int
	closed  bool
}

// NewPool opens size physical connections against path. A connection that
// fails to open or configure is logged and dropped, shrinking the effective
// pool rather than failing startup; only a pool with zero usable connections
// is an error.
func NewPool(ctx context.Context, path string, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pool database: %w", err)
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	db.SetConnMaxLifetime(0)

	p := &Pool{db: db, logger: logger}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			logger.Error("criar conexão do pool falhou", "indice", i, "erro", err)
			continue
		}
		if err := configureConn(ctx, conn); err != nil {
			logger.Error("configurar conexão do pool falhou", "indice", i, "erro", err)
			_ = conn.Close()
			continue
		}
		p.idle = append(p.idle, conn)
		p.total++
	}
	if p.total == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("open pool database: no usable connections")
	}

	logger.Info("pool de conexões criado", "tamanho", p.total)
	return p, nil
}

func configureConn(ctx context.Context, conn *sql.Conn) error {
	for _, stmt := range poolPragmas {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure connection %q: %w", stmt, err)
		}
	}
	return nil
}

// Acquire returns an idle connection immediately when one is free; otherwise
// the caller is queued in arrival order. Capacity exhaustion is backpressure,
// never an error: the only failure modes are a closed pool and a cancelled
// context.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		return conn, nil
	}

	ch := make(chan *sql.Conn, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case conn := <-ch:
		if conn == nil {
			return nil, ErrPoolClosed
		}
		return conn, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		p.mu.Unlock()
		// A release already handed us a connection; give it back.
		if conn := <-ch; conn != nil {
			p.Release(conn)
		}
		return nil, ctx.Err()
	}
}

// Release returns conn to the pool. If anyone is waiting the connection is
// handed straight to the longest-waiting caller without touching the idle
// set, which is what keeps the queue FIFO-fair.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.inUse--
		p.total--
		_ = conn.Close()
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- conn
		return
	}
	p.idle = append(p.idle, conn)
	p.inUse--
	p.mu.Unlock()
}

// WithConn runs fn with an acquired connection and guarantees the release on
// every exit path.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// PoolStats is a point-in-time snapshot of pool accounting.
type PoolStats struct {
	Size    int
	Idle    int
	InUse   int
	Waiting int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:    p.total,
		Idle:    len(p.idle),
		InUse:   p.inUse,
		Waiting: len(p.waiters),
	}
}

// Close rejects new acquisitions, fails queued waiters, waits for in-flight
// connections to come back and closes every physical connection. Used only at
// process shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for _, ch := range p.waiters {
		ch <- nil
	}
	p.waiters = nil

	for _, conn := range p.idle {
		_ = conn.Close()
		p.total--
	}
	p.idle = nil

	for p.inUse > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()

	return p.db.Close()
}

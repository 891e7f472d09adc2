package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/logging"
)

// Querier is the subset of *sql.DB and *sql.Tx used by the stores.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Catalog owns the SQLite database. Writes go through a single connection
// guarded by a mutex; reads use a separate read-only pool.
type Catalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	reader *Store
	log    *logrus.Entry
}

// Open opens (creating if needed) the catalog database at dbPath.
func Open(dbPath string, busyTimeoutMS int) (*Catalog, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", dbPath, busyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	c := &Catalog{
		db:     db,
		dbPath: dbPath,
		log:    logging.For("catalog"),
	}

	// Initialize schema before the read pool opens the file read-only
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", dbPath, busyTimeoutMS))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c.readDB = readDB
	c.reader = &Store{q: readDB}
	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Read returns a store bound to the read pool. It never observes
// uncommitted writes.
func (c *Catalog) Read() *Store {
	return c.reader
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.dbPath
}

// WithTx runs fn inside one write transaction. The transaction commits when
// fn returns nil and rolls back otherwise. Hooks registered through
// Tx.OnCommit run after a successful commit, outside the write lock.
func (c *Catalog) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	wrapped, err := c.runTx(ctx, fn)
	if err != nil {
		return err
	}
	for _, hook := range wrapped.onCommit {
		hook()
	}
	return nil
}

// runTx runs fn under the writer lock. The lock is released and the
// transaction rolled back even when fn panics.
func (c *Catalog) runTx(ctx context.Context, fn func(tx *Tx) error) (wrapped *Tx, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("catalog: failed to begin transaction: %w", err))
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			c.log.WithError(rbErr).Warn("rollback failed")
		}
	}()

	wrapped = &Tx{Store: &Store{q: tx}, tx: tx}
	if err := fn(wrapped); err != nil {
		return nil, classify(err)
	}

	done = true
	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("catalog: failed to commit transaction: %w", err))
	}
	return wrapped, nil
}

// Close closes both database handles.
func (c *Catalog) Close() error {
	var firstErr error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Tx is a write transaction. It embeds a Store bound to the transaction.
type Tx struct {
	*Store
	tx       *sql.Tx
	onCommit []func()
}

// Conn returns the raw transaction for statements outside the stores, such
// as DDL and user table queries.
func (t *Tx) Conn() Querier {
	return t.tx
}

// OnCommit registers fn to run once the transaction has committed.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// classify maps SQLite lock contention onto the retryable conflict error and
// leaves everything else untouched.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return errors.Wrap(errors.ErrCategoryConflict, errors.CodeDatabaseLocked, "database is locked", err)
	}
	return err
}

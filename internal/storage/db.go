// ABOUTME: Database connection and lifecycle for SQLite and PostgreSQL backends.
// ABOUTME: Uses sqlx over modernc.org/sqlite (pure Go) or lib/pq with one shared schema.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by sqlx.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Every query in this package is written with ? placeholders and rebound.
func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// sqlitePragmas are applied to every pooled connection. Writers take the
// database lock at BEGIN so concurrent claims queue on busy_timeout.
const sqlitePragmas = "?_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=foreign_keys(1)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_txlock=immediate"

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns pool defaults suitable for both backends.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DB wraps the sqlx connection.
type DB struct {
	db     *sqlx.DB
	driver string
	dbPath string
}

// Open opens or creates a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sqlx.Open(DriverSQLite, dbPath+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d, err := newDB(db, DriverSQLite, dbPath, DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	// The file exists once the schema has been written.
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		_ = d.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return d, nil
}

// OpenPostgres connects to a PostgreSQL database by DSN.
func OpenPostgres(dsn string, pool PoolConfig) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newDB(db, DriverPostgres, "", pool)
}

// NewFromSQLX wraps an existing connection without touching the schema.
// It is used with sqlmock in tests.
func NewFromSQLX(db *sqlx.DB) *DB {
	return &DB{db: db, driver: db.DriverName()}
}

func newDB(db *sqlx.DB, driver, path string, pool PoolConfig) (*DB, error) {
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	d := &DB{db: db, driver: driver, dbPath: path}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return d, nil
}

// DataDir returns the default data directory following XDG spec.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "coach")
}

// DefaultDBPath returns the default database path following XDG spec.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "coach.db")
}

// Driver reports which backend is in use.
func (d *DB) Driver() string {
	return d.driver
}

// Path returns the SQLite file path, or "" for PostgreSQL.
func (d *DB) Path() string {
	return d.dbPath
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DB) q(query string) string {
	return d.db.Rebind(query)
}

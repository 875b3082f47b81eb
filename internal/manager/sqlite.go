package manager

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"datafs-go/internal/datafs"
	"datafs-go/internal/manager/migrations"
)

// SQLite is a Manager backed by a SQLite database file. The schema is
// managed by embedded migrations applied on open.
type SQLite struct {
	sqlStore
	path string
}

var sqliteDialect = dialect{
	name:   "sqlite",
	rebind: rebindNone,
	isConflict: func(err error) bool {
		var se sqlite3.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// NewSQLite opens (creating if needed) the database at path and migrates it
// to the latest schema. path may be ":memory:".
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLite{sqlStore: sqlStore{db: db, d: sqliteDialect}, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enabled and a
// busy timeout. Transactions take the write lock up front so concurrent
// appenders queue instead of failing on lock upgrade.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

// Compile-time check that SQLite implements datafs.Manager
var _ datafs.Manager = (*SQLite)(nil)

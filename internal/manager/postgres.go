package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"datafs-go/internal/datafs"
)

// postgresSchema mirrors the SQLite migrations. It is idempotent.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS archives (
    name       TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    contact    TEXT NOT NULL DEFAULT '',
    versioned  INTEGER NOT NULL DEFAULT 1,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS versions (
    archive            TEXT NOT NULL REFERENCES archives(name) ON DELETE CASCADE,
    seq                BIGINT NOT NULL,
    version_id         TEXT NOT NULL,
    checksum           TEXT NOT NULL,
    checksum_algorithm TEXT NOT NULL,
    size               BIGINT NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL,
    created_by         TEXT NOT NULL,
    dependencies       TEXT NOT NULL DEFAULT '{}',
    metadata           TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (archive, seq)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_archive_version ON versions(archive, version_id);
`

// uniqueViolation is the Postgres SQLSTATE for a unique or primary key violation.
const uniqueViolation = "23505"

var postgresDialect = dialect{
	name:   "postgres",
	rebind: rebindDollar,
	isConflict: func(err error) bool {
		var pe *pq.Error
		return errors.As(err, &pe) && pe.Code == uniqueViolation
	},
	// READ COMMITTED: read-modify-write must lock the row.
	lockRows: " FOR UPDATE",
}

// Postgres is a Manager backed by a PostgreSQL database.
type Postgres struct {
	sqlStore
}

// NewPostgres connects to dsn and creates the schema if it is missing.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres manager requires a dsn", datafs.ErrCredentials)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	p := NewPostgresFromDB(db)
	if err := p.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromDB wraps an existing connection. The caller is responsible for calling Init.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{sqlStore: sqlStore{db: db, d: postgresDialect}}
}

// Init creates the tables and indexes if they do not exist.
func (p *Postgres) Init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("initializing postgres schema: %w", err)
	}
	return nil
}

// Compile-time check that Postgres implements datafs.Manager
var _ datafs.Manager = (*Postgres)(nil)

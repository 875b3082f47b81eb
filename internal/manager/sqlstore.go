package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"datafs-go/internal/datafs"
)

// Queries are written with ? placeholders; dialects rebind them.
const (
	qSelectArchive = `SELECT name, owner, contact, versioned, metadata, created_at FROM archives WHERE name = ?`
	qArchiveExists = `SELECT 1 FROM archives WHERE name = ?`
	qInsertArchive = `INSERT INTO archives (name, owner, contact, versioned, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	qListArchives  = `SELECT name FROM archives ORDER BY name`
	qSelectMeta    = `SELECT metadata FROM archives WHERE name = ?`
	qUpdateMeta    = `UPDATE archives SET metadata = ? WHERE name = ?`
	qSelectTail    = `SELECT seq, version_id FROM versions WHERE archive = ? ORDER BY seq DESC LIMIT 1`
	qInsertVersion = `INSERT INTO versions (archive, seq, version_id, checksum, checksum_algorithm, size, created_at, created_by, dependencies, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qSelectHistory = `SELECT version_id, checksum, checksum_algorithm, size, created_at, created_by, dependencies, metadata FROM versions WHERE archive = ? ORDER BY seq`
	qDeleteHistory = `DELETE FROM versions WHERE archive = ?`
	qDeleteArchive = `DELETE FROM archives WHERE name = ?`
)

// dialect captures what differs between relational backends.
type dialect struct {
	name       string
	rebind     func(q string) string
	isConflict func(err error) bool

	// lockRows is appended to reads that precede a write in the same
	// transaction. Empty when the transaction already holds a write lock.
	lockRows string
}

// rebindDollar rewrites ? placeholders as $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rebindNone(q string) string { return q }

// sqlStore is the relational Manager shared by the SQLite and Postgres backends.
// Appends are guarded by the (archive, seq) primary key and the
// (archive, version_id) unique index: a racing writer hits a constraint
// violation, which is reported as ErrConflict.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

func (s *sqlStore) CreateArchive(ctx context.Context, rec *datafs.ArchiveRecord, raiseIfExists bool) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	versioned := 0
	if rec.Versioned {
		versioned = 1
	}

	_, err = s.db.ExecContext(ctx, s.q(qInsertArchive),
		rec.Name, rec.Owner, rec.Contact, versioned, meta, formatTime(rec.CreatedAt))
	if err == nil {
		return nil
	}
	if !s.d.isConflict(err) {
		return fmt.Errorf("inserting archive %s: %w", rec.Name, err)
	}
	if raiseIfExists {
		return fmt.Errorf("archive %s: %w", rec.Name, datafs.ErrAlreadyExists)
	}
	return s.UpdateMetadata(ctx, rec.Name, rec.Metadata, false)
}

func (s *sqlStore) GetArchive(ctx context.Context, name string) (*datafs.ArchiveRecord, error) {
	var (
		rec       datafs.ArchiveRecord
		versioned int
		meta      string
		created   string
	)
	err := s.db.QueryRowContext(ctx, s.q(qSelectArchive), name).
		Scan(&rec.Name, &rec.Owner, &rec.Contact, &versioned, &meta, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
		}
		return nil, fmt.Errorf("getting archive %s: %w", name, err)
	}
	rec.Versioned = versioned != 0
	if rec.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *sqlStore) ListArchives(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(qListArchives))
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning archive name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return names, nil
}

func (s *sqlStore) AppendVersion(ctx context.Context, name, expectedTail string, rec *datafs.VersionRecord) error {
	deps, err := encodeDependencies(rec.Dependencies)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireArchive(ctx, tx, name); err != nil {
		return err
	}

	var (
		seq  int64
		tail string
	)
	err = tx.QueryRowContext(ctx, s.q(qSelectTail), name).Scan(&seq, &tail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading tail of %s: %w", name, err)
	}
	if tail != expectedTail {
		return fmt.Errorf("%w: tail of %s is %q, expected %q", datafs.ErrConflict, name, tail, expectedTail)
	}

	_, err = tx.ExecContext(ctx, s.q(qInsertVersion),
		name, seq+1, rec.VersionID, rec.Checksum, rec.ChecksumAlgorithm, rec.Size,
		formatTime(rec.CreatedAt), rec.CreatedBy, deps, meta)
	if err != nil {
		if s.d.isConflict(err) {
			return fmt.Errorf("%w: appending %s to %s: %v", datafs.ErrConflict, rec.VersionID, name, err)
		}
		return fmt.Errorf("appending %s to %s: %w", rec.VersionID, name, err)
	}

	if err := tx.Commit(); err != nil {
		if s.d.isConflict(err) {
			return fmt.Errorf("%w: committing %s to %s: %v", datafs.ErrConflict, rec.VersionID, name, err)
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) GetHistory(ctx context.Context, name string) ([]*datafs.VersionRecord, error) {
	if err := s.requireArchive(ctx, s.db, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(qSelectHistory), name)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", name, err)
	}
	defer rows.Close()

	history := []*datafs.VersionRecord{}
	for rows.Next() {
		var (
			v          datafs.VersionRecord
			created    string
			deps, meta string
		)
		if err := rows.Scan(&v.VersionID, &v.Checksum, &v.ChecksumAlgorithm, &v.Size,
			&created, &v.CreatedBy, &deps, &meta); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if v.Dependencies, err = decodeDependencies(deps); err != nil {
			return nil, err
		}
		if v.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		history = append(history, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", name, err)
	}
	return history, nil
}

func (s *sqlStore) UpdateMetadata(ctx context.Context, name string, patch map[string]any, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, s.q(qSelectMeta+s.d.lockRows), name).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
		}
		return fmt.Errorf("reading metadata of %s: %w", name, err)
	}
	current, err := decodeMetadata(raw)
	if err != nil {
		return err
	}
	encoded, err := encodeMetadata(applyMetadata(current, patch, replace))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(qUpdateMeta), encoded, name); err != nil {
		return fmt.Errorf("updating metadata of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteArchive(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(qDeleteHistory), name); err != nil {
		return fmt.Errorf("deleting history of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, s.q(qDeleteArchive), name)
	if err != nil {
		return fmt.Errorf("deleting archive %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting archive %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) requireArchive(ctx context.Context, q queryRower, name string) error {
	var one int
	if err := q.QueryRowContext(ctx, s.q(qArchiveExists), name).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
		}
		return fmt.Errorf("looking up archive %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

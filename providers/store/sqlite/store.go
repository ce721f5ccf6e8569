// Package sqlite implements credhub.VersionStore on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/credhub"
	"github.com/mattn/go-sqlite3"
)

// scanPageSize bounds the rows read per query during Scan so no read
// transaction stays open while the callback runs.
const scanPageSize = 256

const versionColumns = `seq, id, name, type, key_id, value, nonce, params, params_nonce, source_version_id, created_at, ` + ordinalExpr

// ordinalExpr breaks timestamp ties. Rows written before the ordinal column
// existed fall back to their sequence.
const ordinalExpr = `COALESCE(ordinal, seq)`

// liveClause is true for rows without a re-encrypted copy.
const liveClause = `NOT EXISTS (SELECT 1 FROM credential_versions c WHERE c.source_version_id = v.id)`

// Store is a credhub.VersionStore backed by a SQLite database. Names are
// case-folded in Go into the name_key column, so matching follows Unicode
// rules rather than SQLite's ASCII lower().
type Store struct {
	db *DB
}

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credhub.ErrStoreUnavailable, err)
	}
	if err := RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", credhub.ErrStoreUnavailable, err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that both connection pools can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Writer.PingContext(ctx); err != nil {
		return storeError("ping writer", err)
	}
	if err := s.db.Reader.PingContext(ctx); err != nil {
		return storeError("ping reader", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, v *credhub.CredentialVersion) error {
	var params, paramsNonce []byte
	if v.Parameters != nil {
		params, paramsNonce = v.Parameters.Ciphertext, v.Parameters.Nonce
	}

	res, err := s.db.Writer.ExecContext(ctx, `
		INSERT INTO credential_versions (id, name, name_key, type, key_id, value, nonce, params, params_nonce, source_version_id, created_at, ordinal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.Name, credhub.FoldName(v.Name), string(v.Type), v.KeyID.String(),
		v.Value.Ciphertext, v.Value.Nonce, params, paramsNonce,
		nullableUUID(v.SourceID), v.CreatedAt.UnixNano(), nullableInt(v.Ordinal),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: version %s already exists", credhub.ErrInvalidValue, v.ID)
		}
		return storeError("insert version", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return storeError("read sequence", err)
	}
	v.Sequence = seq
	if v.Ordinal == 0 {
		v.Ordinal = seq
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*credhub.CredentialVersion, error) {
	row := s.db.Reader.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM credential_versions v WHERE id = ?`, id.String())
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credhub.ErrNotFound
	}
	if err != nil {
		return nil, storeError("find version", err)
	}
	return v, nil
}

func (s *Store) FindByName(ctx context.Context, name string) ([]*credhub.CredentialVersion, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM credential_versions v
		WHERE name_key = ? AND `+liveClause+`
		ORDER BY created_at DESC, `+ordinalExpr+` DESC, seq DESC`, credhub.FoldName(name))
	if err != nil {
		return nil, storeError("find versions", err)
	}
	return collectVersions(rows)
}

func (s *Store) SearchNames(ctx context.Context, q credhub.NameQuery) ([]credhub.NameSummary, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `
		SELECT name, created_at FROM (
			SELECT name, created_at, `+ordinalExpr+` AS ord, seq,
				ROW_NUMBER() OVER (PARTITION BY name_key ORDER BY created_at DESC, `+ordinalExpr+` DESC, seq DESC) AS rn
			FROM credential_versions
			WHERE (?1 <> '' AND instr(name_key, ?1) > 0)
			   OR (?2 <> '' AND substr(name_key, 1, length(?2)) = ?2)
		)
		WHERE rn = 1
		ORDER BY created_at DESC, ord DESC, seq DESC`, q.Substring, q.Prefix)
	if err != nil {
		return nil, storeError("search names", err)
	}
	defer rows.Close()

	var out []credhub.NameSummary
	for rows.Next() {
		var (
			summary credhub.NameSummary
			created int64
		)
		if err := rows.Scan(&summary.Name, &created); err != nil {
			return nil, storeError("scan name", err)
		}
		summary.VersionCreatedAt = time.Unix(0, created).UTC()
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("search names", err)
	}
	if out == nil {
		out = []credhub.NameSummary{}
	}
	return out, nil
}

// Scan pages through the table by sequence. Rows inserted during the scan
// are visited when they match the filter and sort after the current page.
func (s *Store) Scan(ctx context.Context, filter credhub.ScanFilter, fn func(*credhub.CredentialVersion) error) error {
	var (
		where []string
		args  []any
	)
	where = append(where, "seq > ?")
	if filter.ExcludeKeyID != uuid.Nil {
		where = append(where, "key_id <> ?")
	}
	if filter.LiveOnly {
		where = append(where, liveClause)
	}
	query := `SELECT ` + versionColumns + ` FROM credential_versions v WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq LIMIT ?`

	var after int64
	for {
		args = append(args[:0], after)
		if filter.ExcludeKeyID != uuid.Nil {
			args = append(args, filter.ExcludeKeyID.String())
		}
		args = append(args, scanPageSize)

		rows, err := s.db.Reader.QueryContext(ctx, query, args...)
		if err != nil {
			return storeError("scan versions", err)
		}
		page, err := collectVersions(rows)
		if err != nil {
			return err
		}

		for _, v := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(v); err != nil {
				return err
			}
			after = v.Sequence
		}
		if len(page) < scanPageSize {
			return nil
		}
	}
}

func (s *Store) CountByKey(ctx context.Context) ([]credhub.KeyCount, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `
		SELECT key_id, COUNT(*), SUM(CASE WHEN `+liveClause+` THEN 1 ELSE 0 END)
		FROM credential_versions v
		GROUP BY key_id
		ORDER BY MIN(seq)`)
	if err != nil {
		return nil, storeError("count by key", err)
	}
	defer rows.Close()

	var out []credhub.KeyCount
	for rows.Next() {
		var (
			c     credhub.KeyCount
			keyID string
		)
		if err := rows.Scan(&keyID, &c.Total, &c.Live); err != nil {
			return nil, storeError("scan key count", err)
		}
		if c.KeyID, err = uuid.Parse(keyID); err != nil {
			return nil, storeError("parse key id", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("count by key", err)
	}
	return out, nil
}

func (s *Store) DeleteByName(ctx context.Context, name string) (int64, error) {
	res, err := s.db.Writer.ExecContext(ctx,
		`DELETE FROM credential_versions WHERE name_key = ?`, credhub.FoldName(name))
	if err != nil {
		return 0, storeError("delete versions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("delete versions", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*credhub.CredentialVersion, error) {
	var (
		v                   credhub.CredentialVersion
		id, typ, keyID      string
		source              sql.NullString
		params, paramsNonce []byte
		created             int64
	)
	if err := row.Scan(&v.Sequence, &id, &v.Name, &typ, &keyID,
		&v.Value.Ciphertext, &v.Value.Nonce, &params, &paramsNonce, &source, &created, &v.Ordinal); err != nil {
		return nil, err
	}

	var err error
	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse version id %q: %w", id, err)
	}
	if v.KeyID, err = uuid.Parse(keyID); err != nil {
		return nil, fmt.Errorf("parse key id %q: %w", keyID, err)
	}
	if source.Valid {
		if v.SourceID, err = uuid.Parse(source.String); err != nil {
			return nil, fmt.Errorf("parse source version id %q: %w", source.String, err)
		}
	}
	// The type is returned as stored; unsupported tags are reported when the
	// version is rendered.
	v.Type = credhub.CredentialType(typ)
	if params != nil {
		v.Parameters = &credhub.Sealed{Ciphertext: params, Nonce: paramsNonce}
	}
	v.CreatedAt = time.Unix(0, created).UTC()
	return &v, nil
}

func collectVersions(rows *sql.Rows) ([]*credhub.CredentialVersion, error) {
	defer rows.Close()

	var out []*credhub.CredentialVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storeError("scan version", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("read versions", err)
	}
	return out, nil
}

func nullableUUID(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullableInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", credhub.ErrStoreUnavailable, op, err)
}

var _ credhub.VersionStore = (*Store)(nil)

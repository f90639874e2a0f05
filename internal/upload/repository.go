package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/imagehost/service/internal/db"
)

// DefaultHistoryLimit is how many records the store retains unless configured otherwise.
const DefaultHistoryLimit = 100

// Record is a successfully uploaded file. Records are never mutated; they
// leave the store only through eviction or an explicit Clear.
type Record struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	FileHash         string `json:"file_hash"`
	FileSize         int64  `json:"file_size"`
	URL              string `json:"url"`
	UploadTime       int64  `json:"upload_time"`
}

var (
	// ErrNotFound is returned when no record matches a hash.
	ErrNotFound = errors.New("upload record not found")
	// ErrConstraintViolation is returned when a hash is already recorded under another id.
	ErrConstraintViolation = errors.New("file hash already recorded")
	// ErrStoreUnavailable wraps any failure to reach or query the record store.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

const recordColumns = `id, original_filename, file_hash, file_size, url, upload_time`

// Repository is the SQL-backed dedup cache. It works on SQLite and PostgreSQL.
type Repository struct {
	db     *sql.DB
	driver string
	keep   int

	// mu serialises insert-and-evict within the process; the transaction
	// (and the table lock on postgres) covers other processes.
	mu sync.Mutex
}

// NewRepository creates a Repository retaining at most keep records.
func NewRepository(conn *sql.DB, driver string, keep int) *Repository {
	if keep <= 0 {
		keep = DefaultHistoryLimit
	}
	return &Repository{db: conn, driver: driver, keep: keep}
}

// Insert upserts rec by id and then trims the table to the newest records,
// both in one transaction.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if r.driver == db.DriverPostgres {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE uploads IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("%w: lock uploads: %w", ErrStoreUnavailable, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO uploads (`+recordColumns+`, seq)
		 VALUES ($1, $2, $3, $4, $5, $6, (SELECT COALESCE(MAX(seq), 0) + 1 FROM uploads))
		 ON CONFLICT (id) DO UPDATE SET
		     original_filename = excluded.original_filename,
		     file_hash         = excluded.file_hash,
		     file_size         = excluded.file_size,
		     url               = excluded.url,
		     upload_time       = excluded.upload_time,
		     seq               = excluded.seq`,
		rec.ID, rec.OriginalFilename, rec.FileHash, rec.FileSize, rec.URL, rec.UploadTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrConstraintViolation, rec.FileHash)
		}
		return fmt.Errorf("%w: insert upload: %w", ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM uploads
		 WHERE id NOT IN (
		     SELECT id FROM uploads
		     ORDER BY upload_time DESC, seq DESC
		     LIMIT $1
		 )`,
		r.keep,
	)
	if err != nil {
		return fmt.Errorf("%w: evict old uploads: %w", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// FindByHash returns the record for a content hash, or ErrNotFound.
func (r *Repository) FindByHash(ctx context.Context, hash string) (*Record, error) {
	rec := &Record{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM uploads WHERE file_hash = $1`,
		hash,
	).Scan(&rec.ID, &rec.OriginalFilename, &rec.FileHash, &rec.FileSize, &rec.URL, &rec.UploadTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by hash: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM uploads
		 ORDER BY upload_time DESC, seq DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list recent: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := make([]Record, 0, min(limit, r.keep))
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.OriginalFilename, &rec.FileHash, &rec.FileSize, &rec.URL, &rec.UploadTime); err != nil {
			return nil, fmt.Errorf("%w: scan upload: %w", ErrStoreUnavailable, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list recent: %w", ErrStoreUnavailable, err)
	}
	return records, nil
}

// Clear deletes every record.
func (r *Repository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads`); err != nil {
		return fmt.Errorf("%w: clear uploads: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// isUniqueViolation reports a UNIQUE constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

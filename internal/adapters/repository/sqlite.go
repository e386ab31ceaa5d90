package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/race"
	"github.com/okian/barrace/pkg/metrics"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	digest     TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 1,
	row_count  INTEGER NOT NULL,
	options    BLOB NOT NULL,
	rows       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_datasets_created ON datasets(created_at, id);
`

const upsertSQL = `
INSERT INTO datasets (id, digest, source, version, row_count, options, rows, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	digest = excluded.digest,
	source = excluded.source,
	version = excluded.version,
	row_count = excluded.row_count,
	options = excluded.options,
	rows = excluded.rows,
	updated_at = excluded.updated_at
`

// optionsRecord persists race.Options including the duration its JSON form omits.
type optionsRecord struct {
	race.Options
	TransitionMS int64 `json:"transition_duration_ms"`
}

// SQLiteStore persists datasets in a single SQLite table. Rows and options
// are stored as JSON blobs; listing reads only the summary columns.
type SQLiteStore struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	mctx, cancel := context.WithCancel(ctx)
	s := &SQLiteStore{
		db:     db,
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go runMetricsUpdater(mctx, o.metricsUpdateInterval, s.Count, s.done)
	return s, nil
}

func (s *SQLiteStore) Save(ctx context.Context, d Dataset) error {
	if d.ID == "" {
		return ErrInvalidID
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	optsBlob, err := json.Marshal(optionsRecord{Options: d.Options, TransitionMS: d.Options.TransitionDuration.Milliseconds()})
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	rows := d.Rows
	if rows == nil {
		rows = []model.Row{}
	}
	rowsBlob, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	created, updated := d.CreatedAt, d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if created.IsZero() {
		created = updated
	}

	if _, err := s.db.ExecContext(ctx, upsertSQL,
		d.ID, d.Digest, d.Source, d.Version, len(d.Rows), optsBlob, rowsBlob,
		created.UnixNano(), updated.UnixNano(),
	); err != nil {
		metrics.RecordErrorByComponent("repository", "write_failed")
		return fmt.Errorf("save dataset %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Dataset, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var (
		d                  Dataset
		optsBlob, rowsBlob []byte
		created, updated   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, digest, source, version, options, rows, created_at, updated_at FROM datasets WHERE id = ?`, id,
	).Scan(&d.ID, &d.Digest, &d.Source, &d.Version, &optsBlob, &rowsBlob, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Dataset{}, ErrNotFound
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("load dataset %s: %w", id, err)
	}

	var rec optionsRecord
	if err := json.Unmarshal(optsBlob, &rec); err != nil {
		return Dataset{}, fmt.Errorf("decode options of %s: %w", id, err)
	}
	d.Options = rec.Options
	d.Options.TransitionDuration = time.Duration(rec.TransitionMS) * time.Millisecond

	if err := json.Unmarshal(rowsBlob, &d.Rows); err != nil {
		return Dataset{}, fmt.Errorf("decode rows of %s: %w", id, err)
	}
	d.CreatedAt = time.Unix(0, created)
	d.UpdatedAt = time.Unix(0, updated)
	return d, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, digest, source, version, row_count, created_at, updated_at FROM datasets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Digest, &sum.Source, &sum.Version, &sum.RowCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return out, nil
}

// Count returns -1 when the database cannot be queried.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&n); err != nil {
		return -1
	}
	return n
}

// Close stops the metrics updater and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.db.Close()
	})
	return err
}

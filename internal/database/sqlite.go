package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// rejectionBatchSize keeps multi-row inserts under SQLite's bound variable limit.
const rejectionBatchSize = 100

// OpenSQLite opens the embedded store at dbPath and applies the connection pragmas.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("make db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return db, nil
}

type SQLiteDBManager struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

func NewSQLiteDBManager(db *sql.DB) *SQLiteDBManager {
	return &SQLiteDBManager{db: db, sq: sq.StatementBuilder}
}

func (m *SQLiteDBManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *SQLiteDBManager) Close() {
	_ = m.db.Close()
}

func (m *SQLiteDBManager) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS addresses (
			shape TEXT NOT NULL,
			code INTEGER NOT NULL,
			type_code INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			parent_code INTEGER NOT NULL DEFAULT 0,
			parent_type_code INTEGER NOT NULL DEFAULT 0,
			status_token TEXT NOT NULL,
			state TEXT NOT NULL CHECK (state IN ('ACTIVE', 'DELETED')),
			approved BOOLEAN NOT NULL DEFAULT 0,
			approval_degree INTEGER NOT NULL DEFAULT 0,
			sort_name TEXT NOT NULL DEFAULT '',
			valid_from TIMESTAMP,
			valid_to TIMESTAMP,
			last_modified TIMESTAMP,
			territorial_code TEXT NOT NULL DEFAULT '',
			full_address TEXT NOT NULL DEFAULT '',
			postal_code TEXT NOT NULL DEFAULT '',
			for_build BOOLEAN NOT NULL DEFAULT 0,
			planned_address BOOLEAN NOT NULL DEFAULT 0,
			coord_x REAL NOT NULL DEFAULT 0,
			coord_y REAL NOT NULL DEFAULT 0,
			lat REAL NOT NULL DEFAULT 0,
			lon REAL NOT NULL DEFAULT 0,
			first_seen_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP,
			PRIMARY KEY (shape, code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_parent ON addresses (parent_type_code, parent_code)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS', 'PROCESSING', 'FATAL', 'SKIPPED')),
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			rejected TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_checksum ON sync_runs (checksum, status)`,
		`CREATE TABLE IF NOT EXISTS sync_rejections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES sync_runs (id) ON DELETE CASCADE,
			shape TEXT NOT NULL,
			line INTEGER NOT NULL,
			code INTEGER NOT NULL,
			reason TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := m.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

func (m *SQLiteDBManager) ParentExists(ctx context.Context, shape models.Shape, code int64) (bool, error) {
	query, args, err := m.sq.Select("1").
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "code": code, "state": string(models.StateActive)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error looking up parent %s %d: %w", shape, code, err)
	}
	return true, nil
}

func (m *SQLiteDBManager) UpsertAddress(ctx context.Context, entity models.AddressEntity) error {
	query, args, err := m.sq.Insert(addressesTable).
		Columns(addressColumns...).
		Values(addressValues(entity)...).
		Suffix(upsertSuffix()).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error upserting %s %d: %w", entity.Shape, entity.Code, err)
	}
	return nil
}

func (m *SQLiteDBManager) SoftDeleteAddress(ctx context.Context, shape models.Shape, code int64, at time.Time) (bool, error) {
	query, args, err := m.sq.Update(addressesTable).
		Set("state", string(models.StateDeleted)).
		Set("status_token", models.StateDeleted.StatusToken()).
		Set("deleted_at", sq.Expr("COALESCE(deleted_at, ?)", at)).
		Where(sq.Eq{"shape": shape.String(), "code": code}).
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error deleting %s %d: %w", shape, code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *SQLiteDBManager) GetAddress(ctx context.Context, shape models.Shape, code int64) (*models.AddressEntity, error) {
	query, args, err := m.sq.Select(addressColumns...).
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "code": code}).
		ToSql()
	if err != nil {
		return nil, err
	}

	entity, err := scanAddress(m.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting %s %d: %w", shape, code, err)
	}
	return entity, nil
}

func (m *SQLiteDBManager) CountAddresses(ctx context.Context, shape models.Shape, state models.ReconciliationState) (int, error) {
	query, args, err := m.sq.Select("COUNT(*)").
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "state": string(state)}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting %s addresses: %w", shape, err)
	}
	return count, nil
}

func (m *SQLiteDBManager) InsertSyncRun(ctx context.Context, run models.SyncRun) error {
	values, err := syncRunValues(run)
	if err != nil {
		return err
	}

	query, args, err := m.sq.Insert(syncRunsTable).Columns(syncRunColumns...).Values(values...).ToSql()
	if err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error inserting sync run: %w", err)
	}
	return nil
}

func (m *SQLiteDBManager) UpdateSyncRun(ctx context.Context, run models.SyncRun) error {
	rejected, err := marshalRejected(run.Rejected)
	if err != nil {
		return err
	}

	query, args, err := m.sq.Update(syncRunsTable).
		Set("checksum", run.Checksum).
		Set("status", run.Status).
		Set("finished_at", run.FinishedAt).
		Set("rejected", rejected).
		Set("error", run.Error).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error updating sync run status: %w", err)
	}
	return nil
}

func (m *SQLiteDBManager) IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	query, args, err := m.sq.Select("id").
		From(syncRunsTable).
		Where(sq.Eq{"checksum": checksum, "status": models.RUN_STATUS_DONE}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var id string
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error finding sync run by checksum: %w", err)
	}
	return true, nil
}

func (m *SQLiteDBManager) InsertRejections(ctx context.Context, rejections []models.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(rejections); start += rejectionBatchSize {
		end := min(start+rejectionBatchSize, len(rejections))

		insert := m.sq.Insert(rejectionsTable).Columns("run_id", "shape", "line", "code", "reason", "message")
		for _, r := range rejections[start:end] {
			insert = insert.Values(r.RunID, r.Shape.String(), r.Line, r.Code, r.Reason, r.Message)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("error inserting rejections: %w", err)
		}
	}

	return tx.Commit()
}

func (m *SQLiteDBManager) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	query, args, err := m.sq.Select(syncRunColumns...).
		From(syncRunsTable).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	run, err := scanSyncRun(m.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting latest sync run: %w", err)
	}
	return run, nil
}

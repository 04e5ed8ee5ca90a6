package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return dbpool, nil
}

type PostgresDBManager struct {
	dbpool *pgxpool.Pool
	sq     sq.StatementBuilderType
}

func NewPostgresDBManager(pool *pgxpool.Pool) *PostgresDBManager {
	return &PostgresDBManager{dbpool: pool, sq: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (m *PostgresDBManager) Ping(ctx context.Context) error {
	return m.dbpool.Ping(ctx)
}

func (m *PostgresDBManager) Close() {
	m.dbpool.Close()
}

// CreateTables creates the address directory, the sync run history and the rejection log.
func (m *PostgresDBManager) CreateTables(ctx context.Context) error {
	queries := []string{
		`
	CREATE TABLE IF NOT EXISTS addresses (
		shape VARCHAR(16) NOT NULL,
		code BIGINT NOT NULL,
		type_code INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		parent_code BIGINT NOT NULL DEFAULT 0,
		parent_type_code INTEGER NOT NULL DEFAULT 0,
		status_token VARCHAR(8) NOT NULL,
		state VARCHAR(16) NOT NULL CHECK (state IN ('ACTIVE', 'DELETED')),
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		approval_degree INTEGER NOT NULL DEFAULT 0,
		sort_name TEXT NOT NULL DEFAULT '',
		valid_from TIMESTAMPTZ,
		valid_to TIMESTAMPTZ,
		last_modified TIMESTAMPTZ,
		territorial_code VARCHAR(32) NOT NULL DEFAULT '',
		full_address TEXT NOT NULL DEFAULT '',
		postal_code VARCHAR(16) NOT NULL DEFAULT '',
		for_build BOOLEAN NOT NULL DEFAULT FALSE,
		planned_address BOOLEAN NOT NULL DEFAULT FALSE,
		coord_x DOUBLE PRECISION NOT NULL DEFAULT 0,
		coord_y DOUBLE PRECISION NOT NULL DEFAULT 0,
		lat DOUBLE PRECISION NOT NULL DEFAULT 0,
		lon DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ,
		PRIMARY KEY (shape, code)
	);`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_parent ON addresses (parent_type_code, parent_code);`,
		`
	CREATE TABLE IF NOT EXISTS sync_runs (
		id UUID PRIMARY KEY,
		source_url TEXT NOT NULL,
		checksum VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(50) NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS', 'PROCESSING', 'FATAL', 'SKIPPED')),
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		rejected jsonb NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT ''
	);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_checksum ON sync_runs (checksum, status);`,
		`
	CREATE TABLE IF NOT EXISTS sync_rejections (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES sync_runs (id) ON DELETE CASCADE,
		shape VARCHAR(16) NOT NULL,
		line INTEGER NOT NULL,
		code BIGINT NOT NULL,
		reason VARCHAR(32) NOT NULL,
		message TEXT NOT NULL
	);`,
	}

	for _, query := range queries {
		if _, err := m.dbpool.Exec(ctx, query); err != nil {
			return fmt.Errorf("error creating tables: %w", err)
		}
	}

	return nil
}

func (m *PostgresDBManager) ParentExists(ctx context.Context, shape models.Shape, code int64) (bool, error) {
	query, args, err := m.sq.Select("1").
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "code": code, "state": string(models.StateActive)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	err = m.dbpool.QueryRow(ctx, query, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error looking up parent %s %d: %w", shape, code, err)
	}

	return true, nil
}

func (m *PostgresDBManager) UpsertAddress(ctx context.Context, entity models.AddressEntity) error {
	query, args, err := m.sq.Insert(addressesTable).
		Columns(addressColumns...).
		Values(addressValues(entity)...).
		Suffix(upsertSuffix()).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := m.dbpool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("error upserting %s %d: %w", entity.Shape, entity.Code, err)
	}

	return nil
}

// SoftDeleteAddress keeps the first deletion time when the entity is already deleted.
func (m *PostgresDBManager) SoftDeleteAddress(ctx context.Context, shape models.Shape, code int64, at time.Time) (bool, error) {
	query, args, err := m.sq.Update(addressesTable).
		Set("state", string(models.StateDeleted)).
		Set("status_token", models.StateDeleted.StatusToken()).
		Set("deleted_at", sq.Expr("COALESCE(deleted_at, ?)", at)).
		Where(sq.Eq{"shape": shape.String(), "code": code}).
		ToSql()
	if err != nil {
		return false, err
	}

	tag, err := m.dbpool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error deleting %s %d: %w", shape, code, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (m *PostgresDBManager) GetAddress(ctx context.Context, shape models.Shape, code int64) (*models.AddressEntity, error) {
	query, args, err := m.sq.Select(addressColumns...).
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "code": code}).
		ToSql()
	if err != nil {
		return nil, err
	}

	entity, err := scanAddress(m.dbpool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting %s %d: %w", shape, code, err)
	}

	return entity, nil
}

func (m *PostgresDBManager) CountAddresses(ctx context.Context, shape models.Shape, state models.ReconciliationState) (int, error) {
	query, args, err := m.sq.Select("COUNT(*)").
		From(addressesTable).
		Where(sq.Eq{"shape": shape.String(), "state": string(state)}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := m.dbpool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting %s addresses: %w", shape, err)
	}

	return count, nil
}

func (m *PostgresDBManager) InsertSyncRun(ctx context.Context, run models.SyncRun) error {
	values, err := syncRunValues(run)
	if err != nil {
		return err
	}

	query, args, err := m.sq.Insert(syncRunsTable).Columns(syncRunColumns...).Values(values...).ToSql()
	if err != nil {
		return err
	}

	if _, err := m.dbpool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("error inserting sync run: %w", err)
	}

	return nil
}

func (m *PostgresDBManager) UpdateSyncRun(ctx context.Context, run models.SyncRun) error {
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

	if _, err := m.dbpool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("error updating sync run status: %w", err)
	}

	return nil
}

func (m *PostgresDBManager) IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	query, args, err := m.sq.Select("id").
		From(syncRunsTable).
		Where(sq.Eq{"checksum": checksum, "status": models.RUN_STATUS_DONE}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var id string
	err = m.dbpool.QueryRow(ctx, query, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error finding sync run by checksum: %w", err)
	}

	return true, nil
}

// InsertRejections bulk loads the rejection log of a run with COPY.
func (m *PostgresDBManager) InsertRejections(ctx context.Context, rejections []models.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}

	columnNames := []string{"run_id", "shape", "line", "code", "reason", "message"}
	copySource := pgx.CopyFromSlice(len(rejections), func(i int) ([]interface{}, error) {
		r := rejections[i]
		return []interface{}{r.RunID, r.Shape.String(), r.Line, r.Code, r.Reason, r.Message}, nil
	})

	if _, err := m.dbpool.CopyFrom(ctx, pgx.Identifier{rejectionsTable}, columnNames, copySource); err != nil {
		return fmt.Errorf("unable to copy rejections: %w", err)
	}

	return nil
}

func (m *PostgresDBManager) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	query, args, err := m.sq.Select(syncRunColumns...).
		From(syncRunsTable).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	run, err := scanSyncRun(m.dbpool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting latest sync run: %w", err)
	}

	return run, nil
}

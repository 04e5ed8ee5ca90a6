package database

import (
	"context"
	"errors"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

var ErrNotFound = errors.New("not found")

// AddressStore is the canonical address directory. Entities are keyed by (shape, code).
type AddressStore interface {
	// ParentExists reports whether a non-deleted entity with this key is committed.
	ParentExists(ctx context.Context, shape models.Shape, code int64) (bool, error)
	// UpsertAddress creates the entity or overwrites its mutable attributes, keeping FirstSeenAt.
	UpsertAddress(ctx context.Context, entity models.AddressEntity) error
	// SoftDeleteAddress marks the entity deleted. It reports false when no entity exists.
	SoftDeleteAddress(ctx context.Context, shape models.Shape, code int64, at time.Time) (bool, error)
	GetAddress(ctx context.Context, shape models.Shape, code int64) (*models.AddressEntity, error)
	CountAddresses(ctx context.Context, shape models.Shape, state models.ReconciliationState) (int, error)
}

// RunStore keeps the history of pipeline runs.
type RunStore interface {
	InsertSyncRun(ctx context.Context, run models.SyncRun) error
	UpdateSyncRun(ctx context.Context, run models.SyncRun) error
	IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error)
	InsertRejections(ctx context.Context, rejections []models.Rejection) error
	LatestSyncRun(ctx context.Context) (*models.SyncRun, error)
}

type DBManager interface {
	AddressStore
	RunStore
	CreateTables(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

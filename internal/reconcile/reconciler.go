package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

// Item is a decoded record together with its resolved lifecycle state.
type Item struct {
	Record *models.Record
	State  models.ReconciliationState
}

// Result is the outcome of reconciling one shape.
type Result struct {
	Upserted int
	Deleted  int
	// Absent counts deletions of entities the store never held.
	Absent   int
	Deferred int
	Resolved int
	Errors   []*models.RecordError
}

// Rejected is the number of records that left the store untouched because of an error.
func (r *Result) Rejected() int {
	return len(r.Errors)
}

type Reconciler struct {
	store  database.AddressStore
	logger *slog.Logger
}

func NewReconciler(store database.AddressStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// ReconcileShape applies items in file order. Active children whose parent is not yet
// committed are retried once after the rest of the file. Only a cancelled context
// stops the shape early; every other failure is recorded per record.
func (r *Reconciler) ReconcileShape(ctx context.Context, shape models.Shape, runTime time.Time, items []Item) (*Result, error) {
	logger := r.logger.With("shape", shape.String())
	result := &Result{}
	var deferred []Item

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch item.State {
		case models.StateActive:
			ok, err := r.parentResolvable(ctx, item.Record)
			if err != nil {
				result.fail(item.Record, "parent lookup failed", err)
				continue
			}
			if !ok {
				deferred = append(deferred, item)
				result.Deferred++
				continue
			}
			r.upsert(ctx, item.Record, runTime, result)

		case models.StateDeleted:
			found, err := r.store.SoftDeleteAddress(ctx, shape, item.Record.Code, runTime)
			if err != nil {
				result.fail(item.Record, "soft delete failed", err)
				continue
			}
			if !found {
				result.Absent++
				continue
			}
			result.Deleted++

		case models.StateError:
			result.fail(item.Record, "rejected by register status", &models.RejectedStatusError{Token: item.Record.StatusToken})

		default:
			result.fail(item.Record, "unresolved status", &models.UnknownStatusError{Token: item.Record.StatusToken})
		}
	}

	if len(deferred) > 0 {
		logger.Debug("Retrying records with a missing parent", "count", len(deferred))
	}
	for _, item := range deferred {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ok, err := r.parentResolvable(ctx, item.Record)
		if err != nil {
			result.fail(item.Record, "parent lookup failed", err)
			continue
		}
		if !ok {
			rec := item.Record
			result.fail(rec, "parent not found", &models.UnresolvedParentError{
				Shape:          shape,
				Code:           rec.Code,
				ParentCode:     rec.ParentCode,
				ParentTypeCode: rec.ParentTypeCode,
			})
			continue
		}
		if r.upsert(ctx, item.Record, runTime, result) {
			result.Resolved++
		}
	}

	logger.Info("Shape reconciled",
		"upserted", result.Upserted,
		"deleted", result.Deleted,
		"absent", result.Absent,
		"deferred", result.Deferred,
		"resolved_on_retry", result.Resolved,
		"rejected", result.Rejected())
	return result, nil
}

func (r *Reconciler) upsert(ctx context.Context, rec *models.Record, runTime time.Time, result *Result) bool {
	if err := r.store.UpsertAddress(ctx, models.NewAddressEntity(rec, runTime)); err != nil {
		result.fail(rec, "upsert failed", err)
		return false
	}
	result.Upserted++
	return true
}

// parentResolvable reports whether rec's parent is a root or a committed, non-deleted entity.
// An unknown parent type code never resolves.
func (r *Reconciler) parentResolvable(ctx context.Context, rec *models.Record) (bool, error) {
	if models.IsRootTypeCode(rec.ParentTypeCode) {
		return true, nil
	}
	parentShape, ok := models.ShapeForTypeCode(rec.ParentTypeCode)
	if !ok {
		return false, nil
	}
	exists, err := r.store.ParentExists(ctx, parentShape, rec.ParentCode)
	if err != nil {
		return false, fmt.Errorf("lookup parent %s %d: %w", parentShape, rec.ParentCode, err)
	}
	return exists, nil
}

func (r *Result) fail(rec *models.Record, message string, err error) {
	r.Errors = append(r.Errors, &models.RecordError{
		Shape:   rec.Shape,
		Line:    rec.Line,
		Code:    rec.Code,
		Message: message,
		Err:     err,
		Record:  rec,
	})
}

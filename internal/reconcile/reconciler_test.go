package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAddressStore is a mock implementation of the AddressStore interface.
type MockAddressStore struct {
	mock.Mock
}

func (m *MockAddressStore) ParentExists(ctx context.Context, shape models.Shape, code int64) (bool, error) {
	args := m.Called(ctx, shape, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockAddressStore) UpsertAddress(ctx context.Context, entity models.AddressEntity) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

func (m *MockAddressStore) SoftDeleteAddress(ctx context.Context, shape models.Shape, code int64, at time.Time) (bool, error) {
	args := m.Called(ctx, shape, code, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockAddressStore) GetAddress(ctx context.Context, shape models.Shape, code int64) (*models.AddressEntity, error) {
	args := m.Called(ctx, shape, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddressEntity), args.Error(1)
}

func (m *MockAddressStore) CountAddresses(ctx context.Context, shape models.Shape, state models.ReconciliationState) (int, error) {
	args := m.Called(ctx, shape, state)
	return args.Int(0), args.Error(1)
}

var (
	firstRun  = time.Date(2025, 6, 1, 20, 5, 0, 0, time.UTC)
	secondRun = firstRun.Add(24 * time.Hour)
	thirdRun  = secondRun.Add(24 * time.Hour)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func items(records ...*models.Record) []Item {
	out := make([]Item, len(records))
	for i, rec := range records {
		rec.Line = i + 1
		state, err := models.ResolveStatus(rec.StatusToken)
		if err != nil {
			state = ""
		}
		out[i] = Item{Record: rec, State: state}
	}
	return out
}

func TestReconcileShape(t *testing.T) {
	ctx := context.Background()

	t.Run("Active records are created and then refreshed", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeRegion, firstRun, items(testutil.Region(113, "EKS")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Upserted)

		res, err = r.ReconcileShape(ctx, models.ShapeCity, firstRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "EKS")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Upserted)
		assert.Empty(t, res.Errors)

		_, err = r.ReconcileShape(ctx, models.ShapeRegion, secondRun, items(testutil.Region(113, "EKS")))
		require.NoError(t, err)

		region, err := store.GetAddress(ctx, models.ShapeRegion, 113)
		require.NoError(t, err)
		assert.Equal(t, models.StateActive, region.State)
		assert.True(t, region.FirstSeenAt.Equal(firstRun))
		assert.True(t, region.LastSeenAt.Equal(secondRun))
	})

	t.Run("Deleted records are soft-deleted once", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		_, err := r.ReconcileShape(ctx, models.ShapeRegion, firstRun, items(testutil.Region(113, "EKS")))
		require.NoError(t, err)
		_, err = r.ReconcileShape(ctx, models.ShapeCity, firstRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "EKS")))
		require.NoError(t, err)

		res, err := r.ReconcileShape(ctx, models.ShapeCity, secondRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "DEL")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Deleted)

		after, err := store.GetAddress(ctx, models.ShapeCity, 104)
		require.NoError(t, err)

		res, err = r.ReconcileShape(ctx, models.ShapeCity, thirdRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "DEL")))
		require.NoError(t, err)
		assert.Empty(t, res.Errors)

		again, err := store.GetAddress(ctx, models.ShapeCity, 104)
		require.NoError(t, err)
		assert.Equal(t, after, again)
		assert.Equal(t, models.StateDeleted, again.State)
		require.NotNil(t, again.DeletedAt)
		assert.True(t, again.DeletedAt.Equal(secondRun))
	})

	t.Run("Deleting an unknown entity is not an error", func(t *testing.T) {
		r := NewReconciler(database.NewMemoryDBManager(), discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeFlat, firstRun, items(testutil.Child(models.ShapeFlat, 9, 1, 108, "DEL")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Absent)
		assert.Zero(t, res.Deleted)
		assert.Empty(t, res.Errors)
	})

	t.Run("Missing parent is reported after one retry", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeBuilding, firstRun, items(testutil.Child(models.ShapeBuilding, 501, 999, 107, "EKS")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Deferred)
		assert.Zero(t, res.Resolved)
		require.Len(t, res.Errors, 1)

		var parentErr *models.UnresolvedParentError
		require.True(t, errors.As(res.Errors[0], &parentErr))
		assert.Equal(t, int64(999), parentErr.ParentCode)
		assert.Equal(t, "unresolved_parent", res.Errors[0].Reason())

		_, err = store.GetAddress(ctx, models.ShapeBuilding, 501)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("Forward reference within the file resolves on retry", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeVillage, firstRun, items(
			testutil.Child(models.ShapeVillage, 20, 10, 106, "EKS"),
			testutil.Child(models.ShapeVillage, 10, 100000000, 101, "EKS"),
		))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Upserted)
		assert.Equal(t, 1, res.Deferred)
		assert.Equal(t, 1, res.Resolved)
		assert.Empty(t, res.Errors)
	})

	t.Run("A deleted parent does not resolve children", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		_, err := r.ReconcileShape(ctx, models.ShapeRegion, firstRun, items(testutil.Region(113, "EKS")))
		require.NoError(t, err)
		_, err = r.ReconcileShape(ctx, models.ShapeRegion, secondRun, items(testutil.Region(113, "DEL")))
		require.NoError(t, err)

		res, err := r.ReconcileShape(ctx, models.ShapeCity, secondRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "EKS")))
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "unresolved_parent", res.Errors[0].Reason())
	})

	t.Run("Unknown parent type code never resolves", func(t *testing.T) {
		r := NewReconciler(database.NewMemoryDBManager(), discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeStreet, firstRun, items(testutil.Child(models.ShapeStreet, 7, 1, 999, "EKS")))
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "unresolved_parent", res.Errors[0].Reason())
	})

	t.Run("Erroneous records are rejected without mutation", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		r := NewReconciler(store, discardLogger())

		res, err := r.ReconcileShape(ctx, models.ShapeRegion, firstRun, items(testutil.Region(113, "ERR")))
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)

		var rejected *models.RejectedStatusError
		require.True(t, errors.As(res.Errors[0], &rejected))
		assert.Equal(t, "ERR", rejected.Token)
		assert.Equal(t, 1, res.Errors[0].Line)

		_, err = store.GetAddress(ctx, models.ShapeRegion, 113)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("Store failure is isolated to its record", func(t *testing.T) {
		store := new(MockAddressStore)
		failing := testutil.Region(1, "EKS")
		healthy := testutil.Region(2, "EKS")

		store.On("UpsertAddress", mock.Anything, mock.MatchedBy(func(e models.AddressEntity) bool { return e.Code == 1 })).
			Return(errors.New("connection reset")).Once()
		store.On("UpsertAddress", mock.Anything, mock.MatchedBy(func(e models.AddressEntity) bool { return e.Code == 2 })).
			Return(nil).Once()

		r := NewReconciler(store, discardLogger())
		res, err := r.ReconcileShape(ctx, models.ShapeRegion, firstRun, items(failing, healthy))
		require.NoError(t, err)

		assert.Equal(t, 1, res.Upserted)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, int64(1), res.Errors[0].Code)
		assert.Equal(t, "store", res.Errors[0].Reason())
		store.AssertExpectations(t)
	})

	t.Run("Parent lookup failure is a record error", func(t *testing.T) {
		store := new(MockAddressStore)
		store.On("ParentExists", mock.Anything, models.ShapeRegion, int64(113)).Return(false, errors.New("timeout"))

		r := NewReconciler(store, discardLogger())
		res, err := r.ReconcileShape(ctx, models.ShapeCity, firstRun, items(testutil.Child(models.ShapeCity, 104, 113, 113, "EKS")))
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0].Error(), "timeout")
		store.AssertNotCalled(t, "UpsertAddress", mock.Anything, mock.Anything)
	})

	t.Run("Cancelled context stops the shape", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		r := NewReconciler(database.NewMemoryDBManager(), discardLogger())
		_, err := r.ReconcileShape(cancelled, models.ShapeRegion, firstRun, items(testutil.Region(113, "EKS")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

package ingestion

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) InsertSyncRun(ctx context.Context, run models.SyncRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunStore) UpdateSyncRun(ctx context.Context, run models.SyncRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunStore) IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	args := m.Called(ctx, checksum)
	return args.Bool(0), args.Error(1)
}

func (m *MockRunStore) InsertRejections(ctx context.Context, rejections []models.Rejection) error {
	return m.Called(ctx, rejections).Error(0)
}

func (m *MockRunStore) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	args := m.Called(ctx)
	if run, ok := args.Get(0).(*models.SyncRun); ok {
		return run, args.Error(1)
	}
	return nil, args.Error(1)
}

type mapFiles map[string]string

func (f mapFiles) Open(fileName string) (io.ReadCloser, error) {
	content, ok := f[fileName]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestFileProcessor_ReadShapeFile(t *testing.T) {
	entry := parser.Manifest()[1]

	t.Run("Success case - skips blank lines and keeps numbering", func(t *testing.T) {
		fp := NewFileProcessor(database.NewMemoryDBManager(), parser.EncodingUTF8, discardLogger())
		files := mapFiles{entry.FileName: "first\r\n\r\nsecond\r\n"}

		lines, err := fp.ReadShapeFile(files, entry)

		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, parser.Line{No: 1, Text: "first"}, lines[0])
		assert.Equal(t, 3, lines[1].No)
	})

	t.Run("Success case - transcodes windows-1257", func(t *testing.T) {
		fp := NewFileProcessor(database.NewMemoryDBManager(), parser.EncodingWindows1257, discardLogger())
		// 0xD0 is Š in windows-1257
		files := mapFiles{entry.FileName: "\xd0iauliai\n"}

		lines, err := fp.ReadShapeFile(files, entry)

		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, "Šiauliai", lines[0].Text)
	})

	t.Run("Error case - file missing from the bundle", func(t *testing.T) {
		fp := NewFileProcessor(database.NewMemoryDBManager(), parser.EncodingUTF8, discardLogger())

		_, err := fp.ReadShapeFile(mapFiles{}, entry)

		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Contains(t, err.Error(), entry.FileName)
	})
}

func TestFileProcessor_FinishRun(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 20, 5, 0, 0, time.UTC)

	t.Run("Success case - stores run outcome and kept rejections", func(t *testing.T) {
		store := database.NewMemoryDBManager()
		fp := NewFileProcessor(store, parser.EncodingUTF8, discardLogger())
		run := models.SyncRun{ID: "run-1", SourceURL: "https://example.test/aw.zip", Status: models.RUN_STATUS_PROCESSING, StartedAt: started}
		require.NoError(t, fp.StartRun(ctx, run))

		shapeErrors := &ShapeErrorMap{Errors: map[models.Shape][]*models.RecordError{}, Counts: map[models.Shape]int{}}
		shapeErrors.add(&models.RecordError{Shape: models.ShapeCity, Line: 4, Code: 77, Err: &models.UnknownStatusError{Token: "XXX"}})
		shapeErrors.add(&models.RecordError{Shape: models.ShapeRegion, Line: 1, Code: 5, Err: &models.RejectedStatusError{Token: "ERR"}})

		finished := started.Add(time.Minute)
		run.Status = models.RUN_STATUS_DONE_WITH_ERRORS
		run.FinishedAt = &finished
		run.Rejected = map[string]int{"city": 1, "region": 1}
		require.NoError(t, fp.FinishRun(ctx, run, shapeErrors))

		latest, err := store.LatestSyncRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.RUN_STATUS_DONE_WITH_ERRORS, latest.Status)
		assert.Equal(t, 1, latest.Rejected["city"])

		rejections := store.Rejections()
		require.Len(t, rejections, 2)
		assert.Equal(t, models.ShapeRegion, rejections[0].Shape)
		assert.Equal(t, "rejected_status", rejections[0].Reason)
		assert.Equal(t, "unknown_status", rejections[1].Reason)
		assert.Equal(t, int64(77), rejections[1].Code)
		assert.Equal(t, "run-1", rejections[1].RunID)
	})

	t.Run("Error case - run update fails, rejections are not written", func(t *testing.T) {
		store := &MockRunStore{}
		store.On("UpdateSyncRun", mock.Anything, mock.Anything).Return(errors.New("db down"))
		fp := NewFileProcessor(store, parser.EncodingUTF8, discardLogger())

		err := fp.FinishRun(ctx, models.SyncRun{ID: "run-2"}, nil)

		assert.EqualError(t, err, "db down")
		store.AssertNotCalled(t, "InsertRejections", mock.Anything, mock.Anything)
	})

	t.Run("Error case - rejection insert fails", func(t *testing.T) {
		store := &MockRunStore{}
		store.On("UpdateSyncRun", mock.Anything, mock.Anything).Return(nil)
		store.On("InsertRejections", mock.Anything, mock.Anything).Return(errors.New("copy failed"))
		fp := NewFileProcessor(store, parser.EncodingUTF8, discardLogger())

		err := fp.FinishRun(ctx, models.SyncRun{ID: "run-3"}, nil)

		assert.EqualError(t, err, "copy failed")
		store.AssertExpectations(t)
	})
}

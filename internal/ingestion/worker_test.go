package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ThiagoRGoveia/address-sync/internal/metrics"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
	"github.com/ThiagoRGoveia/address-sync/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAsyncWorker(t *testing.T) {
	worker := NewAsyncWorker(AsyncWorkerConfig{NumDecodeWorkers: 0}, nil, discardLogger())

	assert.NotNil(t, worker)
	assert.Equal(t, 1, worker.config.NumDecodeWorkers)
}

func TestAsyncWorker_WithChannels(t *testing.T) {
	worker := NewAsyncWorker(AsyncWorkerConfig{}, nil, discardLogger())
	channels := &RunChannels{}

	worker.WithChannels(channels)

	assert.Equal(t, channels, worker.channels)
}

func TestAsyncWorker_ErrorWorker(t *testing.T) {
	t.Run("Success case - aggregates errors per shape", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		worker := NewAsyncWorker(AsyncWorkerConfig{}, m, discardLogger())

		setupReturn, err := Setup{}.build()
		require.NoError(t, err)
		channels, wg, shapeErrors := setupReturn.GetValues()
		worker.WithChannels(channels)

		runner, _, err := worker.SetupErrorWorker(wg)
		require.NoError(t, err)
		runner.Run(shapeErrors)

		channels.Errors <- &models.RecordError{Shape: models.ShapeCity, Line: 1, Err: &models.UnknownStatusError{Token: "X"}}
		channels.Errors <- &models.RecordError{Shape: models.ShapeFlat, Line: 2, Err: errors.New("store down")}
		close(channels.Errors)
		wg.Wait()

		assert.Equal(t, 1, shapeErrors.Count(models.ShapeCity))
		assert.Equal(t, 1, shapeErrors.Count(models.ShapeFlat))
		assert.Zero(t, shapeErrors.Count(models.ShapeRegion))
		assert.Equal(t, 1.0, promtest.ToFloat64(m.Rejections.WithLabelValues("city", "unknown_status")))
		assert.Equal(t, 1.0, promtest.ToFloat64(m.Rejections.WithLabelValues("flat", "store")))
	})

	t.Run("Edge case - details are capped, counts are not", func(t *testing.T) {
		worker := NewAsyncWorker(AsyncWorkerConfig{}, nil, discardLogger())
		setupReturn, _ := Setup{}.build()
		channels, wg, shapeErrors := setupReturn.GetValues()
		worker.WithChannels(channels)

		wg.Add(1)
		go worker.ErrorWorker(wg, shapeErrors)
		for i := 0; i < 250; i++ {
			channels.Errors <- &models.RecordError{Shape: models.ShapeBuilding, Line: i + 1}
		}
		close(channels.Errors)
		wg.Wait()

		assert.Equal(t, 250, shapeErrors.Count(models.ShapeBuilding))
		assert.Len(t, shapeErrors.Errors[models.ShapeBuilding], maxStoredErrorsPerShape)
		assert.Equal(t, 1, shapeErrors.Errors[models.ShapeBuilding][0].Line)
	})
}

func TestAsyncWorker_DecodeShape(t *testing.T) {
	entry := parser.Manifest()[0]

	t.Run("Success case - results keep file order", func(t *testing.T) {
		lines := make([]parser.Line, 2500)
		for i := range lines {
			lines[i] = parser.Line{No: i + 1, Text: parser.Encode(testutil.Region(int64(1000+i), "EKS"))}
		}
		lines[1700].Text = "not;a;record"

		for _, workers := range []int{1, 3, 8} {
			t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
				worker := NewAsyncWorker(AsyncWorkerConfig{NumDecodeWorkers: workers}, nil, discardLogger())
				decoded, err := worker.DecodeShape(context.Background(), entry, lines)
				require.NoError(t, err)
				require.Len(t, decoded, len(lines))

				for i, d := range decoded {
					assert.Equal(t, i+1, d.Line.No)
					if i == 1700 {
						var decodeErr *models.DecodeError
						assert.True(t, errors.As(d.Err, &decodeErr))
						assert.Nil(t, d.Record)
						continue
					}
					require.NoError(t, d.Err)
					assert.Equal(t, int64(1000+i), d.Record.Code)
				}
			})
		}
	})

	t.Run("Edge case - truncated line is a decode error", func(t *testing.T) {
		worker := NewAsyncWorker(AsyncWorkerConfig{NumDecodeWorkers: 2}, nil, discardLogger())
		lines := []parser.Line{
			{No: 1, Text: strings.Repeat("1", 64), Truncated: true},
			{No: 2, Text: parser.Encode(testutil.Region(113, "EKS"))},
		}

		decoded, err := worker.DecodeShape(context.Background(), entry, lines)
		require.NoError(t, err)
		require.Len(t, decoded, 2)

		var decodeErr *models.DecodeError
		require.True(t, errors.As(decoded[0].Err, &decodeErr))
		assert.ErrorIs(t, decoded[0].Err, parser.ErrLineTooLong)
		assert.Equal(t, 1, decodeErr.Line)
		assert.Nil(t, decoded[0].Record)
		require.NoError(t, decoded[1].Err)
		assert.Equal(t, int64(113), decoded[1].Record.Code)
	})

	t.Run("Success case - empty file", func(t *testing.T) {
		worker := NewAsyncWorker(AsyncWorkerConfig{NumDecodeWorkers: 4}, nil, discardLogger())
		decoded, err := worker.DecodeShape(context.Background(), entry, nil)
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("Error case - cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		worker := NewAsyncWorker(AsyncWorkerConfig{NumDecodeWorkers: 2}, nil, discardLogger())

		_, err := worker.DecodeShape(ctx, entry, []parser.Line{{No: 1, Text: "1"}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestShapeErrorMap_ConcurrentAdd(t *testing.T) {
	setupReturn, _ := Setup{}.build()
	shapeErrors := setupReturn.ShapeErrors

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				shapeErrors.add(&models.RecordError{Shape: models.ShapeStreet})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, shapeErrors.Count(models.ShapeStreet))
	assert.Len(t, shapeErrors.Errors[models.ShapeStreet], maxStoredErrorsPerShape)
}

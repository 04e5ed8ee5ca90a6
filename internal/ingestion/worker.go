package ingestion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThiagoRGoveia/address-sync/internal/metrics"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
	"golang.org/x/sync/errgroup"
)

type Runner[T any] struct {
	Run T
}

type AsyncWorkerConfig struct {
	NumDecodeWorkers int
}

// Decoded is the decoding outcome of one line. Exactly one of Record and Err is set.
type Decoded struct {
	Line   parser.Line
	Record *models.Record
	Err    error
}

// Worker defines the interface for the concurrent parts of a run.
type Worker interface {
	WithChannels(channels *RunChannels) Worker
	SetupErrorWorker(wg *sync.WaitGroup) (Runner[func(*ShapeErrorMap)], *sync.WaitGroup, error)
	DecodeShape(ctx context.Context, entry models.ManifestEntry, lines []parser.Line) ([]Decoded, error)
}

type AsyncWorker struct {
	config   AsyncWorkerConfig
	channels *RunChannels
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAsyncWorker(cfg AsyncWorkerConfig, m *metrics.Metrics, logger *slog.Logger) *AsyncWorker {
	if cfg.NumDecodeWorkers < 1 {
		cfg.NumDecodeWorkers = 1
	}
	return &AsyncWorker{config: cfg, metrics: m, logger: logger}
}

func (w *AsyncWorker) WithChannels(channels *RunChannels) Worker {
	w.channels = channels
	return w
}

// ErrorWorker drains the errors channel until it is closed.
func (w *AsyncWorker) ErrorWorker(wg *sync.WaitGroup, shapeErrors *ShapeErrorMap) {
	defer wg.Done()
	for recErr := range w.channels.Errors {
		w.metrics.IncrementRejection(recErr.Shape.String(), recErr.Reason())
		if shapeErrors.add(recErr) {
			w.logger.Warn("Record rejected",
				"shape", recErr.Shape.String(),
				"line", recErr.Line,
				"code", recErr.Code,
				"reason", recErr.Reason(),
				"error", recErr.Err)
		} else if shapeErrors.Count(recErr.Shape) == maxStoredErrorsPerShape+1 {
			// limit stored errors per shape; the rest is only counted
			w.logger.Warn("Shape has too many rejected records, further details are not stored", "shape", recErr.Shape.String())
		}
	}
}

func (w *AsyncWorker) SetupErrorWorker(wg *sync.WaitGroup) (Runner[func(*ShapeErrorMap)], *sync.WaitGroup, error) {
	return Runner[func(*ShapeErrorMap)]{
		Run: func(shapeErrors *ShapeErrorMap) {
			wg.Add(1)
			go w.ErrorWorker(wg, shapeErrors)
		},
	}, wg, nil
}

// DecodeShape decodes lines on NumDecodeWorkers goroutines. Results keep file order.
// Decode failures are reported per line; only a cancelled context fails the call.
func (w *AsyncWorker) DecodeShape(ctx context.Context, entry models.ManifestEntry, lines []parser.Line) ([]Decoded, error) {
	results := make([]Decoded, len(lines))
	if len(lines) == 0 {
		return results, nil
	}

	chunk := (len(lines) + w.config.NumDecodeWorkers - 1) / w.config.NumDecodeWorkers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(lines); start += chunk {
		start, end := start, min(start+chunk, len(lines))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if lines[i].Truncated {
					results[i] = Decoded{Line: lines[i], Err: &models.DecodeError{
						Shape: entry.Shape,
						Line:  lines[i].No,
						Field: "line",
						Err:   parser.ErrLineTooLong,
					}}
					continue
				}
				rec, err := entry.Decode(lines[i].Text, lines[i].No)
				results[i] = Decoded{Line: lines[i], Record: rec, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

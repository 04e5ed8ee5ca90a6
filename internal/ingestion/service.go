package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/archive"
	"github.com/ThiagoRGoveia/address-sync/internal/config"
	"github.com/ThiagoRGoveia/address-sync/internal/fetcher"
	"github.com/ThiagoRGoveia/address-sync/internal/metrics"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
	"github.com/ThiagoRGoveia/address-sync/internal/reconcile"
	"github.com/ThiagoRGoveia/address-sync/pkg/checksum"
	"github.com/google/uuid"
)

// Extractor unpacks the fetched archive.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*archive.Bundle, error)
}

// ShapeReconciler applies the decoded records of one shape to the store.
type ShapeReconciler interface {
	ReconcileShape(ctx context.Context, shape models.Shape, runTime time.Time, items []reconcile.Item) (*reconcile.Result, error)
}

type ServiceConfig struct {
	SkipUnchangedArchive bool
}

type IngestionService struct {
	configReader  config.Reader
	fetcher       fetcher.Fetcher
	extractor     Extractor
	reconciler    ShapeReconciler
	setupService  ISetup
	asyncWorker   Worker
	fileProcessor Processor
	manifest      []models.ManifestEntry
	metrics       *metrics.Metrics
	logger        *slog.Logger
	config        ServiceConfig
	now           func() time.Time
}

func NewIngestionService(
	reader config.Reader,
	fetch fetcher.Fetcher,
	extractor Extractor,
	reconciler ShapeReconciler,
	setupService ISetup,
	worker Worker,
	processor Processor,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg ServiceConfig,
) *IngestionService {
	return &IngestionService{
		configReader:  reader,
		fetcher:       fetch,
		extractor:     extractor,
		reconciler:    reconciler,
		setupService:  setupService,
		asyncWorker:   worker,
		fileProcessor: processor,
		manifest:      parser.Manifest(),
		metrics:       m,
		logger:        logger,
		config:        cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs the sync pipeline once. The returned error is set only for run-level
// failures; the report is returned in every case.
func (h *IngestionService) Execute(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: h.now(),
		Status:    models.RUN_STATUS_PROCESSING,
		Shapes:    make(map[string]models.ShapeStats, len(h.manifest)),
	}
	logger := h.logger.With("run_id", report.RunID)

	// Step 0: Setup the run environment.
	environmentConfig, err := h.setupService.build()
	if err != nil {
		return h.fail(ctx, logger, report, nil, nil, err)
	}
	channels, errorWg, shapeErrors := environmentConfig.GetValues()

	// Step 1: Resolve the archive location at run time so a changed link needs no restart.
	url := h.configReader.Get(config.KeyDownloadLink)
	run := &models.SyncRun{
		ID:        report.RunID,
		SourceURL: url,
		Status:    models.RUN_STATUS_PROCESSING,
		StartedAt: report.StartedAt,
	}
	if err := h.fileProcessor.StartRun(ctx, *run); err != nil {
		report.Status = models.RUN_STATUS_FATAL
		report.Error = err.Error()
		report.FinishedAt = h.now()
		h.metrics.ObserveRun(report.Status, false, report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
		return report, fmt.Errorf("record sync run: %w", err)
	}
	logger.Info("Sync run started", "url", url)

	// Step 2: Fetch the archive. Nothing has been mutated yet.
	data, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return h.fail(ctx, logger, report, run, nil, err)
	}

	// Step 3: Checksum the archive, optionally skipping one that was already reconciled.
	report.Checksum = checksum.Bytes(data)
	run.Checksum = report.Checksum
	logger.Info("Archive downloaded", "bytes", len(data), "checksum", report.Checksum)

	if h.config.SkipUnchangedArchive {
		processed, err := h.fileProcessor.IsArchiveAlreadyProcessed(ctx, report.Checksum)
		if err != nil {
			logger.Warn("Failed to check archive history, reconciling anyway", "error", err)
		} else if processed {
			logger.Info("Archive already reconciled, skipping", "checksum", report.Checksum)
			report.Status = models.RUN_STATUS_SKIPPED
			report.Success = true
			return h.finish(ctx, logger, report, run, nil), nil
		}
	}

	// Step 4: Extract. A missing manifest file aborts before any mutation.
	bundle, err := h.extractor.Extract(ctx, data)
	if err != nil {
		return h.fail(ctx, logger, report, run, nil, err)
	}
	defer func() {
		if err := bundle.Close(); err != nil {
			logger.Error("Failed to remove working directory", "dir", bundle.Dir, "error", err)
		}
	}()

	// Step 5: Start the error worker. It owns the record-level error aggregation.
	h.asyncWorker.WithChannels(channels)
	errorWorkerRunner, _, err := h.asyncWorker.SetupErrorWorker(errorWg)
	if err != nil {
		return h.fail(ctx, logger, report, run, nil, err)
	}
	errorWorkerRunner.Run(shapeErrors)

	// Step 6: Reconcile every manifest entry in order. Parents come before children.
	runErr := h.processManifest(ctx, logger, report, bundle, channels)

	// Step 7: Wait for the error worker to drain.
	close(channels.Errors)
	errorWg.Wait()

	for _, entry := range h.manifest {
		stats := report.Shapes[entry.Shape.String()]
		stats.Rejected = shapeErrors.Count(entry.Shape)
		report.Shapes[entry.Shape.String()] = stats
	}

	if runErr != nil {
		return h.fail(ctx, logger, report, run, shapeErrors, runErr)
	}

	// Step 8: Close the run record.
	report.Success = true
	report.Status = models.RUN_STATUS_DONE
	if report.TotalRejected() > 0 {
		report.Status = models.RUN_STATUS_DONE_WITH_ERRORS
	}
	return h.finish(ctx, logger, report, run, shapeErrors), nil
}

func (h *IngestionService) processManifest(ctx context.Context, logger *slog.Logger, report *models.RunReport, files FileOpener, channels *RunChannels) error {
	for _, entry := range h.manifest {
		if err := ctx.Err(); err != nil {
			return err
		}

		shapeLogger := logger.With("shape", entry.Shape.String())
		lines, err := h.fileProcessor.ReadShapeFile(files, entry)
		if err != nil {
			return err
		}

		decoded, err := h.asyncWorker.DecodeShape(ctx, entry, lines)
		if err != nil {
			return err
		}

		stats := models.ShapeStats{}
		items := make([]reconcile.Item, 0, len(decoded))
		unique := parser.NewUniqueCodes(entry.Shape)
		for _, d := range decoded {
			if d.Err != nil {
				channels.Errors <- &models.RecordError{Shape: entry.Shape, Line: d.Line.No, Message: "decode failed", Err: d.Err}
				continue
			}
			if err := unique.Check(d.Record); err != nil {
				channels.Errors <- recordError(d.Record, "duplicate code", err)
				continue
			}
			stats.Decoded++

			state, err := models.ResolveStatus(d.Record.StatusToken)
			if err != nil {
				channels.Errors <- recordError(d.Record, "status not resolved", err)
				continue
			}
			items = append(items, reconcile.Item{Record: d.Record, State: state})
		}
		shapeLogger.Info("Shape decoded", "lines", len(lines), "records", stats.Decoded)

		result, err := h.reconciler.ReconcileShape(ctx, entry.Shape, report.StartedAt, items)
		if result != nil {
			stats.Upserted = result.Upserted
			stats.Deleted = result.Deleted
			stats.Deferred = result.Deferred
			stats.Resolved = result.Resolved
			for _, recErr := range result.Errors {
				channels.Errors <- recErr
			}
			h.metrics.AddRecords(entry.Shape.String(), "upserted", result.Upserted)
			h.metrics.AddRecords(entry.Shape.String(), "deleted", result.Deleted)
			h.metrics.AddRecords(entry.Shape.String(), "absent", result.Absent)
			h.metrics.AddRecords(entry.Shape.String(), "resolved_on_retry", result.Resolved)
		}
		report.Shapes[entry.Shape.String()] = stats
		if err != nil {
			return err
		}
	}
	return nil
}

func recordError(rec *models.Record, message string, err error) *models.RecordError {
	return &models.RecordError{Shape: rec.Shape, Line: rec.Line, Code: rec.Code, Message: message, Err: err, Record: rec}
}

func (h *IngestionService) fail(ctx context.Context, logger *slog.Logger, report *models.RunReport, run *models.SyncRun, shapeErrors *ShapeErrorMap, err error) (*models.RunReport, error) {
	report.Success = false
	report.Status = models.RUN_STATUS_FATAL
	report.Error = err.Error()

	var mismatch *models.ManifestMismatchError
	var fetchErr *models.FetchError
	switch {
	case errors.As(err, &fetchErr):
		logger.Error("Failed to fetch archive", "url", fetchErr.URL, "error", fetchErr.Err)
	case errors.As(err, &mismatch):
		logger.Error("Archive does not match the manifest", "missing", mismatch.Missing)
	default:
		logger.Error("Sync run aborted", "error", err)
	}

	// Bookkeeping has to land even when the run context was cancelled.
	return h.finish(context.WithoutCancel(ctx), logger, report, run, shapeErrors), err
}

func (h *IngestionService) finish(ctx context.Context, logger *slog.Logger, report *models.RunReport, run *models.SyncRun, shapeErrors *ShapeErrorMap) *models.RunReport {
	report.FinishedAt = h.now()
	h.metrics.ObserveRun(report.Status, report.Success, report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)

	if run != nil {
		finishedAt := report.FinishedAt
		run.Status = report.Status
		run.FinishedAt = &finishedAt
		run.Rejected = report.RejectedCounts()
		run.Error = report.Error
		// Errors are logged by the processor and never change the run outcome.
		_ = h.fileProcessor.FinishRun(ctx, *run, shapeErrors)
	}

	logger.Info("Sync run finished",
		"status", report.Status,
		"rejected", report.TotalRejected(),
		"duration", report.FinishedAt.Sub(report.StartedAt).String())
	return report
}

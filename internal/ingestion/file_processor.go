package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
)

// FileOpener is the part of an extracted archive the processor reads from.
type FileOpener interface {
	Open(fileName string) (io.ReadCloser, error)
}

// Processor defines the interface for the bookkeeping around one run.
type Processor interface {
	ReadShapeFile(files FileOpener, entry models.ManifestEntry) ([]parser.Line, error)
	StartRun(ctx context.Context, run models.SyncRun) error
	IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error)
	FinishRun(ctx context.Context, run models.SyncRun, shapeErrors *ShapeErrorMap) error
}

// FileProcessor reads manifest files and keeps the sync run history.
type FileProcessor struct {
	dbManager database.RunStore
	encoding  string
	logger    *slog.Logger
}

func NewFileProcessor(dbManager database.RunStore, encoding string, logger *slog.Logger) *FileProcessor {
	return &FileProcessor{
		dbManager: dbManager,
		encoding:  encoding,
		logger:    logger,
	}
}

// ReadShapeFile returns the non-blank lines of one manifest file, transcoded to UTF-8.
func (fp *FileProcessor) ReadShapeFile(files FileOpener, entry models.ManifestEntry) ([]parser.Line, error) {
	rc, err := files.Open(entry.FileName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.FileName, err)
	}
	defer rc.Close()

	lines, err := parser.ReadLines(rc, fp.encoding)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.FileName, err)
	}
	return lines, nil
}

func (fp *FileProcessor) StartRun(ctx context.Context, run models.SyncRun) error {
	return fp.dbManager.InsertSyncRun(ctx, run)
}

func (fp *FileProcessor) IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	return fp.dbManager.IsArchiveAlreadyProcessed(ctx, checksum)
}

// FinishRun closes the run record and stores the kept rejection details.
// Bookkeeping failures are logged; the addresses are already reconciled.
func (fp *FileProcessor) FinishRun(ctx context.Context, run models.SyncRun, shapeErrors *ShapeErrorMap) error {
	var rejections []models.Rejection
	if shapeErrors != nil {
		shapeErrors.Mu.Lock()
		for _, shape := range models.Shapes {
			for _, recErr := range shapeErrors.Errors[shape] {
				rejections = append(rejections, models.Rejection{
					RunID:   run.ID,
					Shape:   shape,
					Line:    recErr.Line,
					Code:    recErr.Code,
					Reason:  recErr.Reason(),
					Message: recErr.Error(),
				})
			}
		}
		shapeErrors.Mu.Unlock()
	}

	if err := fp.dbManager.UpdateSyncRun(ctx, run); err != nil {
		fp.logger.Error("Failed to update sync run status", "run_id", run.ID, "error", err)
		return err
	}

	if err := fp.dbManager.InsertRejections(ctx, rejections); err != nil {
		fp.logger.Error("Failed to store rejected records", "run_id", run.ID, "count", len(rejections), "error", err)
		return err
	}
	return nil
}

package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

// WorkDirPrefix names the working directories created by the extractor.
const WorkDirPrefix = "address-sync"

const archiveFileName = "archive.zip"

// FileStore is the temporary file collaborator used for scoped working directories.
type FileStore interface {
	Acquire(prefix string) (string, error)
	SweepStale(prefix string) (int, error)
	Save(data []byte, path string) error
	CleanUp(path string) error
	DeleteDirectory(path string) error
}

// Extractor unpacks a register archive into a scoped working directory.
type Extractor struct {
	store    FileStore
	manifest []models.ManifestEntry
	logger   *slog.Logger
}

func NewExtractor(store FileStore, manifest []models.ManifestEntry, logger *slog.Logger) *Extractor {
	return &Extractor{store: store, manifest: manifest, logger: logger}
}

// Bundle is an extracted archive. Close removes its working directory.
type Bundle struct {
	Dir   string
	files map[string]string
	store FileStore
}

// Open returns the content of one manifest file.
func (b *Bundle) Open(fileName string) (io.ReadCloser, error) {
	p, ok := b.files[strings.ToUpper(fileName)]
	if !ok {
		return nil, fmt.Errorf("file %s is not part of the extracted archive", fileName)
	}
	return os.Open(p)
}

func (b *Bundle) Close() error {
	return b.store.DeleteDirectory(b.Dir)
}

// Extract saves data into a fresh working directory and unpacks every manifest file from it.
// The working directory is removed on every failure path; on success the caller owns it
// through the returned Bundle.
func (e *Extractor) Extract(ctx context.Context, data []byte) (bundle *Bundle, err error) {
	if removed, sweepErr := e.store.SweepStale(WorkDirPrefix); sweepErr != nil {
		e.logger.Warn("Failed to sweep stale working directories", "error", sweepErr)
	} else if removed > 0 {
		e.logger.Info("Removed working directories left by a previous run", "count", removed)
	}

	dir, err := e.store.Acquire(WorkDirPrefix)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if cleanupErr := e.store.DeleteDirectory(dir); cleanupErr != nil {
				e.logger.Error("Failed to remove working directory", "dir", dir, "error", cleanupErr)
			}
		}
	}()

	archivePath := filepath.Join(dir, archiveFileName)
	if err = e.store.Save(data, archivePath); err != nil {
		return nil, err
	}

	files, err := e.unpack(ctx, archivePath, dir)
	if err != nil {
		return nil, err
	}

	if cleanupErr := e.store.CleanUp(archivePath); cleanupErr != nil {
		e.logger.Warn("Failed to remove archive after extraction", "path", archivePath, "error", cleanupErr)
	}

	var missing []string
	for _, entry := range e.manifest {
		if _, ok := files[strings.ToUpper(entry.FileName)]; !ok {
			missing = append(missing, entry.FileName)
		}
	}
	if len(missing) > 0 {
		err = &models.ManifestMismatchError{Missing: missing}
		return nil, err
	}

	e.logger.Info("Archive extracted", "dir", dir, "files", len(files))
	return &Bundle{Dir: dir, files: files, store: e.store}, nil
}

func (e *Extractor) unpack(ctx context.Context, archivePath, dir string) (map[string]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	wanted := make(map[string]string, len(e.manifest))
	for _, entry := range e.manifest {
		wanted[strings.ToUpper(entry.FileName)] = entry.FileName
	}

	files := make(map[string]string, len(e.manifest))
	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || strings.Contains(f.Name, "..") {
			continue
		}

		key := strings.ToUpper(path.Base(f.Name))
		name, ok := wanted[key]
		if !ok {
			continue
		}
		if _, dup := files[key]; dup {
			e.logger.Warn("Archive contains a manifest file twice, keeping the first", "file", f.Name)
			continue
		}

		target := filepath.Join(dir, name)
		if err := extractFile(f, target); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		files[key] = target
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

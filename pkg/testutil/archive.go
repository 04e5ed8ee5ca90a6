package testutil

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
)

// File is one entry of a test archive.
type File struct {
	Name    string
	Content string
}

// BuildArchive zips files in the given order.
func BuildArchive(t *testing.T, files ...File) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.Name)
		if err != nil {
			t.Fatalf("failed to add %s to archive: %v", f.Name, err)
		}
		if _, err := fw.Write([]byte(f.Content)); err != nil {
			t.Fatalf("failed to write %s: %v", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	return buf.Bytes()
}

// RegisterArchive builds a complete register archive. Shapes without records get an empty file.
func RegisterArchive(t *testing.T, records map[models.Shape][]*models.Record) []byte {
	t.Helper()

	files := make([]File, 0, len(models.Manifest))
	for _, entry := range models.Manifest {
		var lines []string
		for _, rec := range records[entry.Shape] {
			lines = append(lines, parser.Encode(rec))
		}
		content := strings.Join(lines, "\r\n")
		if content != "" {
			content += "\r\n"
		}
		files = append(files, File{Name: entry.FileName, Content: content})
	}
	return BuildArchive(t, files...)
}

// Region returns an active region record hanging off the country.
func Region(code int64, status string) *models.Record {
	return &models.Record{
		Shape:          models.ShapeRegion,
		Code:           code,
		TypeCode:       models.ShapeRegion.TypeCode(),
		Name:           "Region",
		ParentCode:     100000000,
		ParentTypeCode: 101,
		StatusToken:    status,
	}
}

// Child returns a record of shape whose parent is (parentCode, parentTypeCode).
func Child(shape models.Shape, code, parentCode int64, parentTypeCode int, status string) *models.Record {
	return &models.Record{
		Shape:          shape,
		Code:           code,
		TypeCode:       shape.TypeCode(),
		Name:           shape.String(),
		ParentCode:     parentCode,
		ParentTypeCode: parentTypeCode,
		StatusToken:    status,
	}
}

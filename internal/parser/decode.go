package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrUnknownShape  = errors.New("unknown entity shape")
)

// SplitLine splits one positional line on the delimiter, removing text qualifiers.
// A qualifier only closes a field when it is followed by a delimiter or the end of the line.
func SplitLine(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	fields := make([]string, 0, 24)

	var b strings.Builder
	quoted, fieldStart := false, true
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == Qualifier && fieldStart:
			quoted = true
			fieldStart = false
		case c == Qualifier && quoted && (i+1 == len(line) || line[i+1] == Delimiter):
			quoted = false
		case c == Delimiter && !quoted:
			fields = append(fields, b.String())
			b.Reset()
			fieldStart = true
		default:
			b.WriteByte(c)
			fieldStart = false
		}
	}
	return append(fields, b.String())
}

// Decode converts one line of a shape's file into a record. lineNo is only used for reporting.
func Decode(shape models.Shape, line string, lineNo int) (*models.Record, error) {
	columns := Schema(shape)
	if columns == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShape, shape)
	}

	fields := SplitLine(line)
	rec := &models.Record{Shape: shape, Line: lineNo}

	for _, col := range columns {
		if col.Index >= len(fields) {
			return nil, &models.DecodeError{Shape: shape, Line: lineNo, Position: col.Index, Field: col.Field.String(), Err: ErrMissingColumn}
		}
		raw := strings.TrimSpace(fields[col.Index])
		if err := assign(rec, col, raw); err != nil {
			return nil, &models.DecodeError{Shape: shape, Line: lineNo, Position: col.Index, Field: col.Field.String(), Raw: raw, Err: err}
		}
	}

	return rec, nil
}

func assign(rec *models.Record, col Column, raw string) error {
	switch col.Kind {
	case KindInt:
		// Blank optional codes mean zero in the register.
		var v int64
		if raw != "" {
			var err error
			v, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return err
			}
		}
		return setInt(rec, col.Field, v)
	case KindString:
		return setString(rec, col.Field, raw)
	case KindBool:
		v, err := parseFlag(raw)
		if err != nil {
			return err
		}
		return setBool(rec, col.Field, v)
	case KindFloat:
		var v float64
		if raw != "" {
			var err error
			v, err = strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
			if err != nil {
				return err
			}
		}
		return setFloat(rec, col.Field, v)
	case KindDate:
		var v time.Time
		if raw != "" {
			var err error
			v, err = time.Parse(col.Layout, raw)
			if err != nil {
				return err
			}
		}
		return setDate(rec, col.Field, v)
	}
	return fmt.Errorf("unsupported column kind %d", col.Kind)
}

func parseFlag(raw string) (bool, error) {
	switch raw {
	case "Y", "1":
		return true, nil
	case "N", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", raw)
}

func setInt(rec *models.Record, f Field, v int64) error {
	switch f {
	case FieldCode:
		rec.Code = v
	case FieldTypeCode:
		rec.TypeCode = int(v)
	case FieldParentCode:
		rec.ParentCode = v
	case FieldParentTypeCode:
		rec.ParentTypeCode = int(v)
	case FieldApprovalDegree:
		rec.ApprovalDegree = int(v)
	default:
		return fmt.Errorf("field %s is not numeric", f)
	}
	return nil
}

func setString(rec *models.Record, f Field, v string) error {
	switch f {
	case FieldName:
		rec.Name = v
	case FieldStatus:
		rec.StatusToken = v
	case FieldSortName:
		rec.SortName = v
	case FieldTerritorialCode:
		rec.TerritorialCode = v
	case FieldFullAddress:
		rec.FullAddress = v
	case FieldPostalCode:
		rec.PostalCode = v
	default:
		return fmt.Errorf("field %s is not text", f)
	}
	return nil
}

func setBool(rec *models.Record, f Field, v bool) error {
	switch f {
	case FieldApproved:
		rec.Approved = v
	case FieldForBuild:
		rec.ForBuild = v
	case FieldPlannedAddress:
		rec.PlannedAddress = v
	default:
		return fmt.Errorf("field %s is not a flag", f)
	}
	return nil
}

func setFloat(rec *models.Record, f Field, v float64) error {
	switch f {
	case FieldCoordX:
		rec.CoordX = v
	case FieldCoordY:
		rec.CoordY = v
	case FieldLat:
		rec.Lat = v
	case FieldLon:
		rec.Lon = v
	default:
		return fmt.Errorf("field %s is not decimal", f)
	}
	return nil
}

func setDate(rec *models.Record, f Field, v time.Time) error {
	switch f {
	case FieldValidFrom:
		rec.ValidFrom = v
	case FieldValidTo:
		rec.ValidTo = v
	case FieldLastModified:
		rec.LastModified = v
	default:
		return fmt.Errorf("field %s is not a date", f)
	}
	return nil
}

// UniqueCodes rejects a second record carrying an already decoded code within one file.
type UniqueCodes struct {
	shape models.Shape
	seen  map[int64]int
}

func NewUniqueCodes(shape models.Shape) *UniqueCodes {
	return &UniqueCodes{shape: shape, seen: make(map[int64]int)}
}

func (u *UniqueCodes) Check(rec *models.Record) error {
	if first, ok := u.seen[rec.Code]; ok {
		return &models.DecodeError{
			Shape:    u.shape,
			Line:     rec.Line,
			Position: 0,
			Field:    FieldCode.String(),
			Raw:      strconv.FormatInt(rec.Code, 10),
			Err:      fmt.Errorf("duplicate code, first seen on line %d", first),
		}
	}
	u.seen[rec.Code] = rec.Line
	return nil
}

// Decoder returns the decode function of one shape.
func Decoder(shape models.Shape) models.DecodeFunc {
	return func(line string, lineNo int) (*models.Record, error) {
		return Decode(shape, line, lineNo)
	}
}

// Manifest is models.Manifest with every entry bound to its decoder.
func Manifest() []models.ManifestEntry {
	manifest := make([]models.ManifestEntry, len(models.Manifest))
	for i, entry := range models.Manifest {
		entry.Decode = Decoder(entry.Shape)
		manifest[i] = entry
	}
	return manifest
}

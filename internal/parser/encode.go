package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

// Encode writes a record back in its shape's positional layout.
func Encode(rec *models.Record) string {
	columns := Schema(rec.Shape)
	out := make([]string, width(columns))
	for _, col := range columns {
		out[col.Index] = encodeValue(rec, col)
	}
	return strings.Join(out, string(Delimiter))
}

func encodeValue(rec *models.Record, col Column) string {
	switch col.Kind {
	case KindInt:
		return strconv.FormatInt(intValue(rec, col.Field), 10)
	case KindString:
		return string(Qualifier) + stringValue(rec, col.Field) + string(Qualifier)
	case KindBool:
		if boolValue(rec, col.Field) {
			return "Y"
		}
		return "N"
	case KindFloat:
		v := floatValue(rec, col.Field)
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case KindDate:
		v := dateValue(rec, col.Field)
		if v.IsZero() {
			return ""
		}
		return v.Format(col.Layout)
	}
	return ""
}

func intValue(rec *models.Record, f Field) int64 {
	switch f {
	case FieldCode:
		return rec.Code
	case FieldTypeCode:
		return int64(rec.TypeCode)
	case FieldParentCode:
		return rec.ParentCode
	case FieldParentTypeCode:
		return int64(rec.ParentTypeCode)
	case FieldApprovalDegree:
		return int64(rec.ApprovalDegree)
	}
	return 0
}

func stringValue(rec *models.Record, f Field) string {
	switch f {
	case FieldName:
		return rec.Name
	case FieldStatus:
		return rec.StatusToken
	case FieldSortName:
		return rec.SortName
	case FieldTerritorialCode:
		return rec.TerritorialCode
	case FieldFullAddress:
		return rec.FullAddress
	case FieldPostalCode:
		return rec.PostalCode
	}
	return ""
}

func boolValue(rec *models.Record, f Field) bool {
	switch f {
	case FieldApproved:
		return rec.Approved
	case FieldForBuild:
		return rec.ForBuild
	case FieldPlannedAddress:
		return rec.PlannedAddress
	}
	return false
}

func floatValue(rec *models.Record, f Field) float64 {
	switch f {
	case FieldCoordX:
		return rec.CoordX
	case FieldCoordY:
		return rec.CoordY
	case FieldLat:
		return rec.Lat
	case FieldLon:
		return rec.Lon
	}
	return 0
}

func dateValue(rec *models.Record, f Field) time.Time {
	switch f {
	case FieldValidFrom:
		return rec.ValidFrom
	case FieldValidTo:
		return rec.ValidTo
	case FieldLastModified:
		return rec.LastModified
	}
	return time.Time{}
}

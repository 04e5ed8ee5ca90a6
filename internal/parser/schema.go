package parser

import "github.com/ThiagoRGoveia/address-sync/internal/models"

const (
	Delimiter = ';'
	Qualifier = '#'

	// ValidityLayout is used for the validity window columns.
	ValidityLayout = "2006.01.02"
	// ModifiedLayout is used for the register's own last-update timestamp.
	ModifiedLayout = "02.01.2006 15:04:05"
)

type Kind int

const (
	KindInt Kind = iota
	KindString
	KindBool
	KindFloat
	KindDate
)

type Field int

const (
	FieldCode Field = iota
	FieldTypeCode
	FieldName
	FieldParentCode
	FieldParentTypeCode
	FieldApproved
	FieldApprovalDegree
	FieldStatus
	FieldSortName
	FieldValidFrom
	FieldLastModified
	FieldValidTo
	FieldTerritorialCode
	FieldFullAddress
	FieldPostalCode
	FieldForBuild
	FieldPlannedAddress
	FieldCoordX
	FieldCoordY
	FieldLat
	FieldLon
)

var fieldNames = map[Field]string{
	FieldCode:            "KODS",
	FieldTypeCode:        "TIPS_CD",
	FieldName:            "NOSAUKUMS",
	FieldParentCode:      "VKUR_CD",
	FieldParentTypeCode:  "VKUR_TIPS",
	FieldApproved:        "APSTIPR",
	FieldApprovalDegree:  "APST_PAK",
	FieldStatus:          "STATUSS",
	FieldSortName:        "SORT_NOS",
	FieldValidFrom:       "DAT_SAK",
	FieldLastModified:    "DAT_MOD",
	FieldValidTo:         "DAT_BEIG",
	FieldTerritorialCode: "ATRIB",
	FieldFullAddress:     "STD",
	FieldPostalCode:      "PNOD_CD",
	FieldForBuild:        "FOR_BUILD",
	FieldPlannedAddress:  "PLAN_ADR",
	FieldCoordX:          "KOORD_X",
	FieldCoordY:          "KOORD_Y",
	FieldLat:             "DD_N",
	FieldLon:             "DD_E",
}

func (f Field) String() string { return fieldNames[f] }

// Column describes one positional column of a shape's file.
type Column struct {
	Index  int
	Field  Field
	Kind   Kind
	Layout string
}

var territorialColumns = []Column{
	{0, FieldCode, KindInt, ""},
	{1, FieldTypeCode, KindInt, ""},
	{2, FieldName, KindString, ""},
	{3, FieldParentCode, KindInt, ""},
	{4, FieldParentTypeCode, KindInt, ""},
	{5, FieldApproved, KindBool, ""},
	{6, FieldApprovalDegree, KindInt, ""},
	{7, FieldStatus, KindString, ""},
	{8, FieldSortName, KindString, ""},
	{9, FieldValidFrom, KindDate, ValidityLayout},
	{10, FieldLastModified, KindDate, ModifiedLayout},
	{11, FieldValidTo, KindDate, ValidityLayout},
	{12, FieldTerritorialCode, KindString, ""},
	{13, FieldFullAddress, KindString, ""},
}

// Streets carry no territorial unit code.
var streetColumns = []Column{
	{0, FieldCode, KindInt, ""},
	{1, FieldTypeCode, KindInt, ""},
	{2, FieldName, KindString, ""},
	{3, FieldParentCode, KindInt, ""},
	{4, FieldParentTypeCode, KindInt, ""},
	{5, FieldApproved, KindBool, ""},
	{6, FieldApprovalDegree, KindInt, ""},
	{7, FieldStatus, KindString, ""},
	{8, FieldSortName, KindString, ""},
	{9, FieldValidFrom, KindDate, ValidityLayout},
	{10, FieldLastModified, KindDate, ModifiedLayout},
	{11, FieldValidTo, KindDate, ValidityLayout},
	{12, FieldFullAddress, KindString, ""},
}

var buildingColumns = []Column{
	{0, FieldCode, KindInt, ""},
	{1, FieldTypeCode, KindInt, ""},
	{2, FieldStatus, KindString, ""},
	{3, FieldApproved, KindBool, ""},
	{4, FieldApprovalDegree, KindInt, ""},
	{5, FieldParentCode, KindInt, ""},
	{6, FieldParentTypeCode, KindInt, ""},
	{7, FieldName, KindString, ""},
	{8, FieldSortName, KindString, ""},
	{9, FieldPostalCode, KindString, ""},
	{10, FieldTerritorialCode, KindString, ""},
	{11, FieldValidFrom, KindDate, ValidityLayout},
	{12, FieldLastModified, KindDate, ModifiedLayout},
	{13, FieldValidTo, KindDate, ValidityLayout},
	{14, FieldForBuild, KindBool, ""},
	{15, FieldPlannedAddress, KindBool, ""},
	{16, FieldFullAddress, KindString, ""},
	{17, FieldCoordX, KindFloat, ""},
	{18, FieldCoordY, KindFloat, ""},
	{19, FieldLat, KindFloat, ""},
	{20, FieldLon, KindFloat, ""},
}

var flatColumns = []Column{
	{0, FieldCode, KindInt, ""},
	{1, FieldTypeCode, KindInt, ""},
	{2, FieldStatus, KindString, ""},
	{3, FieldApproved, KindBool, ""},
	{4, FieldApprovalDegree, KindInt, ""},
	{5, FieldParentCode, KindInt, ""},
	{6, FieldParentTypeCode, KindInt, ""},
	{7, FieldName, KindString, ""},
	{8, FieldSortName, KindString, ""},
	{9, FieldValidFrom, KindDate, ValidityLayout},
	{10, FieldLastModified, KindDate, ModifiedLayout},
	{11, FieldValidTo, KindDate, ValidityLayout},
	{12, FieldFullAddress, KindString, ""},
}

var schemas = map[models.Shape][]Column{
	models.ShapeRegion:   territorialColumns,
	models.ShapeCity:     territorialColumns,
	models.ShapeParish:   territorialColumns,
	models.ShapeVillage:  territorialColumns,
	models.ShapeStreet:   streetColumns,
	models.ShapeBuilding: buildingColumns,
	models.ShapeFlat:     flatColumns,
}

// Schema returns the column layout of a shape's file.
func Schema(shape models.Shape) []Column {
	return schemas[shape]
}

func width(columns []Column) int {
	w := 0
	for _, c := range columns {
		if c.Index+1 > w {
			w = c.Index + 1
		}
	}
	return w
}

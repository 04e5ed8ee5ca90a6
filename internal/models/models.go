package models

import (
	"strings"
	"time"
)

type Shape int

const (
	ShapeRegion Shape = iota
	ShapeCity
	ShapeParish
	ShapeVillage
	ShapeStreet
	ShapeBuilding
	ShapeFlat
)

var shapeNames = [...]string{"region", "city", "parish", "village", "street", "building", "flat"}

// Register type codes, as used by children in their parent type column.
var shapeTypeCodes = [...]int{113, 104, 105, 106, 107, 108, 109}

// Parent type codes that point outside the archive (no parent, or the country itself).
var rootTypeCodes = map[int]bool{0: true, 101: true}

// Shapes lists every entity shape in hierarchy order.
var Shapes = []Shape{ShapeRegion, ShapeCity, ShapeParish, ShapeVillage, ShapeStreet, ShapeBuilding, ShapeFlat}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return "unknown"
	}
	return shapeNames[s]
}

// TypeCode returns the register type code children use to reference this shape.
func (s Shape) TypeCode() int {
	if s < 0 || int(s) >= len(shapeTypeCodes) {
		return 0
	}
	return shapeTypeCodes[s]
}

// ParseShape maps a shape name back to its value.
func ParseShape(name string) (Shape, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range shapeNames {
		if n == name {
			return Shape(i), true
		}
	}
	return 0, false
}

// ShapeForTypeCode resolves a parent type code to the shape holding that parent.
func ShapeForTypeCode(typeCode int) (Shape, bool) {
	for i, c := range shapeTypeCodes {
		if c == typeCode {
			return Shape(i), true
		}
	}
	return 0, false
}

// IsRootTypeCode reports whether a parent type code needs no resolution.
func IsRootTypeCode(typeCode int) bool {
	return rootTypeCodes[typeCode]
}

// Record is one decoded line of a manifest file. Shape is the variant tag; the
// building-only fields stay zero for every other shape.
type Record struct {
	Shape Shape `json:"shape"`
	Line  int   `json:"line,omitempty"`

	Code     int64 `json:"code"`
	TypeCode int   `json:"type_code"`

	Name            string    `json:"name,omitempty"`
	ParentCode      int64     `json:"parent_code,omitempty"`
	ParentTypeCode  int       `json:"parent_type_code,omitempty"`
	StatusToken     string    `json:"status,omitempty"`
	Approved        bool      `json:"approved,omitempty"`
	ApprovalDegree  int       `json:"approval_degree,omitempty"`
	SortName        string    `json:"sort_name,omitempty"`
	ValidFrom       time.Time `json:"valid_from,omitempty"`
	ValidTo         time.Time `json:"valid_to,omitempty"`
	LastModified    time.Time `json:"last_modified,omitempty"`
	TerritorialCode string    `json:"territorial_code,omitempty"`
	FullAddress     string    `json:"full_address,omitempty"`

	PostalCode     string  `json:"postal_code,omitempty"`
	ForBuild       bool    `json:"for_build,omitempty"`
	PlannedAddress bool    `json:"planned_address,omitempty"`
	CoordX         float64 `json:"coord_x,omitempty"`
	CoordY         float64 `json:"coord_y,omitempty"`
	Lat            float64 `json:"lat,omitempty"`
	Lon            float64 `json:"lon,omitempty"`
}

// AddressEntity is the canonical, persisted form of a record.
type AddressEntity struct {
	Shape           Shape
	Code            int64
	TypeCode        int
	Name            string
	ParentCode      int64
	ParentTypeCode  int
	StatusToken     string
	State           ReconciliationState
	Approved        bool
	ApprovalDegree  int
	SortName        string
	ValidFrom       *time.Time
	ValidTo         *time.Time
	LastModified    *time.Time
	TerritorialCode string
	FullAddress     string
	PostalCode      string
	ForBuild        bool
	PlannedAddress  bool
	CoordX          float64
	CoordY          float64
	Lat             float64
	Lon             float64
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	DeletedAt       *time.Time
}

// NewAddressEntity builds the canonical entity for an active record seen at runTime.
func NewAddressEntity(r *Record, runTime time.Time) AddressEntity {
	return AddressEntity{
		Shape:           r.Shape,
		Code:            r.Code,
		TypeCode:        r.TypeCode,
		Name:            r.Name,
		ParentCode:      r.ParentCode,
		ParentTypeCode:  r.ParentTypeCode,
		StatusToken:     r.StatusToken,
		State:           StateActive,
		Approved:        r.Approved,
		ApprovalDegree:  r.ApprovalDegree,
		SortName:        r.SortName,
		ValidFrom:       timePtr(r.ValidFrom),
		ValidTo:         timePtr(r.ValidTo),
		LastModified:    timePtr(r.LastModified),
		TerritorialCode: r.TerritorialCode,
		FullAddress:     r.FullAddress,
		PostalCode:      r.PostalCode,
		ForBuild:        r.ForBuild,
		PlannedAddress:  r.PlannedAddress,
		CoordX:          r.CoordX,
		CoordY:          r.CoordY,
		Lat:             r.Lat,
		Lon:             r.Lon,
		FirstSeenAt:     runTime,
		LastSeenAt:      runTime,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// DecodeFunc turns one line of a manifest file into a record.
type DecodeFunc func(line string, lineNo int) (*Record, error)

// ManifestEntry binds an archive file to the shape decoded from it. Decode is
// left nil here and bound by the parser package.
type ManifestEntry struct {
	FileName string
	Shape    Shape
	Decode   DecodeFunc
}

// Manifest is the archive content in processing order. Parents come before children.
var Manifest = []ManifestEntry{
	{FileName: "AW_NOVADS.CSV", Shape: ShapeRegion},
	{FileName: "AW_PILSETA.CSV", Shape: ShapeCity},
	{FileName: "AW_PAGASTS.CSV", Shape: ShapeParish},
	{FileName: "AW_CIEMS.CSV", Shape: ShapeVillage},
	{FileName: "AW_IELA.CSV", Shape: ShapeStreet},
	{FileName: "AW_EKA.CSV", Shape: ShapeBuilding},
	{FileName: "AW_DZIV.CSV", Shape: ShapeFlat},
}

// Sync run statuses, stored on the sync_runs table.
const (
	RUN_STATUS_PROCESSING       = "PROCESSING"
	RUN_STATUS_DONE             = "DONE"
	RUN_STATUS_DONE_WITH_ERRORS = "DONE_WITH_ERRORS"
	RUN_STATUS_FATAL            = "FATAL"
	RUN_STATUS_SKIPPED          = "SKIPPED"
)

// ShapeStats holds the per-shape outcome of one run.
type ShapeStats struct {
	Decoded  int `json:"decoded"`
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Deferred int `json:"deferred"`
	Resolved int `json:"resolved_on_retry"`
	Rejected int `json:"rejected"`
}

// RunReport is the outcome surfaced to whatever triggered a run.
type RunReport struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Checksum   string                `json:"checksum,omitempty"`
	Status     string                `json:"status"`
	Success    bool                  `json:"success"`
	Error      string                `json:"error,omitempty"`
	Shapes     map[string]ShapeStats `json:"shapes"`
}

// RejectedCounts returns the number of rejected records per shape name.
func (r *RunReport) RejectedCounts() map[string]int {
	counts := make(map[string]int, len(r.Shapes))
	for name, stats := range r.Shapes {
		counts[name] = stats.Rejected
	}
	return counts
}

// TotalRejected sums rejected records across all shapes.
func (r *RunReport) TotalRejected() int {
	total := 0
	for _, stats := range r.Shapes {
		total += stats.Rejected
	}
	return total
}

// SyncRun is the bookkeeping row for one pipeline run.
type SyncRun struct {
	ID         string         `json:"id"`
	SourceURL  string         `json:"source_url"`
	Checksum   string         `json:"checksum,omitempty"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Rejected   map[string]int `json:"rejected,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Rejection is the persisted form of a record-level failure.
type Rejection struct {
	RunID   string
	Shape   Shape
	Line    int
	Code    int64
	Reason  string
	Message string
}

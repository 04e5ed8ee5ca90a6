package database

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

const (
	addressesTable  = "addresses"
	syncRunsTable   = "sync_runs"
	rejectionsTable = "sync_rejections"
)

var addressColumns = []string{
	"shape", "code", "type_code", "name", "parent_code", "parent_type_code", "status_token", "state",
	"approved", "approval_degree", "sort_name", "valid_from", "valid_to", "last_modified",
	"territorial_code", "full_address", "postal_code", "for_build", "planned_address",
	"coord_x", "coord_y", "lat", "lon", "first_seen_at", "last_seen_at", "deleted_at",
}

// Columns overwritten when an existing entity is seen again. first_seen_at is kept.
var mutableAddressColumns = []string{
	"type_code", "name", "parent_code", "parent_type_code", "status_token", "state",
	"approved", "approval_degree", "sort_name", "valid_from", "valid_to", "last_modified",
	"territorial_code", "full_address", "postal_code", "for_build", "planned_address",
	"coord_x", "coord_y", "lat", "lon", "last_seen_at", "deleted_at",
}

var syncRunColumns = []string{"id", "source_url", "checksum", "status", "started_at", "finished_at", "rejected", "error"}

func addressValues(e models.AddressEntity) []interface{} {
	return []interface{}{
		e.Shape.String(), e.Code, e.TypeCode, e.Name, e.ParentCode, e.ParentTypeCode, e.StatusToken, string(e.State),
		e.Approved, e.ApprovalDegree, e.SortName, e.ValidFrom, e.ValidTo, e.LastModified,
		e.TerritorialCode, e.FullAddress, e.PostalCode, e.ForBuild, e.PlannedAddress,
		e.CoordX, e.CoordY, e.Lat, e.Lon, e.FirstSeenAt, e.LastSeenAt, e.DeletedAt,
	}
}

// upsertSuffix is valid for both PostgreSQL and SQLite.
func upsertSuffix() string {
	sets := make([]string, len(mutableAddressColumns))
	for i, c := range mutableAddressColumns {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return "ON CONFLICT (shape, code) DO UPDATE SET " + strings.Join(sets, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (*models.AddressEntity, error) {
	var (
		e     models.AddressEntity
		shape string
		state string
	)
	err := row.Scan(
		&shape, &e.Code, &e.TypeCode, &e.Name, &e.ParentCode, &e.ParentTypeCode, &e.StatusToken, &state,
		&e.Approved, &e.ApprovalDegree, &e.SortName, &e.ValidFrom, &e.ValidTo, &e.LastModified,
		&e.TerritorialCode, &e.FullAddress, &e.PostalCode, &e.ForBuild, &e.PlannedAddress,
		&e.CoordX, &e.CoordY, &e.Lat, &e.Lon, &e.FirstSeenAt, &e.LastSeenAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	parsed, ok := models.ParseShape(shape)
	if !ok {
		return nil, fmt.Errorf("unknown shape %q in store", shape)
	}
	e.Shape = parsed
	e.State = models.ReconciliationState(state)
	return &e, nil
}

func syncRunValues(run models.SyncRun) ([]interface{}, error) {
	rejected, err := marshalRejected(run.Rejected)
	if err != nil {
		return nil, err
	}
	return []interface{}{run.ID, run.SourceURL, run.Checksum, run.Status, run.StartedAt, run.FinishedAt, rejected, run.Error}, nil
}

func marshalRejected(rejected map[string]int) (string, error) {
	if rejected == nil {
		rejected = map[string]int{}
	}
	b, err := json.Marshal(rejected)
	if err != nil {
		return "", fmt.Errorf("encode rejected counts: %w", err)
	}
	return string(b), nil
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var (
		run      models.SyncRun
		rejected string
	)
	if err := row.Scan(&run.ID, &run.SourceURL, &run.Checksum, &run.Status, &run.StartedAt, &run.FinishedAt, &rejected, &run.Error); err != nil {
		return nil, err
	}
	if rejected != "" {
		if err := json.Unmarshal([]byte(rejected), &run.Rejected); err != nil {
			return nil, fmt.Errorf("decode rejected counts: %w", err)
		}
	}
	return &run, nil
}

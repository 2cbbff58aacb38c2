package history

import (
	"context"
	"fmt"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

// Outcome says what an upsert did.
type Outcome int

const (
	// Unchanged means a record existed and nothing patchable was provided.
	Unchanged Outcome = iota
	Created
	Patched
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Patched:
		return "patched"
	default:
		return "unchanged"
	}
}

// PatchableFields are the only fields an existing history record accepts.
var PatchableFields = []string{models.FieldLeaving, models.FieldLastWatched}

// Upsert writes fields into the shard keyed by uniqueField=uniqueValue. An
// existing record only receives the PatchableFields present in fields;
// everything else is ignored. A missing record is created with every field.
func Upsert(ctx context.Context, store recordstore.Store, d models.Domain, shardID, uniqueField, uniqueValue string, fields models.Fields) (Outcome, models.Record, error) {
	records, err := store.ListRecords(ctx, d, shardID)
	if err != nil {
		return Unchanged, models.Record{}, fmt.Errorf("upsert %s=%s: %w", uniqueField, uniqueValue, err)
	}

	existing, ok := findBy(records, uniqueField, uniqueValue)
	if !ok {
		create := fields.Clone()
		create[uniqueField] = uniqueValue
		rec, err := store.CreateRecord(ctx, d, shardID, create)
		if err != nil {
			return Unchanged, models.Record{}, fmt.Errorf("upsert create %s=%s: %w", uniqueField, uniqueValue, err)
		}
		return Created, rec, nil
	}

	patch := models.Fields{}
	for _, k := range PatchableFields {
		if v, ok := fields[k]; ok {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return Unchanged, existing, nil
	}

	rec, err := store.PatchRecord(ctx, d, shardID, existing.ID, patch)
	if err != nil {
		return Unchanged, models.Record{}, fmt.Errorf("upsert patch %s: %w", existing.ID, err)
	}
	return Patched, rec, nil
}

func findBy(records []models.Record, field, value string) (models.Record, bool) {
	for _, r := range records {
		if r.Fields.String(field) == value {
			return r, true
		}
	}
	return models.Record{}, false
}

package recordstore

import "reelhub/pkg/models"

// FieldSchema describes one column of a collection created by this service.
type FieldSchema struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// Schema is the fixed field list a new shard is provisioned with.
type Schema []FieldSchema

// Has reports whether the schema declares the field.
func (s Schema) Has(name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Sanitize drops every field the schema does not declare and returns the
// names it dropped.
func (s Schema) Sanitize(fields models.Fields) (models.Fields, []string) {
	out := make(models.Fields, len(fields))
	var dropped []string
	for k, v := range fields {
		if s.Has(k) {
			out[k] = v
			continue
		}
		dropped = append(dropped, k)
	}
	return out, dropped
}

var numberOpts = map[string]any{"precision": 1}

// AccountSchema is used for capacity-selected account shards.
var AccountSchema = Schema{
	{Name: models.FieldUsername, Type: "singleLineText"},
	{Name: models.FieldPassword, Type: "singleLineText"},
}

// CatalogSchema is used for capacity-selected catalog shards.
var CatalogSchema = buildCatalogSchema()

// HistorySchema is used for per-user history shards. It extends the catalog
// columns with the watch bookkeeping fields.
var HistorySchema = append(buildCatalogSchema(),
	FieldSchema{Name: models.FieldLastWatched, Type: "date", Options: map[string]any{
		"dateFormat": map[string]any{"name": "iso"},
	}},
	FieldSchema{Name: models.FieldLeaving, Type: "number", Options: numberOpts},
)

func buildCatalogSchema() Schema {
	s := Schema{
		{Name: models.FieldName, Type: "singleLineText"},
		{Name: models.FieldTitle, Type: "singleLineText"},
		{Name: models.FieldImageURL, Type: "singleLineText"},
		{Name: models.FieldImageURLAlt, Type: "singleLineText"},
	}
	for _, f := range models.PlaybackFields() {
		s = append(s, FieldSchema{Name: f, Type: "url"})
	}
	s = append(s,
		FieldSchema{Name: models.FieldScript, Type: "multilineText"},
		FieldSchema{Name: models.FieldCategory, Type: "singleLineText"},
		FieldSchema{Name: models.FieldType, Type: "singleLineText"},
		FieldSchema{Name: models.FieldTotalSeason, Type: "singleLineText"},
		FieldSchema{Name: models.FieldQuality, Type: "singleLineText"},
		FieldSchema{Name: models.FieldSeason, Type: "number", Options: numberOpts},
		FieldSchema{Name: models.FieldEpisode, Type: "number", Options: numberOpts},
		FieldSchema{Name: models.FieldEpisodeName, Type: "singleLineText"},
		FieldSchema{Name: models.FieldEpisodeImageURL, Type: "url"},
		FieldSchema{Name: models.FieldContentID, Type: "singleLineText"},
		FieldSchema{Name: models.FieldLanguages, Type: "singleLineText"},
	)
	return s
}

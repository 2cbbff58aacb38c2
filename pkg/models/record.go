package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Field names shared by catalog and history records.
const (
	FieldContentID       = "contentid"
	FieldType            = "type"
	FieldName            = "name"
	FieldTitle           = "title"
	FieldImageURL        = "imageurl"
	FieldImageURLAlt     = "imageUrl"
	FieldScript          = "script"
	FieldCategory        = "category"
	FieldQuality         = "quality"
	FieldTotalSeason     = "totalseason"
	FieldSeason          = "season"
	FieldEpisode         = "episode"
	FieldEpisodeName     = "episodename"
	FieldEpisodeImageURL = "episodeimageurl"
	FieldLeaving         = "leaving"
	FieldLastWatched     = "lastWatched"
	FieldLanguages       = "languages"
	FieldUsername        = "username"
	FieldPassword        = "password"
)

// Qualities are the playback tiers a record may carry a URL for.
var Qualities = []string{"4k", "1080p", "720p", "480p"}

// Languages are the per-quality audio track suffixes (tamil, telugu, malayalam, english).
var Languages = []string{"ta", "te", "ma", "en"}

// PlaybackFields returns every playback URL field name: each quality on its
// own and each quality+language pair.
func PlaybackFields() []string {
	out := make([]string, 0, len(Qualities)*(len(Languages)+1))
	for _, q := range Qualities {
		out = append(out, q)
		for _, l := range Languages {
			out = append(out, q+l)
		}
	}
	return out
}

// Fields is the schema-less payload of a record.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the value under key rendered as a string. Missing keys and
// nil values return "".
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int returns the value under key as an integer. The second result is false
// when the key is missing or the value is not numeric.
func (f Fields) Int(key string) (int, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if fl, err := t.Float64(); err == nil {
			return int(fl), true
		}
		return 0, false
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			return int(fl), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Record is one physical row in a shard.
type Record struct {
	ID          string `json:"id"`
	CreatedTime string `json:"createdTime,omitempty"`
	Fields      Fields `json:"fields"`
}

// Flatten merges the record fields with its physical id, the shape the API
// returns to callers.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	return out
}

// Collection is one shard inside a domain.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

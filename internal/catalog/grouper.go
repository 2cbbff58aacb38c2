package catalog

import (
	"sort"

	"reelhub/pkg/models"
)

// Fallback orders used when an episode lacks its own display fields.
var (
	EpisodeNameFallback  = []string{models.FieldEpisodeName, models.FieldTitle, models.FieldName}
	EpisodeImageFallback = []string{models.FieldEpisodeImageURL, models.FieldImageURL}
)

// Resolve returns the first non-empty value among keys, in order.
func Resolve(f models.Fields, keys ...string) string {
	for _, k := range keys {
		if v := f.String(k); v != "" {
			return v
		}
	}
	return ""
}

// ResolveEpisodeName picks episodename, then title, then name.
func ResolveEpisodeName(f models.Fields) string {
	return Resolve(f, EpisodeNameFallback...)
}

// ResolveEpisodeImage picks episodeimageurl, then imageurl.
func ResolveEpisodeImage(f models.Fields) string {
	return Resolve(f, EpisodeImageFallback...)
}

// SeasonNumber reads the season, defaulting to 1 when absent or non-numeric.
func SeasonNumber(f models.Fields) int {
	return positiveOr(f, models.FieldSeason, 1)
}

// EpisodeNumber reads the episode, defaulting to 1 when absent or non-numeric.
func EpisodeNumber(f models.Fields) int {
	return positiveOr(f, models.FieldEpisode, 1)
}

func positiveOr(f models.Fields, key string, def int) int {
	n, ok := f.Int(key)
	if !ok || n <= 0 {
		return def
	}
	return n
}

// Group arranges episode records into seasons ascending, each holding its
// episodes ascending. Records with equal episode numbers keep their input
// order.
func Group(records []models.Record) []models.Season {
	type entry struct {
		episode int
		view    map[string]any
	}

	bySeason := make(map[int][]entry)
	for _, r := range records {
		season := SeasonNumber(r.Fields)
		episode := EpisodeNumber(r.Fields)

		view := r.Flatten()
		view[models.FieldSeason] = season
		view[models.FieldEpisode] = episode
		view[models.FieldEpisodeName] = ResolveEpisodeName(r.Fields)
		view[models.FieldEpisodeImageURL] = ResolveEpisodeImage(r.Fields)

		bySeason[season] = append(bySeason[season], entry{episode: episode, view: view})
	}

	seasons := make([]int, 0, len(bySeason))
	for s := range bySeason {
		seasons = append(seasons, s)
	}
	sort.Ints(seasons)

	out := make([]models.Season, 0, len(seasons))
	for _, s := range seasons {
		entries := bySeason[s]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].episode < entries[j].episode
		})
		episodes := make([]map[string]any, len(entries))
		for i, e := range entries {
			episodes[i] = e.view
		}
		out = append(out, models.Season{Season: s, Episodes: episodes})
	}
	return out
}

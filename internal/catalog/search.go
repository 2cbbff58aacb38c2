package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"reelhub/pkg/models"
)

// Search returns records of t whose name fuzzily matches query, best match
// first. Episodic catalogs collapse to the first record of each show.
func (a *Aggregator) Search(ctx context.Context, t models.ContentType, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Item{}, nil
	}

	items, err := a.FetchAll(ctx, t)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]Item)
	names := make([]string, 0)
	for _, it := range items {
		name := it.Record.Fields.String(models.FieldName)
		if name == "" {
			name = it.Record.Fields.String(models.FieldTitle)
		}
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, seen := byName[key]; !seen {
			names = append(names, key)
		}
		if t.Episodic() && len(byName[key]) > 0 {
			continue
		}
		byName[key] = append(byName[key], it)
	}

	matches := fuzzy.RankFindFold(query, names)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].OriginalIndex < matches[j].OriginalIndex
	})

	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, byName[m.Target]...)
	}
	return out, nil
}

// Package export writes catalog aggregates to CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reelhub/internal/catalog"
	"reelhub/pkg/models"
)

// DefaultColumns are written when no column list is given.
func DefaultColumns(t models.ContentType) []string {
	cols := []string{"id", "shard", models.FieldContentID, models.FieldName}
	if t.Episodic() {
		cols = append(cols, models.FieldSeason, models.FieldEpisode, models.FieldEpisodeName)
	}
	cols = append(cols, models.FieldCategory, models.FieldQuality, models.FieldImageURL)
	return append(cols, models.Qualities...)
}

// WriteCSV writes a header row and one row per item. The pseudo columns
// "id" and "shard" hold the physical record id and shard name.
func WriteCSV(w io.Writer, items []catalog.Item, columns []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}

	row := make([]string, len(columns))
	for _, it := range items {
		for i, col := range columns {
			switch col {
			case "id":
				row[i] = it.Record.ID
			case "shard":
				row[i] = it.Shard.Name
			default:
				row[i] = it.Record.Fields.String(col)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFile fetches the whole catalog of t and writes it to path, creating
// parent directories. It returns the number of rows written.
func ExportFile(ctx context.Context, agg *catalog.Aggregator, t models.ContentType, path string, columns []string) (int, error) {
	items, err := agg.FetchAll(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", t, err)
	}
	if len(columns) == 0 {
		columns = DefaultColumns(t)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := WriteCSV(f, items, columns); err != nil {
		return 0, fmt.Errorf("export %s: %w", t, err)
	}
	return len(items), f.Close()
}

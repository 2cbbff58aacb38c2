package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"reelhub/internal/catalog"
	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/internal/shard"
	"reelhub/pkg/models"
)

// ImportReport summarises one catalog import.
type ImportReport struct {
	Type      models.ContentType `json:"type"`
	Rows      int                `json:"rows"`
	Created   int                `json:"created"`
	Duplicate int                `json:"duplicate"`
	Skipped   int                `json:"skipped"`
	Dropped   []string           `json:"dropped,omitempty"`
}

// Importer loads CSV rows into a catalog, filling shards up to Capacity and
// provisioning new ones when all are full.
type Importer struct {
	Store    recordstore.Store
	Selector *shard.Selector
	Catalog  *catalog.Aggregator
	Capacity int
	Logger   *logrus.Logger
}

// ReadCSV parses a header row followed by data rows. Header names are
// lower-cased; the pseudo columns "id" and "shard" written by WriteCSV are
// dropped, numeric columns become integers and empty cells are omitted.
func ReadCSV(r io.Reader) ([]models.Fields, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.ToLower(name))
	}

	var out []models.Fields
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		f := models.Fields{}
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			col, cell := header[i], strings.TrimSpace(cell)
			if cell == "" || col == "" || col == "id" || col == "shard" {
				continue
			}
			if col == models.FieldSeason || col == models.FieldEpisode {
				if n, err := strconv.Atoi(cell); err == nil {
					f[col] = n
					continue
				}
			}
			f[col] = cell
		}
		if len(f) > 0 {
			out = append(out, f)
		}
	}
	return out, nil
}

// Import writes rows into the catalog of t. Rows without a name are skipped
// and rows whose content id already exists (in the catalog or earlier in the
// input) are counted as duplicates. The contentid field is always derived.
func (im *Importer) Import(ctx context.Context, t models.ContentType, rows []models.Fields) (ImportReport, error) {
	rep := ImportReport{Type: t, Rows: len(rows)}

	d, err := im.Catalog.Domain(t)
	if err != nil {
		return rep, err
	}
	existing, err := im.Catalog.FetchAll(ctx, t)
	if err != nil {
		return rep, fmt.Errorf("import %s: %w", t, err)
	}
	seen := make(map[string]struct{}, len(existing)+len(rows))
	for _, it := range existing {
		seen[contentid.ForFields(t, it.Record.Fields)] = struct{}{}
	}

	policy := shard.CatalogPolicy(im.Capacity)
	dropped := make(map[string]struct{})
	pending := make([]models.Fields, 0, len(rows))
	for _, f := range rows {
		desc := contentid.FromFields(t, f)
		if err := contentid.Validate(desc); err != nil {
			rep.Skipped++
			continue
		}
		id := contentid.Generate(desc)
		if _, dup := seen[id]; dup {
			rep.Duplicate++
			continue
		}
		seen[id] = struct{}{}

		clean, extra := policy.Schema.Sanitize(f)
		for _, name := range extra {
			dropped[name] = struct{}{}
		}
		clean[models.FieldContentID] = id
		pending = append(pending, clean)
	}
	for len(pending) > 0 {
		err := im.Selector.WithWriteShard(ctx, d, policy, "", func(h shard.Handle) error {
			room := policy.Capacity - len(h.Records)
			for room > 0 && len(pending) > 0 {
				if _, err := im.Store.CreateRecord(ctx, d, h.Collection.ID, pending[0]); err != nil {
					return fmt.Errorf("shard %s: %w", h.Collection.Name, err)
				}
				pending = pending[1:]
				rep.Created++
				room--
			}
			return nil
		})
		if err != nil {
			return rep, fmt.Errorf("import %s: %w", t, err)
		}
	}

	log := im.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(dropped) > 0 {
		rep.Dropped = make([]string, 0, len(dropped))
		for name := range dropped {
			rep.Dropped = append(rep.Dropped, name)
		}
		sort.Strings(rep.Dropped)
		log.WithField("fields", rep.Dropped).Warn("dropped columns unknown to catalog schema")
	}
	log.WithFields(logrus.Fields{
		"type":      t,
		"rows":      rep.Rows,
		"created":   rep.Created,
		"duplicate": rep.Duplicate,
		"skipped":   rep.Skipped,
	}).Info("catalog import finished")
	return rep, nil
}

// ImportFile reads path and imports it into the catalog of t.
func (im *Importer) ImportFile(ctx context.Context, t models.ContentType, path string) (ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportReport{Type: t}, err
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return ImportReport{Type: t}, fmt.Errorf("import %s: %w", path, err)
	}
	return im.Import(ctx, t, rows)
}

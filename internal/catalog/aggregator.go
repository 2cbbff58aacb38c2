// Package catalog reads a logical catalog spread over many shards and
// shapes it for the API.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

// DefaultFanOut bounds how many shards are read at once.
const DefaultFanOut = 8

// Item is a catalog record together with the shard it was read from.
type Item struct {
	Record models.Record
	Shard  models.Collection
	Type   models.ContentType
}

// Flatten returns the record fields plus its physical id.
func (i Item) Flatten() map[string]any {
	return i.Record.Flatten()
}

// Records strips shard information.
func Records(items []Item) []models.Record {
	out := make([]models.Record, len(items))
	for i, it := range items {
		out[i] = it.Record
	}
	return out
}

// Flatten maps every item to its API shape.
func Flatten(items []Item) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = it.Flatten()
	}
	return out
}

// Unified is the home page aggregate.
type Unified struct {
	Recommended []map[string]any `json:"recommended"`
	Originals   []map[string]any `json:"originals"`
	Trending    []map[string]any `json:"trending"`
	Anime       []map[string]any `json:"anime"`
}

type Aggregator struct {
	store   recordstore.Store
	domains map[models.ContentType]models.Domain
	logger  *logrus.Logger

	// FanOut caps concurrent shard reads per aggregate.
	FanOut int
}

func NewAggregator(store recordstore.Store, domains map[models.ContentType]models.Domain, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{store: store, domains: domains, logger: logger, FanOut: DefaultFanOut}
}

// Domain returns the handle configured for t.
func (a *Aggregator) Domain(t models.ContentType) (models.Domain, error) {
	d, ok := a.domains[t]
	if !ok {
		return models.Domain{}, fmt.Errorf("catalog %q: %w", t, recordstore.ErrConfiguration)
	}
	return d, nil
}

// FetchAll returns every record of the catalog in shard listing order, then
// record order within a shard.
func (a *Aggregator) FetchAll(ctx context.Context, t models.ContentType) ([]Item, error) {
	return a.fanOut(ctx, t, nil)
}

// FetchByID returns the first record whose contentid equals id.
func (a *Aggregator) FetchByID(ctx context.Context, t models.ContentType, id string) (Item, error) {
	items, err := a.fanOut(ctx, t, func(r models.Record) bool {
		return r.Fields.String(models.FieldContentID) == id
	})
	if err != nil {
		return Item{}, err
	}
	if len(items) == 0 {
		return Item{}, fmt.Errorf("%s with contentid %s: %w", t, id, recordstore.ErrNotFound)
	}
	return items[0], nil
}

// FetchByRecordID finds a record by its physical id and makes sure its
// stored contentid matches its descriptor.
func (a *Aggregator) FetchByRecordID(ctx context.Context, t models.ContentType, recordID string) (Item, error) {
	items, err := a.fanOut(ctx, t, func(r models.Record) bool {
		return r.ID == recordID
	})
	if err != nil {
		return Item{}, err
	}
	if len(items) == 0 {
		return Item{}, fmt.Errorf("%s record %s: %w", t, recordID, recordstore.ErrNotFound)
	}
	it := items[0]
	if err := a.EnsureContentID(ctx, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// EnsureContentID patches the record's contentid when it is missing or no
// longer matches its catalog type, name, season and episode.
func (a *Aggregator) EnsureContentID(ctx context.Context, it *Item) error {
	want := contentid.ForFields(it.Type, it.Record.Fields)
	if it.Record.Fields.String(models.FieldContentID) == want {
		return nil
	}

	d, err := a.Domain(it.Type)
	if err != nil {
		return err
	}
	if _, err := a.store.PatchRecord(ctx, d, it.Shard.ID, it.Record.ID, models.Fields{models.FieldContentID: want}); err != nil {
		return fmt.Errorf("ensure contentid on %s: %w", it.Record.ID, err)
	}
	a.logger.WithFields(logrus.Fields{
		"domain":    d.Name,
		"shard":     it.Shard.Name,
		"record":    it.Record.ID,
		"contentid": want,
	}).Info("repaired stored contentid")

	fields := it.Record.Fields.Clone()
	fields[models.FieldContentID] = want
	it.Record.Fields = fields
	return nil
}

// FetchByName returns every record whose name equals name, ignoring case.
// All shards are read; episodes of one show may live in several.
func (a *Aggregator) FetchByName(ctx context.Context, t models.ContentType, name string) ([]Item, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	return a.fanOut(ctx, t, func(r models.Record) bool {
		n := r.Fields.String(models.FieldName)
		return n != "" && strings.ToLower(n) == want
	})
}

// FetchAnyByID searches movies, series, then anime for contentid and returns
// the first match.
func (a *Aggregator) FetchAnyByID(ctx context.Context, id string) (Item, error) {
	for _, t := range models.CatalogTypes {
		it, err := a.FetchByID(ctx, t, id)
		if err == nil {
			return it, nil
		}
		if !errors.Is(err, recordstore.ErrNotFound) || errors.Is(err, recordstore.ErrPartialFetch) {
			return Item{}, err
		}
	}
	return Item{}, fmt.Errorf("content %s: %w", id, recordstore.ErrNotFound)
}

// Seasons returns the season tree of every record named name.
func (a *Aggregator) Seasons(ctx context.Context, t models.ContentType, name string) ([]models.Season, error) {
	items, err := a.FetchByName(ctx, t, name)
	if err != nil {
		return nil, err
	}
	return Group(Records(items)), nil
}

// FetchUnified reads the three catalogs concurrently.
func (a *Aggregator) FetchUnified(ctx context.Context) (Unified, error) {
	var movies, series, anime []Item
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		movies, err = a.FetchAll(gctx, models.Movie)
		return err
	})
	g.Go(func() (err error) {
		series, err = a.FetchAll(gctx, models.Series)
		return err
	})
	g.Go(func() (err error) {
		anime, err = a.FetchAll(gctx, models.Anime)
		return err
	})
	if err := g.Wait(); err != nil {
		return Unified{}, err
	}
	return Unified{
		Recommended: Flatten(movies),
		Originals:   Flatten(series),
		Trending:    []map[string]any{},
		Anime:       Flatten(anime),
	}, nil
}

// fanOut reads every shard of t concurrently and keeps the records keep
// accepts (all of them when keep is nil). The first shard failure cancels
// the remaining reads unless the shard is optional for the domain.
func (a *Aggregator) fanOut(ctx context.Context, t models.ContentType, keep func(models.Record) bool) ([]Item, error) {
	d, err := a.Domain(t)
	if err != nil {
		return nil, err
	}

	shards, err := a.store.ListCollections(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("list %s shards: %w", d.Name, err)
	}

	perShard := make([][]Item, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	if a.FanOut > 0 {
		g.SetLimit(a.FanOut)
	}
	for i, shard := range shards {
		g.Go(func() error {
			records, err := a.store.ListRecords(gctx, d, shard.ID)
			if err != nil {
				if d.IsOptional(shard.Name) {
					a.logger.WithFields(logrus.Fields{
						"domain": d.Name,
						"shard":  shard.Name,
						"error":  err.Error(),
					}).Warn("skipping optional shard")
					return nil
				}
				return &recordstore.ShardError{Domain: string(d.Name), Shard: shard.Name, Err: err}
			}

			items := make([]Item, 0, len(records))
			for _, r := range records {
				if keep != nil && !keep(r) {
					continue
				}
				items = append(items, Item{Record: r, Shard: shard, Type: t})
			}
			perShard[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, items := range perShard {
		total += len(items)
	}
	out := make([]Item, 0, total)
	for _, items := range perShard {
		out = append(out, items...)
	}
	return out, nil
}

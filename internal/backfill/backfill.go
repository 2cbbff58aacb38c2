// Package backfill recomputes stored content ids across a catalog.
package backfill

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

// Report counts what one catalog pass did.
type Report struct {
	Type         models.ContentType `json:"type"`
	Shards       int                `json:"shards"`
	Records      int                `json:"records"`
	Updated      int                `json:"updated"`
	AlreadyValid int                `json:"already_valid"`
	Failed       int                `json:"failed"`
}

type Backfiller struct {
	Store   recordstore.Store
	Domains map[models.ContentType]models.Domain
	Logger  *logrus.Logger
	// DryRun reports stale ids without patching them.
	DryRun bool
}

// Run walks every shard of t sequentially and patches each record whose
// contentid is missing or stale. Shard and record failures are logged and
// counted; only a failure to list the shards aborts the pass.
func (b *Backfiller) Run(ctx context.Context, t models.ContentType) (Report, error) {
	rep := Report{Type: t}
	log := b.Logger
	if log == nil {
		log = logrus.New()
	}

	d, ok := b.Domains[t]
	if !ok {
		return rep, fmt.Errorf("backfill %s: %w", t, recordstore.ErrConfiguration)
	}
	shards, err := b.Store.ListCollections(ctx, d)
	if err != nil {
		return rep, fmt.Errorf("backfill %s: list shards: %w", t, err)
	}
	rep.Shards = len(shards)

	for _, s := range shards {
		slog := log.WithFields(logrus.Fields{"type": t, "shard": s.Name})
		records, err := b.Store.ListRecords(ctx, d, s.ID)
		if err != nil {
			slog.WithError(err).Error("list records failed, skipping shard")
			rep.Failed++
			continue
		}
		slog.WithField("records", len(records)).Info("processing shard")

		for _, r := range records {
			rep.Records++
			want := contentid.ForFields(t, r.Fields)
			if r.Fields.String(models.FieldContentID) == want {
				rep.AlreadyValid++
				continue
			}

			rlog := slog.WithFields(logrus.Fields{"record": r.ID, "contentid": want})
			if b.DryRun {
				rlog.Info("would update contentid")
				rep.Updated++
				continue
			}
			if _, err := b.Store.PatchRecord(ctx, d, s.ID, r.ID, models.Fields{models.FieldContentID: want}); err != nil {
				rlog.WithError(err).Error("update contentid failed")
				rep.Failed++
				continue
			}
			rlog.Info("updated contentid")
			rep.Updated++
		}
	}
	return rep, nil
}

// RunAll runs every configured catalog in movie, series, anime order.
func (b *Backfiller) RunAll(ctx context.Context) ([]Report, error) {
	var out []Report
	for _, t := range models.CatalogTypes {
		if _, ok := b.Domains[t]; !ok {
			continue
		}
		rep, err := b.Run(ctx, t)
		if err != nil {
			return out, err
		}
		out = append(out, rep)
	}
	return out, nil
}

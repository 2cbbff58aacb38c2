package backfill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

var series = models.Domain{Name: models.DomainSeries, APIKey: "k", WorkspaceID: "wspSeries"}

func TestRunPatchesStaleIDs(t *testing.T) {
	store := recordstore.NewMemStore()
	good := models.Fields{"name": "Dark", "season": 1, "episode": 1}
	good["contentid"] = contentid.ForFields(models.Series, good)
	shardID := store.Seed(series, "series-1",
		good,
		models.Fields{"name": "Dark", "season": 1, "episode": 2, "contentid": "stale"},
		models.Fields{"title": "Lost", "season": "2", "episode": "3"},
	)
	broken := store.Seed(series, "series-2", models.Fields{"name": "X"})
	store.FailListRecords(broken, errors.New("boom"))

	b := &Backfiller{Store: store, Domains: map[models.ContentType]models.Domain{models.Series: series}}
	rep, err := b.Run(context.Background(), models.Series)
	require.NoError(t, err)
	assert.Equal(t, Report{Type: models.Series, Shards: 2, Records: 3, Updated: 2, AlreadyValid: 1, Failed: 1}, rep)

	records, err := store.ListRecords(context.Background(), series, shardID)
	require.NoError(t, err)
	want := contentid.Generate(contentid.Descriptor{Type: models.Series, Name: "Lost", Season: 2, Episode: 3})
	assert.Equal(t, want, records[2].Fields.String("contentid"))
}

func TestRunDryRunWritesNothing(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(series, "series-1", models.Fields{"name": "Dark"})

	b := &Backfiller{Store: store, Domains: map[models.ContentType]models.Domain{models.Series: series}, DryRun: true}
	rep, err := b.Run(context.Background(), models.Series)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 0, store.Calls("patch record"))
}

func TestRunAllSkipsUnconfigured(t *testing.T) {
	b := &Backfiller{Store: recordstore.NewMemStore(), Domains: map[models.ContentType]models.Domain{models.Series: series}}
	reps, err := b.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, models.Series, reps[0].Type)
}

package catalog

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

var (
	moviesDomain = models.Domain{Name: models.DomainMovies, APIKey: "k", WorkspaceID: "wspMovies"}
	seriesDomain = models.Domain{Name: models.DomainSeries, APIKey: "k", WorkspaceID: "wspSeries"}
	animeDomain  = models.Domain{Name: models.DomainAnime, APIKey: "k", WorkspaceID: "wspAnime"}
)

func newAggregator(store recordstore.Store) *Aggregator {
	return NewAggregator(store, map[models.ContentType]models.Domain{
		models.Movie:  moviesDomain,
		models.Series: seriesDomain,
		models.Anime:  animeDomain,
	}, nil)
}

func episode(name string, season, ep int) models.Fields {
	f := models.Fields{"name": name, "season": season, "episode": ep}
	f["contentid"] = contentid.ForFields(models.Series, f)
	return f
}

func TestFetchAllAcrossShards(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1), episode("Dark", 1, 2), episode("Dark", 1, 3))
	store.Seed(seriesDomain, "series-2", episode("Dark", 2, 1), episode("Dark", 2, 2))

	items, err := newAggregator(store).FetchAll(context.Background(), models.Series)
	require.NoError(t, err)
	require.Len(t, items, 5)

	var order []int
	for _, it := range items {
		s, _ := it.Record.Fields.Int("season")
		e, _ := it.Record.Fields.Int("episode")
		order = append(order, s*10+e)
		assert.Equal(t, models.Series, it.Type)
	}
	assert.Equal(t, []int{11, 12, 13, 21, 22}, order)
	assert.Equal(t, "series-1", items[0].Shard.Name)
	assert.Equal(t, "series-2", items[4].Shard.Name)
}

func TestFetchAllEmptyDomain(t *testing.T) {
	items, err := newAggregator(recordstore.NewMemStore()).FetchAll(context.Background(), models.Movie)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchAllShardFailure(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1))
	broken := store.Seed(seriesDomain, "series-2", episode("Dark", 2, 1))
	cause := errors.New("connection reset")
	store.FailListRecords(broken, cause)

	_, err := newAggregator(store).FetchAll(context.Background(), models.Series)
	require.Error(t, err)
	assert.ErrorIs(t, err, recordstore.ErrPartialFetch)
	assert.ErrorIs(t, err, cause)

	var shardErr *recordstore.ShardError
	require.ErrorAs(t, err, &shardErr)
	assert.Equal(t, "series-2", shardErr.Shard)
}

func TestFetchAllSkipsOptionalShard(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1))
	broken := store.Seed(seriesDomain, "series-archive", episode("Dark", 2, 1))
	store.FailListRecords(broken, errors.New("boom"))

	d := seriesDomain
	d.OptionalShards = []string{"series-archive"}
	agg := NewAggregator(store, map[models.ContentType]models.Domain{models.Series: d}, nil)

	items, err := agg.FetchAll(context.Background(), models.Series)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFetchAllMissingDomain(t *testing.T) {
	agg := NewAggregator(recordstore.NewMemStore(), map[models.ContentType]models.Domain{}, nil)
	_, err := agg.FetchAll(context.Background(), models.Anime)
	assert.ErrorIs(t, err, recordstore.ErrConfiguration)
}

func TestFetchByID(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1))
	store.Seed(seriesDomain, "series-2", episode("Dark", 2, 1))
	agg := newAggregator(store)

	want := contentid.Generate(contentid.Descriptor{Type: models.Series, Name: "Dark", Season: 2, Episode: 1})
	it, err := agg.FetchByID(context.Background(), models.Series, want)
	require.NoError(t, err)
	assert.Equal(t, "series-2", it.Shard.Name)
	assert.Equal(t, want, it.Record.Fields.String("contentid"))

	_, err = agg.FetchByID(context.Background(), models.Series, "missing")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestFetchAnyByIDSearchesInOrder(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat", "contentid": "m1"})
	store.Seed(animeDomain, "anime-1", models.Fields{"name": "Mushishi", "contentid": "a1"})
	agg := newAggregator(store)

	it, err := agg.FetchAnyByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.Anime, it.Type)

	_, err = agg.FetchAnyByID(context.Background(), "zzz")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
	assert.NotErrorIs(t, err, recordstore.ErrPartialFetch)
}

func TestFetchByRecordIDRepairsContentID(t *testing.T) {
	store := recordstore.NewMemStore()
	shardID := store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat", "contentid": "stale"})
	agg := newAggregator(store)

	records, err := store.ListRecords(context.Background(), moviesDomain, shardID)
	require.NoError(t, err)
	recID := records[0].ID

	it, err := agg.FetchByRecordID(context.Background(), models.Movie, recID)
	require.NoError(t, err)
	want := contentid.Generate(contentid.Descriptor{Type: models.Movie, Name: "Heat"})
	assert.Equal(t, want, it.Record.Fields.String("contentid"))
	assert.Equal(t, 1, store.Calls("patch record"))

	records, err = store.ListRecords(context.Background(), moviesDomain, shardID)
	require.NoError(t, err)
	assert.Equal(t, want, records[0].Fields.String("contentid"))

	// already correct: no second patch
	_, err = agg.FetchByRecordID(context.Background(), models.Movie, recID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("patch record"))
}

func TestFetchByRecordIDNotFound(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat"})
	_, err := newAggregator(store).FetchByRecordID(context.Background(), models.Movie, "recNope")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestFetchByNameIgnoresCase(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1), episode("Other", 1, 1))
	store.Seed(seriesDomain, "series-2", episode("DARK", 1, 2), models.Fields{"episode": 9})

	items, err := newAggregator(store).FetchByName(context.Background(), models.Series, " dark ")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSeasonsAcrossShards(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 2, 1), episode("Dark", 1, 2))
	store.Seed(seriesDomain, "series-2", episode("Dark", 1, 1), episode("Dark", 3, 1))

	seasons, err := newAggregator(store).Seasons(context.Background(), models.Series, "Dark")
	require.NoError(t, err)
	require.Len(t, seasons, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{seasons[0].Season, seasons[1].Season, seasons[2].Season})
	require.Len(t, seasons[0].Episodes, 2)
	assert.Equal(t, 1, seasons[0].Episodes[0]["episode"])
	assert.Equal(t, 2, seasons[0].Episodes[1]["episode"])
}

func TestFetchUnified(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat"})
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1))

	u, err := newAggregator(store).FetchUnified(context.Background())
	require.NoError(t, err)
	assert.Len(t, u.Recommended, 1)
	assert.Len(t, u.Originals, 1)
	assert.NotNil(t, u.Trending)
	assert.Empty(t, u.Trending)
	assert.Empty(t, u.Anime)
	assert.Equal(t, "Heat", u.Recommended[0]["name"])
	assert.NotEmpty(t, u.Recommended[0]["id"])
}

func TestSearchCollapsesEpisodes(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1",
		episode("Dark", 1, 1), episode("Dark", 1, 2),
		episode("Dark Matter", 1, 1), episode("Breaking Bad", 1, 1))

	items, err := newAggregator(store).Search(context.Background(), models.Series, "dark")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Dark", items[0].Record.Fields.String("name"))
	assert.Equal(t, "Dark Matter", items[1].Record.Fields.String("name"))
}

func TestSearchEmptyQuery(t *testing.T) {
	items, err := newAggregator(recordstore.NewMemStore()).Search(context.Background(), models.Movie, "  ")
	require.NoError(t, err)
	assert.Empty(t, items)
}

package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

func newRouter(store recordstore.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newAggregator(store), nil).RegisterRoutes(r.Group("/api/content"))
	return r
}

func get(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHandlerListMovies(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat"})

	w, body := get(t, newRouter(store), "/api/content/movies")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Movies fetched successfully.", body["message"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "Heat", data[0].(map[string]any)["name"])
}

func TestHandlerAll(t *testing.T) {
	w, body := get(t, newRouter(recordstore.NewMemStore()), "/api/content/all")
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	for _, k := range []string{"recommended", "originals", "trending", "anime"} {
		assert.Contains(t, data, k)
	}
}

func TestHandlerPartialFetchIs500(t *testing.T) {
	store := recordstore.NewMemStore()
	broken := store.Seed(moviesDomain, "movies-1", models.Fields{"name": "Heat"})
	store.FailListRecords(broken, recordstore.ErrUpstreamUnavailable)

	w, body := get(t, newRouter(store), "/api/content/movies")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestHandlerSeriesByIDAttachesSeasons(t *testing.T) {
	store := recordstore.NewMemStore()
	shardID := store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1), episode("Dark", 2, 1))
	store.Seed(seriesDomain, "series-2", episode("Dark", 1, 2))
	records, err := store.ListRecords(t.Context(), seriesDomain, shardID)
	require.NoError(t, err)

	w, body := get(t, newRouter(store), "/api/content/series/"+records[0].ID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, records[0].ID, body["id"])
	seasons := body["seasons"].([]any)
	require.Len(t, seasons, 2)
	first := seasons[0].(map[string]any)
	assert.EqualValues(t, 1, first["season"])
	assert.Len(t, first["episodes"], 2)
}

func TestHandlerByIDNotFoundMessage(t *testing.T) {
	w, body := get(t, newRouter(recordstore.NewMemStore()), "/api/content/movie/recMissing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Movie not found", body["error"])

	w, body = get(t, newRouter(recordstore.NewMemStore()), "/api/content/by-contentid/abc")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Content not found", body["error"])
}

func TestHandlerByContentIDReportsType(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(animeDomain, "anime-1", models.Fields{"name": "Mushishi", "contentid": "a1"})

	w, body := get(t, newRouter(store), "/api/content/by-contentid/a1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anime", body["type"])
	assert.Equal(t, "Mushishi", body["name"])
}

func TestHandlerSeriesEpisodes(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(seriesDomain, "series-1", episode("Dark", 1, 1), episode("Lost", 1, 1))
	store.Seed(seriesDomain, "series-2", episode("dark", 1, 2))

	w, body := get(t, newRouter(store), "/api/content/series-episodes/Dark")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["episodes"], 2)
}

func TestHandlerSearchValidation(t *testing.T) {
	r := newRouter(recordstore.NewMemStore())
	w, _ := get(t, r, "/api/content/search?type=book&q=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = get(t, r, "/api/content/search?type=movie")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, body := get(t, r, "/api/content/search?type=movies&q=heat")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["data"])
}

package catalog

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"reelhub/internal/apierr"
	"reelhub/pkg/models"
)

type Handler struct {
	Agg *Aggregator
	Log *logrus.Logger
}

func NewHandler(agg *Aggregator, log *logrus.Logger) *Handler {
	return &Handler{Agg: agg, Log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/all", h.all)                              // GET /content/all
	rg.GET("/movies", h.list(models.Movie, "Movies"))  // GET /content/movies
	rg.GET("/series", h.list(models.Series, "Series")) // GET /content/series
	rg.GET("/anime", h.list(models.Anime, "Anime"))    // GET /content/anime
	rg.GET("/search", h.search)                        // GET /content/search?type=&q=
	rg.GET("/movie/:id", h.byRecordID(models.Movie, "Movie not found"))
	rg.GET("/series/:id", h.byRecordID(models.Series, "Series not found"))
	rg.GET("/anime/:id", h.byRecordID(models.Anime, "Anime not found"))
	rg.GET("/by-contentid/:contentid", h.byContentID)
	rg.GET("/series-episodes/:seriesName", h.seriesEpisodes)
}

func (h *Handler) all(c *gin.Context) {
	u, err := h.Agg.FetchUnified(c.Request.Context())
	if err != nil {
		apierr.Abort(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Content fetched successfully.",
		"data":    u,
	})
}

func (h *Handler) list(t models.ContentType, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.Agg.FetchAll(c.Request.Context(), t)
		if err != nil {
			apierr.Abort(c, h.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": label + " fetched successfully.",
			"data":    Flatten(items),
		})
	}
}

func (h *Handler) search(c *gin.Context) {
	t := models.Movie
	if s := c.Query("type"); s != "" {
		parsed, ok := models.ParseContentType(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be movie, series or anime"})
			return
		}
		t = parsed
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}

	items, err := h.Agg.Search(c.Request.Context(), t, q)
	if err != nil {
		apierr.Abort(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": Flatten(items)})
}

func (h *Handler) byRecordID(t models.ContentType, notFound string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		it, err := h.Agg.FetchByRecordID(ctx, t, c.Param("id"))
		if err != nil {
			apierr.Abort(c, h.Log, apierr.NotFound(err, notFound))
			return
		}

		out := it.Flatten()
		if t.Episodic() {
			seasons, err := h.Agg.Seasons(ctx, t, it.Record.Fields.String(models.FieldName))
			if err != nil {
				apierr.Abort(c, h.Log, err)
				return
			}
			out["seasons"] = seasons
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) byContentID(c *gin.Context) {
	it, err := h.Agg.FetchAnyByID(c.Request.Context(), c.Param("contentid"))
	if err != nil {
		apierr.Abort(c, h.Log, apierr.NotFound(err, "Content not found"))
		return
	}
	out := it.Flatten()
	out[models.FieldType] = string(it.Type)
	c.JSON(http.StatusOK, out)
}

func (h *Handler) seriesEpisodes(c *gin.Context) {
	items, err := h.Agg.FetchByName(c.Request.Context(), models.Series, c.Param("seriesName"))
	if err != nil {
		apierr.Abort(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": Flatten(items)})
}

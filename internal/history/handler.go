package history

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"reelhub/internal/apierr"
	"reelhub/pkg/models"
)

type Handler struct {
	M   *Materializer
	Log *logrus.Logger
	// Guard runs before every history route when set. It normally checks
	// that the bearer token belongs to :username.
	Guard gin.HandlerFunc
}

func NewHandler(m *Materializer, log *logrus.Logger, guard gin.HandlerFunc) *Handler {
	return &Handler{M: m, Log: log, Guard: guard}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	chain := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		if h.Guard == nil {
			return []gin.HandlerFunc{fn}
		}
		return []gin.HandlerFunc{h.Guard, fn}
	}

	rg.GET("/history/:username", chain(h.list)...)
	rg.POST("/history/:username/add", chain(h.add)...)
	rg.POST("/history/:username/:contentid", chain(h.add)...)
	rg.PATCH("/history/:username/:contentid/progress", chain(h.progress)...)
	rg.GET("/history-content/:username/:contentid", chain(h.content)...)
}

func (h *Handler) list(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")

	if contentID := strings.TrimSpace(c.Query("contentid")); contentID != "" {
		v, err := h.M.Materialize(ctx, username, contentID)
		if err != nil {
			h.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []map[string]any{v.Flatten()}})
		return
	}

	records, err := h.M.List(ctx, username)
	if err != nil {
		h.abort(c, err)
		return
	}
	data := make([]map[string]any, len(records))
	for i, r := range records {
		data[i] = r.Flatten()
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *Handler) add(c *gin.Context) {
	var payload models.Fields
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	outcome, id, err := h.M.Record(c.Request.Context(), c.Param("username"), payload)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "History updated",
		"contentid": id,
		"outcome":   outcome.String(),
	})
}

type progressReq struct {
	Leaving *int `json:"leaving"`
}

func (h *Handler) progress(c *gin.Context) {
	var req progressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Leaving == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "leaving required"})
		return
	}

	v, err := h.M.UpdateProgress(c.Request.Context(), c.Param("username"), c.Param("contentid"), *req.Leaving)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, v.Flatten())
}

func (h *Handler) content(c *gin.Context) {
	v, err := h.M.Get(c.Request.Context(), c.Param("username"), c.Param("contentid"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, v.Flatten())
}

func (h *Handler) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidProgress):
		err = apierr.New(http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, ErrNoHistory):
		err = apierr.New(http.StatusNotFound, "No history found", err)
	case errors.Is(err, ErrContentNotFound):
		err = apierr.New(http.StatusNotFound, "Content not found", err)
	}
	apierr.Abort(c, h.Log, err)
}

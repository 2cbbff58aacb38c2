package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub/internal/auth"
	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
	"reelhub/pkg/utils"
)

func testConfig() *utils.Config {
	cfg := &utils.Config{}
	cfg.RecordStore.Driver = utils.DriverSQLite
	cfg.RecordStore.SQLitePath = ":memory:"
	cfg.RecordStore.Timeout = time.Second
	cfg.Shard.Capacity = 1000
	cfg.Shard.Serialize = true
	cfg.GRPC.CheckTimeout = time.Second
	cfg.Auth.JWTSecret = "test"
	cfg.Auth.JWTIssuer = "reelhub"
	cfg.Auth.JWTDuration = time.Hour
	cfg.Auth.BcryptCost = 4
	cfg.Auth.RequireHistoryAuth = true
	return cfg
}

type client struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestSignupMaterializeProgress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	a, err := New(cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	// catalog content lives in two series shards
	ctx := context.Background()
	series := cfg.Domain(models.DomainSeries)
	ep := func(s, e int) models.Fields {
		f := models.Fields{"name": "Dark", "season": s, "episode": e, "imageurl": "dark.jpg"}
		f["contentid"] = contentid.ForFields(models.Series, f)
		return f
	}
	for name, eps := range map[string][]models.Fields{
		"series-1": {ep(1, 1), ep(1, 2)},
		"series-2": {ep(2, 1)},
	} {
		c, err := a.Store.CreateCollection(ctx, series, name, nil)
		require.NoError(t, err)
		for _, f := range eps {
			_, err := a.Store.CreateRecord(ctx, series, c.ID, f)
			require.NoError(t, err)
		}
	}
	target := contentid.Generate(contentid.Descriptor{Type: models.Series, Name: "Dark", Season: 1, Episode: 2})

	c := &client{t: t, router: a.Router()}

	code, body := c.do(http.MethodPost, "/api/auth/signup", gin.H{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = c.do(http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, code, body)
	c.token = body["token"].(string)

	code, body = c.do(http.MethodGet, "/api/content/history-content/alice/"+target, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, target, body["contentid"])
	assert.EqualValues(t, 0, body["leaving"])
	seasons := body["seasons"].([]any)
	require.Len(t, seasons, 2)

	code, body = c.do(http.MethodPatch, "/api/content/history/alice/"+target+"/progress", gin.H{"leaving": 42})
	require.Equal(t, http.StatusOK, code, body)

	code, body = c.do(http.MethodGet, "/api/content/history/alice", nil)
	require.Equal(t, http.StatusOK, code, body)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	rec := data[0].(map[string]any)
	assert.EqualValues(t, 42, rec["leaving"])
	assert.Equal(t, "Dark", rec["name"])
	assert.Equal(t, target, rec["contentid"])

	// another user's history is off limits
	code, _ = c.do(http.MethodGet, "/api/content/history/bob", nil)
	assert.Equal(t, http.StatusForbidden, code)

	c.token = ""
	code, _ = c.do(http.MethodGet, "/api/content/history/alice", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestReadyReportsDomains(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	a := NewWithStore(cfg, logrus.New(), recordstore.NewMemStore())

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RecordStore.Driver = utils.DriverREST
	_, err := New(cfg, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domains.movies.api_key is required")
}

func TestWSRequiresTokenAndPinsUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewWithStore(testConfig(), logrus.New(), recordstore.NewMemStore())
	srv := httptest.NewServer(a.Router())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?username=bob"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, a.Hub.Stats().WSClients)

	token, _, err := a.Tokens.Sign(&auth.User{Username: "alice"})
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage() // welcome
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Hub.Stats().WSClients == 1 }, time.Second, 10*time.Millisecond)

	// ?username=bob is ignored, the token decides
	a.Hub.Publish(models.HistoryEvent{Type: "history.update", Username: "bob", ContentID: "bobs"})
	a.Hub.Publish(models.HistoryEvent{Type: "history.update", Username: "alice", ContentID: "alices"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev models.HistoryEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "alices", ev.ContentID)
}

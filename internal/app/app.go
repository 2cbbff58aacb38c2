// Package app wires configuration, the record store and every service into
// a runnable HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"reelhub/internal/auth"
	"reelhub/internal/catalog"
	"reelhub/internal/grpcserver"
	"reelhub/internal/history"
	"reelhub/internal/recordstore"
	"reelhub/internal/shard"
	synchub "reelhub/internal/sync"
	"reelhub/pkg/models"
	"reelhub/pkg/utils"
)

type App struct {
	Config   *utils.Config
	Logger   *logrus.Logger
	Store    recordstore.Store
	Selector *shard.Selector
	Catalog  *catalog.Aggregator
	History  *history.Materializer
	Accounts *auth.Repo
	Tokens   auth.TokenService
	Hub      *synchub.Hub
	Health   *grpcserver.Server

	close func() error
}

// OpenStore returns the record store selected by recordstore.driver and a
// function releasing it.
func OpenStore(cfg *utils.Config, logger *logrus.Logger) (recordstore.Store, func() error, error) {
	switch cfg.RecordStore.Driver {
	case utils.DriverSQLite:
		s, err := recordstore.OpenSQLite(cfg.RecordStore.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.RecordStore.SQLitePath).Info("using local sqlite record store")
		return s, s.Close, nil
	case utils.DriverREST:
		c := recordstore.NewClientWithConfig(&recordstore.ClientConfig{
			BaseURL:    cfg.RecordStore.BaseURL,
			Table:      cfg.RecordStore.Table,
			Timeout:    cfg.RecordStore.Timeout,
			MaxRetries: cfg.RecordStore.MaxRetries,
			RetryDelay: cfg.RecordStore.RetryDelay,
			RateLimit:  cfg.RecordStore.RateLimit,
			Logger:     logger,
		})
		return c, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown record store driver %q", cfg.RecordStore.Driver)
	}
}

// New validates cfg, opens the configured store and builds the services.
func New(cfg *utils.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, closeStore, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := NewWithStore(cfg, logger, store)
	a.close = closeStore
	return a, nil
}

// NewWithStore builds the services on top of an already opened store.
func NewWithStore(cfg *utils.Config, logger *logrus.Logger, store recordstore.Store) *App {
	sel := shard.NewSelector(store, logger, cfg.Shard.Serialize)
	agg := catalog.NewAggregator(store, cfg.CatalogDomains(), logger)
	hub := synchub.NewHub(logger)

	m := history.NewMaterializer(store, sel, agg, cfg.Domain(models.DomainHistory), logger)
	m.SetPublisher(hub)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Selector: sel,
		Catalog:  agg,
		History:  m,
		Accounts: auth.NewRepo(store, sel, cfg.Domain(models.DomainAccount), cfg.Domain(models.DomainHistory), cfg.Shard.Capacity, logger),
		Tokens: auth.TokenService{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.JWTIssuer,
			Duration: cfg.Auth.JWTDuration,
		},
		Hub:    hub,
		Health: grpcserver.NewServer(store, cfg.AllDomains(), cfg.GRPC.CheckTimeout, logger),
		close:  func() error { return nil },
	}
}

// Router returns the HTTP API.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(a.Logger))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	if a.Config.Auth.RequireHistoryAuth {
		// the stream is pinned to the token's user
		router.GET("/ws", auth.AuthMiddleware(a.Tokens), func(c *gin.Context) {
			c.Set(synchub.UsernameKey, auth.MustGetClaims(c).Username)
		}, synchub.WSHandler(a.Hub))
	} else {
		router.GET("/ws", synchub.WSHandler(a.Hub))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "driver": a.Config.RecordStore.Driver})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		stats := a.Hub.Stats()
		failed := a.Health.CheckDomains(ctx)
		if len(failed) > 0 {
			errs := make(map[string]string, len(failed))
			for name, err := range failed {
				errs[string(name)] = err.Error()
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"domains":     errs,
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
	})

	api := router.Group("/api")
	auth.NewHandler(a.Accounts, a.Tokens, a.Config.Auth.BcryptCost, a.Logger).RegisterRoutes(api.Group("/auth"))

	content := api.Group("/content")
	catalog.NewHandler(a.Catalog, a.Logger).RegisterRoutes(content)

	var guard gin.HandlerFunc
	if a.Config.Auth.RequireHistoryAuth {
		guard = auth.RequireSameUser(a.Tokens, "username")
	}
	history.NewHandler(a.History, a.Logger, guard).RegisterRoutes(content)

	return router
}

func (a *App) Close() error {
	return a.close()
}

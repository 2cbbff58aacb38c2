package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"reelhub/internal/app"
	synchub "reelhub/internal/sync"
	"reelhub/pkg/logger"
	"reelhub/pkg/utils"
)

func main() {
	log := logger.Get()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger.SetLevel(cfg.Log.Level)
	gin.SetMode(cfg.HTTP.Mode)

	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if cfg.Sync.TCPAddr != "" {
		tcpSrv := synchub.NewServer(cfg.Sync.TCPAddr, a.Hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := utils.WatchConfig(ctx, ".", 250*time.Millisecond, log, func(c *utils.Config) {
				logger.SetLevel(c.Log.Level)
			})
			if err != nil {
				log.WithError(err).Warn("config watcher stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", cfg.HTTP.Addr).Info("HTTP API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server error")
	}

	log.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	stop()

	wg.Wait()
	log.Info("servers stopped")
}

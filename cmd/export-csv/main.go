package main

import (
	"context"
	"flag"
	"path/filepath"
	"strings"
	"time"

	"reelhub/internal/app"
	"reelhub/internal/catalog"
	"reelhub/internal/export"
	"reelhub/pkg/logger"
	"reelhub/pkg/models"
	"reelhub/pkg/utils"
)

func main() {
	var (
		typesFlag = flag.String("types", "movie,series,anime", "comma separated catalogs to export")
		outDir    = flag.String("out", "data", "output directory, one <type>.csv per catalog")
		columns   = flag.String("columns", "", "comma separated columns (default depends on the catalog)")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall export timeout")
	)
	flag.Parse()

	log := logger.Get()
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger.SetLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, closeStore, err := app.OpenStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open record store")
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	agg := catalog.NewAggregator(store, cfg.CatalogDomains(), log)

	var cols []string
	if *columns != "" {
		cols = strings.Split(*columns, ",")
	}

	for _, raw := range strings.Split(*typesFlag, ",") {
		t, ok := models.ParseContentType(raw)
		if !ok {
			log.WithField("type", raw).Fatal("unknown catalog type")
		}
		path := filepath.Join(*outDir, string(t)+".csv")
		n, err := export.ExportFile(ctx, agg, t, path, cols)
		if err != nil {
			log.WithError(err).WithField("type", t).Fatal("export failed")
		}
		log.WithFields(map[string]any{"type": t, "rows": n, "path": path}).Info("exported catalog")
	}
}

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelhub/internal/app"
	"reelhub/internal/catalog"
	"reelhub/internal/export"
	"reelhub/internal/shard"
	"reelhub/pkg/logger"
	"reelhub/pkg/models"
	"reelhub/pkg/utils"
)

func main() {
	var (
		typesFlag = flag.String("types", "movie,series,anime", "comma separated catalogs to import")
		inDir     = flag.String("in", "data", "input directory holding <type>.csv files")
		timeout   = flag.Duration("timeout", 10*time.Minute, "overall import timeout")
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

	im := &export.Importer{
		Store:    store,
		Selector: shard.NewSelector(store, log, true),
		Catalog:  catalog.NewAggregator(store, cfg.CatalogDomains(), log),
		Capacity: cfg.Shard.Capacity,
		Logger:   log,
	}

	for _, raw := range strings.Split(*typesFlag, ",") {
		t, ok := models.ParseContentType(raw)
		if !ok {
			log.WithField("type", raw).Fatal("unknown catalog type")
		}
		path := filepath.Join(*inDir, string(t)+".csv")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.WithField("path", path).Warn("no input file, skipping catalog")
			continue
		}
		if _, err := im.ImportFile(ctx, t, path); err != nil {
			log.WithError(err).WithField("type", t).Fatal("import failed")
		}
	}
}

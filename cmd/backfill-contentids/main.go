// Command backfill-contentids recomputes the contentid of every catalog
// record and patches the ones that are missing or stale.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reelhub/internal/app"
	"reelhub/internal/backfill"
	"reelhub/pkg/logger"
	"reelhub/pkg/models"
	"reelhub/pkg/utils"
)

var (
	typeFlag   string
	dryRunFlag bool
	configDir  string
)

var rootCmd = &cobra.Command{
	Use:   "backfill-contentids",
	Short: "Recompute stored content ids across the catalog",
	Long: `Walks every shard of the movie, series and anime catalogs and patches
records whose contentid is missing or does not match their type, name,
season and episode.`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	rootCmd.Flags().StringVarP(&typeFlag, "type", "t", "", "only backfill one catalog (movie, series, anime)")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "report stale ids without writing")
	rootCmd.Flags().StringVar(&configDir, "config", ".", "directory holding config.yaml")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	log := logger.Get()

	cfg, err := utils.LoadConfig(configDir)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := app.OpenStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	b := &backfill.Backfiller{
		Store:   store,
		Domains: cfg.CatalogDomains(),
		Logger:  log,
		DryRun:  dryRunFlag,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reports []backfill.Report
	if typeFlag != "" {
		t, ok := models.ParseContentType(typeFlag)
		if !ok {
			return fmt.Errorf("unknown --type %q", typeFlag)
		}
		rep, err := b.Run(ctx, t)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	} else {
		reports, err = b.RunAll(ctx)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, r := range reports {
		fmt.Fprintf(out, "%-7s shards=%d records=%d updated=%d valid=%d failed=%d\n",
			r.Type, r.Shards, r.Records, r.Updated, r.AlreadyValid, r.Failed)
	}
	if dryRunFlag {
		fmt.Fprintln(out, "dry run: nothing was written")
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

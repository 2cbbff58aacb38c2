package utils

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const configFile = "config.yaml"

// WatchConfig reloads dir/config.yaml whenever it is written and hands the
// new configuration to onChange. Bursts of events within debounce collapse
// into one reload. Invalid files are logged and skipped. It blocks until ctx
// is done.
func WatchConfig(ctx context.Context, dir string, debounce time.Duration, logger *logrus.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// editors replace files on save, so watch the directory
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Join(dir, configFile)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher")

		case <-timer.C:
			cfg, err := LoadConfig(dir)
			if err != nil {
				logger.WithError(err).Warn("config reload failed, keeping previous")
				continue
			}
			logger.WithField("file", target).Info("config reloaded")
			onChange(cfg)
		}
	}
}

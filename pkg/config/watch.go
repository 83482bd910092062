package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay is how long writes must settle before the file is read again
var reloadDelay = 100 * time.Millisecond

// Watch reloads the configuration whenever the YAML file at path is written
// and hands the result to onChange. Bursts of writes are coalesced into one
// reload. Empty and invalid files are logged and skipped so the previous
// configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log logrus.FieldLogger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors usually replace the file, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	reload := time.NewTimer(reloadDelay)
	reload.Stop()
	defer reload.Stop()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload.Reset(reloadDelay)
		case <-reload.C:
			reloadFile(path, log, onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Configuration watcher error")
		}
	}
}

func reloadFile(path string, log logrus.FieldLogger, onChange func(*Config)) {
	// A truncated file is usually a write in progress
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		log.WithField("path", path).Debug("Ignoring empty configuration file")
		return
	}

	cfg, err := Load(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Ignoring invalid configuration change")
		return
	}
	log.WithField("path", path).Info("Configuration reloaded")
	onChange(cfg)
}

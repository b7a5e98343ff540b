package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path's containing directory (some systems can't watch a
// single file directly) and sends a freshly loaded, validated Config on
// ch whenever the file is written or recreated, debouncing rapid
// successive writes from an editor's save. It runs until ctx is
// cancelled, at which point it closes ch.
func Watch(ctx context.Context, path string, log *slog.Logger) (<-chan Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	ch := make(chan Config, 1)
	go watchLoop(ctx, watcher, absPath, ch, log)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, ch chan<- Config, log *slog.Logger) {
	defer close(ch)
	defer watcher.Close()

	file := filepath.Base(path)
	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer

	reload := func() {
		cfg, err := LoadYAML(path)
		if err != nil {
			log.Error("config reload failed, keeping previous config", "path", path, "error", err)
			return
		}
		select {
		case ch <- cfg:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("config watcher error", "error", err)
		}
	}
}

package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForResolution blocks until the pending-switch marker file is
// removed, meaning the switch was confirmed or rolled back. A watcher
// on the state dir catches the removal; a slow poll backstops missed
// events. Returns immediately when no marker exists.
func WaitForResolution(ctx context.Context, markerPath string) error {
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(markerPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(markerPath), err)
	}

	// The marker may have vanished between the stat and the watch.
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		return nil
	}

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-watcher.Events:
			if ev.Name == markerPath && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil
			}
		case err := <-watcher.Errors:
			return fmt.Errorf("watch error: %w", err)
		case <-poll.C:
			if _, err := os.Stat(markerPath); os.IsNotExist(err) {
				return nil
			}
		}
	}
}

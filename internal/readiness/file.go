package readiness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile blocks until the file at path exists with content accepted by
// complete, and returns that content. A nil complete accepts any non-empty
// content. The directory containing path must exist; the file need not.
func WaitForFile(ctx context.Context, path string, timeout time.Duration, complete func([]byte) bool) ([]byte, error) {
	if complete == nil {
		complete = func(b []byte) bool { return len(b) > 0 }
	}
	check := func() ([]byte, bool) {
		data, err := os.ReadFile(path)
		if err != nil || !complete(data) {
			return nil, false
		}
		return data, true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	// The file may have been written before the watch was registered.
	if data, ok := check(); ok {
		return data, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Writers may land the content in several writes; re-read shortly after
	// the last event instead of on every event.
	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	fileName := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			if data, ok := check(); ok {
				return data, nil
			}
			return nil, &TimeoutError{Predicate: "file " + path, Waited: timeout}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher for %s closed", dir)
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(50 * time.Millisecond)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if data, ok := check(); ok {
				return data, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher for %s closed", dir)
			}
			return nil, fmt.Errorf("fsnotify error on %s: %w", dir, err)
		}
	}
}

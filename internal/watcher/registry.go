package watcher

import (
	"errors"
	"os"
	"sync"
)

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers a callback for filesystem events on a path. Multiple
// callbacks may share one underlying OS watch.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, errors.New("watcher is closed")
	}

	needsAdd := watcher.callbacks[path] == nil
	if needsAdd && watcher.activeWatches >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	watcher.nextID++
	entry := callbackEntry{callback: callback, id: watcher.nextID}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	if needsAdd {
		watcher.activeWatches++
	}
	activeCount := watcher.activeWatches
	watcher.mutex.Unlock()

	if needsAdd {
		if err := watcher.watcher.Add(path); err != nil {
			watcher.dropCallback(path, entry.id)
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
		watcher.logDebug("watch added", path, activeCount)
	}

	return &watchHandle{watcher: watcher, path: path, id: entry.id}, nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	if watcher == nil {
		return nil
	}

	shouldRemove := false
	activeCount := 0
	watcher.mutex.Lock()
	callbacks := removeEntry(watcher.callbacks[path], id)
	if len(callbacks) == 0 {
		delete(watcher.callbacks, path)
		shouldRemove = true
		if watcher.activeWatches > 0 {
			watcher.activeWatches--
		}
		activeCount = watcher.activeWatches
	} else {
		watcher.callbacks[path] = callbacks
	}
	watcher.mutex.Unlock()

	if shouldRemove && watcher.watcher != nil {
		if err := watcher.watcher.Remove(path); err != nil {
			watcher.logWarn("watch remove failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return err
		}
		watcher.logDebug("watch removed", path, activeCount)
	}
	return nil
}

// dropCallback undoes a registration without touching the OS watch,
// used when the fsnotify Add itself failed.
func (watcher *Watcher) dropCallback(path string, id uint64) {
	if watcher == nil {
		return
	}
	watcher.mutex.Lock()
	callbacks := removeEntry(watcher.callbacks[path], id)
	if len(callbacks) == 0 {
		delete(watcher.callbacks, path)
		if watcher.activeWatches > 0 {
			watcher.activeWatches--
		}
	} else {
		watcher.callbacks[path] = callbacks
	}
	watcher.mutex.Unlock()
}

func removeEntry(callbacks []callbackEntry, id uint64) []callbackEntry {
	for index, candidate := range callbacks {
		if candidate.id == id {
			return append(callbacks[:index], callbacks[index+1:]...)
		}
	}
	return callbacks
}

func (watcher *Watcher) callbacksForPathLocked(path string) []func(Event) {
	entries := watcher.callbacks[path]
	if len(entries) == 0 {
		return nil
	}
	callbacks := make([]func(Event), 0, len(entries))
	for _, entry := range entries {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

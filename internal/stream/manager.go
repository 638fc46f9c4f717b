package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"jsonwatch/internal/event"
	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/watcher"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

var ErrNotWatched = errors.New("file is not watched")

// Options controls Manager behavior.
type Options struct {
	Watcher          watcher.Watch
	Logger           *logging.Logger
	Registry         *metrics.Registry
	PollInterval     time.Duration
	SubscriberBuffer int
	WriteTimeout     time.Duration
	MaxSubscribers   int
}

// Manager owns the set of watched files: cached content, change
// detection, and the bus that fans updates out to subscribers.
//
// Changes are detected two ways. fsnotify callbacks fire on writes to
// the watched inode; a poll loop re-reads every watched file each
// PollInterval and catches editors that replace the file. Both paths
// funnel through refresh, which only publishes when the content
// signature actually changed.
type Manager struct {
	watcher  watcher.Watch
	logger   *logging.Logger
	registry *metrics.Registry
	bus      *event.Bus[Change]

	mu    sync.RWMutex
	files map[string]*watchedFile

	cancel    context.CancelFunc
	closeOnce sync.Once
}

type watchedFile struct {
	mu       sync.Mutex
	snapshot snapshot
	handle   watcher.Handle
}

func NewManager(ctx context.Context, options Options) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	derived, cancel := context.WithCancel(ctx)

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	manager := &Manager{
		watcher:  options.Watcher,
		logger:   logger,
		registry: registry,
		files:    make(map[string]*watchedFile),
		cancel:   cancel,
		bus: event.NewBus[Change](derived, event.BusOptions{
			Name:                 "file_changes",
			SubscriberBufferSize: options.SubscriberBuffer,
			BlockOnFull:          true,
			WriteTimeout:         writeTimeout,
			MaxSubscribers:       options.MaxSubscribers,
			Registry:             registry,
		}),
	}

	go manager.pollLoop(derived, pollInterval)
	return manager
}

// Watch starts observing a file. Calling it again for the same path is
// a no-op. The file must exist and hold valid JSON on the first read.
func (m *Manager) Watch(path string) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if path == "" {
		return errors.New("path is required")
	}

	m.mu.RLock()
	_, exists := m.files[path]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	entry := &watchedFile{snapshot: snap}

	m.mu.Lock()
	if _, exists := m.files[path]; exists {
		m.mu.Unlock()
		return nil
	}
	m.files[path] = entry
	m.mu.Unlock()

	if m.watcher != nil {
		handle, err := m.watcher.Watch(path, func(watcher.Event) {
			m.refresh(path)
		})
		if err != nil {
			m.mu.Lock()
			delete(m.files, path)
			m.mu.Unlock()
			return fmt.Errorf("watch %s: %w", path, err)
		}
		entry.mu.Lock()
		entry.handle = handle
		entry.mu.Unlock()
	}

	m.registry.IncWatchActive()
	m.logger.Info("watch started", map[string]string{"path": path})
	return nil
}

// Unwatch stops observing a path. Unwatching a path that is not
// watched succeeds silently.
func (m *Manager) Unwatch(path string) error {
	if m == nil || path == "" {
		return nil
	}

	m.mu.Lock()
	entry := m.files[path]
	delete(m.files, path)
	m.mu.Unlock()

	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	handle := entry.handle
	entry.handle = nil
	entry.mu.Unlock()

	m.registry.DecWatchActive()
	m.logger.Info("watch stopped", map[string]string{"path": path})

	if handle == nil {
		return nil
	}
	return handle.Close()
}

// List returns the watched paths in sorted order.
func (m *Manager) List() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	paths := make([]string, 0, len(m.files))
	for path := range m.files {
		paths = append(paths, path)
	}
	m.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Watched reports whether a path is currently watched.
func (m *Manager) Watched(path string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

// Content returns the last good parsed content for a watched path.
func (m *Manager) Content(path string) (any, error) {
	if m == nil {
		return nil, ErrNotWatched
	}
	m.mu.RLock()
	entry := m.files[path]
	m.mu.RUnlock()
	if entry == nil {
		return nil, ErrNotWatched
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot.content, nil
}

// Subscribe delivers update Changes for one path. Cancel closes the
// channel; a subscriber that stays saturated past the bus write
// timeout is dropped.
func (m *Manager) Subscribe(path string) (<-chan Change, func()) {
	if m == nil {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}
	return m.bus.SubscribeFiltered(func(change Change) bool {
		return change.Path == path
	})
}

// Refresh re-reads a watched file and publishes an update when its
// content changed. Read or parse failures keep the previous content.
func (m *Manager) Refresh(path string) {
	m.refresh(path)
}

func (m *Manager) refresh(path string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	entry := m.files[path]
	m.mu.RUnlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	snap, err := readSnapshot(path)
	m.registry.RecordRefresh(err)
	if err != nil {
		// Keep serving the last good content; transient states such as
		// a half-written save resolve on the next detection pass.
		m.logger.Warn("refresh failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return
	}

	if snap.signature == entry.snapshot.signature {
		return
	}
	entry.snapshot = snap

	m.bus.Publish(Change{
		EventType: ChangeUpdate,
		Path:      path,
		Timestamp: time.Now().UTC(),
		Content:   snap.content,
	})
	m.logger.Debug("update published", map[string]string{"path": path})
}

func (m *Manager) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, path := range m.List() {
				m.refresh(path)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close tears down the manager: the bus closes, subscribers drain, and
// all filesystem watches are released.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	var closeErr error
	m.closeOnce.Do(func() {
		m.cancel()
		m.bus.Close()

		m.mu.Lock()
		files := m.files
		m.files = make(map[string]*watchedFile)
		m.mu.Unlock()

		for _, entry := range files {
			entry.mu.Lock()
			handle := entry.handle
			entry.handle = nil
			entry.mu.Unlock()
			if handle == nil {
				continue
			}
			if err := handle.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}

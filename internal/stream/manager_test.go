package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jsonwatch/internal/metrics"
	"jsonwatch/internal/watcher"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestManager(t *testing.T, options Options) *Manager {
	t.Helper()
	if options.Registry == nil {
		options.Registry = &metrics.Registry{}
	}
	if options.PollInterval == 0 {
		// Keep polling out of the way; tests drive refresh directly.
		options.PollInterval = time.Hour
	}
	manager := NewManager(context.Background(), options)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func receiveChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case change, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before delivery")
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return Change{}
}

func TestWatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	writeFile(t, path, `{"price":100}`)

	manager := newTestManager(t, Options{})

	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := manager.Watch(path); err != nil {
		t.Fatalf("second Watch: %v", err)
	}

	paths := manager.List()
	if len(paths) != 1 || paths[0] != path {
		t.Fatalf("expected single watch entry, got %v", paths)
	}
}

func TestWatchRejectsMissingFile(t *testing.T) {
	manager := newTestManager(t, Options{})

	err := manager.Watch(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWatchRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	writeFile(t, path, `{not json`)

	manager := newTestManager(t, Options{})

	if err := manager.Watch(path); err == nil {
		t.Fatalf("expected parse error on first read")
	}
	if manager.Watched(path) {
		t.Fatalf("expected failed watch to leave no registration")
	}
}

func TestUnwatchUnknownPathSucceeds(t *testing.T) {
	manager := newTestManager(t, Options{})
	if err := manager.Unwatch("/never/watched.json"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
}

func TestContentForUnwatchedPath(t *testing.T) {
	manager := newTestManager(t, Options{})
	if _, err := manager.Content("/never/watched.json"); !errors.Is(err, ErrNotWatched) {
		t.Fatalf("expected ErrNotWatched, got %v", err)
	}
}

func TestContentReturnsParsedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"price":100.5,"symbol":"ABC"}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	content, err := manager.Content(path)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	object, ok := content.(map[string]any)
	if !ok {
		t.Fatalf("expected object content, got %T", content)
	}
	if object["symbol"] != "ABC" {
		t.Fatalf("expected symbol ABC, got %v", object["symbol"])
	}
}

func TestRefreshPublishesUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"price":100}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	writeFile(t, path, `{"price":101}`)
	manager.Refresh(path)

	change := receiveChange(t, updates)
	if change.EventType != ChangeUpdate {
		t.Fatalf("expected update, got %q", change.EventType)
	}
	if change.Path != path {
		t.Fatalf("expected path %s, got %s", path, change.Path)
	}
	object, ok := change.Content.(map[string]any)
	if !ok {
		t.Fatalf("expected object content, got %T", change.Content)
	}
	if object["price"] != float64(101) {
		t.Fatalf("expected price 101, got %v", object["price"])
	}
}

func TestRefreshWithoutChangeStaysQuiet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"price":100}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	manager.Refresh(path)

	select {
	case change := <-updates:
		t.Fatalf("expected no event for unchanged content, got %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRefreshRetainsContentOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"price":100}`)

	registry := &metrics.Registry{}
	manager := newTestManager(t, Options{Registry: registry})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	writeFile(t, path, `{"price":`)
	manager.Refresh(path)

	select {
	case change := <-updates:
		t.Fatalf("expected no event for unparseable content, got %+v", change)
	case <-time.After(100 * time.Millisecond):
	}

	content, err := manager.Content(path)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	object := content.(map[string]any)
	if object["price"] != float64(100) {
		t.Fatalf("expected last good content retained, got %v", object["price"])
	}

	// A later valid write resumes updates.
	writeFile(t, path, `{"price":102}`)
	manager.Refresh(path)
	change := receiveChange(t, updates)
	if change.Content.(map[string]any)["price"] != float64(102) {
		t.Fatalf("expected recovery update, got %+v", change)
	}
}

func TestSubscribersAreFilteredByPath(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	writeFile(t, first, `{"n":1}`)
	writeFile(t, second, `{"n":1}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(first); err != nil {
		t.Fatalf("Watch first: %v", err)
	}
	if err := manager.Watch(second); err != nil {
		t.Fatalf("Watch second: %v", err)
	}

	firstUpdates, cancelFirst := manager.Subscribe(first)
	defer cancelFirst()
	secondUpdates, cancelSecond := manager.Subscribe(second)
	defer cancelSecond()

	writeFile(t, first, `{"n":2}`)
	manager.Refresh(first)

	change := receiveChange(t, firstUpdates)
	if change.Path != first {
		t.Fatalf("expected change for %s, got %s", first, change.Path)
	}

	select {
	case change := <-secondUpdates:
		t.Fatalf("expected no cross-path delivery, got %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"n":1}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	first, cancelFirst := manager.Subscribe(path)
	defer cancelFirst()
	second, cancelSecond := manager.Subscribe(path)
	defer cancelSecond()

	writeFile(t, path, `{"n":2}`)
	manager.Refresh(path)

	if change := receiveChange(t, first); change.EventType != ChangeUpdate {
		t.Fatalf("expected update on first subscriber, got %q", change.EventType)
	}
	if change := receiveChange(t, second); change.EventType != ChangeUpdate {
		t.Fatalf("expected update on second subscriber, got %q", change.EventType)
	}
}

func TestUnwatchStopsUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"n":1}`)

	manager := newTestManager(t, Options{})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := manager.Unwatch(path); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}

	if manager.Watched(path) {
		t.Fatalf("expected path to be unwatched")
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	writeFile(t, path, `{"n":2}`)
	manager.Refresh(path)

	select {
	case change := <-updates:
		t.Fatalf("expected no updates after unwatch, got %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFsnotifyDrivenUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"n":1}`)

	source, err := watcher.NewWithOptions(watcher.Options{Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("watcher.NewWithOptions: %v", err)
	}
	t.Cleanup(func() { source.Close() })

	manager := newTestManager(t, Options{Watcher: source})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	writeFile(t, path, `{"n":2}`)

	change := receiveChange(t, updates)
	if change.EventType != ChangeUpdate {
		t.Fatalf("expected update, got %q", change.EventType)
	}
}

func TestPollLoopDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quote.json")
	writeFile(t, path, `{"n":1}`)

	manager := newTestManager(t, Options{PollInterval: 20 * time.Millisecond})
	if err := manager.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updates, cancel := manager.Subscribe(path)
	defer cancel()

	writeFile(t, path, `{"n":2}`)

	change := receiveChange(t, updates)
	if change.EventType != ChangeUpdate {
		t.Fatalf("expected poll-driven update, got %q", change.EventType)
	}
}

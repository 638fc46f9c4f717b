package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/stream"
)

func newTestServer(t *testing.T, options Options) *httptest.Server {
	t.Helper()
	if options.Manager == nil {
		options.Manager = newTestStreamManager(t)
	}
	if options.Logger == nil {
		options.Logger = logging.NewLoggerWithOutput(nil, logging.LevelError, io.Discard)
	}
	if options.Registry == nil {
		options.Registry = &metrics.Registry{}
	}
	server := httptest.NewServer(Handler(options))
	t.Cleanup(server.Close)
	return server
}

func newTestStreamManager(t *testing.T) *stream.Manager {
	t.Helper()
	manager := stream.NewManager(context.Background(), stream.Options{
		Registry:     &metrics.Registry{},
		PollInterval: 20 * time.Millisecond,
	})
	t.Cleanup(func() { manager.Close() })
	return manager
}

func writeJSONFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	response, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, Options{})

	response, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	decodeBody(t, response, &body)
	if body.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", body.Status)
	}
	if body.Service != "jsonwatch" {
		t.Fatalf("expected service jsonwatch, got %q", body.Service)
	}
}

func TestWatchLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONFile(t, dir, "data.json", `{"price":100}`)

	server := newTestServer(t, Options{})

	response := postJSON(t, server.URL+"/api/watch", map[string]string{"file_path": path})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 watch, got %d", response.StatusCode)
	}
	var watched watchResponse
	decodeBody(t, response, &watched)
	if watched.Status != "success" || watched.FilePath != path {
		t.Fatalf("unexpected watch response: %+v", watched)
	}

	response, err := http.Get(server.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET /api/files: %v", err)
	}
	var files filesResponse
	decodeBody(t, response, &files)
	if len(files.WatchedFiles) != 1 || files.WatchedFiles[0] != path {
		t.Fatalf("expected watched file listed, got %v", files.WatchedFiles)
	}

	response, err = http.Get(server.URL + "/api/content/" + path)
	if err != nil {
		t.Fatalf("GET content: %v", err)
	}
	var content contentResponse
	decodeBody(t, response, &content)
	object, ok := content.Content.(map[string]any)
	if !ok || object["price"] != float64(100) {
		t.Fatalf("expected parsed content, got %+v", content.Content)
	}

	response, err = http.Get(server.URL + "/api/watch/" + path)
	if err != nil {
		t.Fatalf("GET unwatch: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 unwatch, got %d", response.StatusCode)
	}
	response.Body.Close()

	response, err = http.Get(server.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET /api/files: %v", err)
	}
	decodeBody(t, response, &files)
	if len(files.WatchedFiles) != 0 {
		t.Fatalf("expected empty watch list, got %v", files.WatchedFiles)
	}
}

func TestWatchMissingFileReturns404(t *testing.T) {
	server := newTestServer(t, Options{})

	response := postJSON(t, server.URL+"/api/watch", map[string]string{
		"file_path": filepath.Join(t.TempDir(), "missing.json"),
	})
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.StatusCode)
	}
	var body errorResponse
	decodeBody(t, response, &body)
	if body.Error == "" {
		t.Fatalf("expected error message in body")
	}
	if body.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", body.Code)
	}
}

func TestWatchRejectsBadBodies(t *testing.T) {
	server := newTestServer(t, Options{})

	response, err := http.Post(server.URL+"/api/watch", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", response.StatusCode)
	}
	response.Body.Close()

	response = postJSON(t, server.URL+"/api/watch", map[string]string{})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file_path, got %d", response.StatusCode)
	}
	response.Body.Close()
}

func TestContentForUnwatchedPathReturns404(t *testing.T) {
	server := newTestServer(t, Options{})

	response, err := http.Get(server.URL + "/api/content/tmp/never.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.StatusCode)
	}
	var body errorResponse
	decodeBody(t, response, &body)
	if body.Error == "" {
		t.Fatalf("expected error message, got empty body")
	}
}

func TestUnwatchUnknownPathSucceeds(t *testing.T) {
	server := newTestServer(t, Options{})

	response, err := http.Get(server.URL + "/api/watch/tmp/never.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for idempotent unwatch, got %d", response.StatusCode)
	}
}

func TestAuthTokenGuardsAPI(t *testing.T) {
	server := newTestServer(t, Options{AuthToken: "secret"})

	response, err := http.Get(server.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.StatusCode)
	}
	response.Body.Close()

	request, _ := http.NewRequest(http.MethodGet, server.URL+"/api/files", nil)
	request.Header.Set("Authorization", "Bearer secret")
	response, err = http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", response.StatusCode)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	server := newTestServer(t, Options{AuthToken: "secret"})

	response, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected unauthenticated health check, got %d", response.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := &metrics.Registry{}
	registry.IncWatchActive()
	server := newTestServer(t, Options{Registry: registry})

	response, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), "jsonwatch_watches_active 1") {
		t.Fatalf("expected gauge in exposition, got:\n%s", body)
	}
}

func TestUnknownAPIEndpointReturns404(t *testing.T) {
	server := newTestServer(t, Options{})

	response, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, Options{})

	response := postJSON(t, server.URL+"/api/files", map[string]string{})
	defer response.Body.Close()
	if response.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", response.StatusCode)
	}
}

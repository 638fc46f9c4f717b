package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/stream"
)

const serviceName = "jsonwatch"

const maxRequestBodyBytes = 1 << 20

type RestHandler struct {
	Manager  *stream.Manager
	Logger   *logging.Logger
	Registry *metrics.Registry
}

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

type watchRequest struct {
	FilePath string `json:"file_path"`
}

type watchResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	FilePath string `json:"file_path"`
}

type filesResponse struct {
	Status       string   `json:"status"`
	WatchedFiles []string `json:"watched_files"`
}

type contentResponse struct {
	Status   string `json:"status"`
	FilePath string `json:"file_path"`
	Content  any    `json:"content"`
}

type availableFilesResponse struct {
	Status             string   `json:"status"`
	CurrentDirectory   string   `json:"current_directory"`
	AvailableJSONFiles []string `json:"available_json_files"`
	TotalFiles         int      `json:"total_files"`
}

func (h *RestHandler) handleHealth(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (h *RestHandler) handleWatch(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request watchRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.FilePath) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "file_path is required"}
	}

	if err := h.Manager.Watch(request.FilePath); err != nil {
		if os.IsNotExist(err) {
			return &apiError{
				Status:  http.StatusNotFound,
				Message: fmt.Sprintf("file does not exist: %s", request.FilePath),
			}
		}
		h.logWarn("watch failed", request.FilePath, err)
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	}

	writeJSON(w, http.StatusOK, watchResponse{
		Status:   "success",
		Message:  fmt.Sprintf("Started watching file: %s", request.FilePath),
		FilePath: request.FilePath,
	})
	return nil
}

func (h *RestHandler) handleUnwatch(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	path := h.resolvePath(strings.TrimPrefix(r.URL.Path, "/api/watch/"))
	if path == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "file path is required"}
	}

	// Unwatching an unwatched path is a successful no-op.
	if err := h.Manager.Unwatch(path); err != nil {
		h.logWarn("unwatch failed", path, err)
	}

	writeJSON(w, http.StatusOK, watchResponse{
		Status:   "success",
		Message:  fmt.Sprintf("Stopped watching file: %s", path),
		FilePath: path,
	})
	return nil
}

func (h *RestHandler) handleFiles(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	paths := h.Manager.List()
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, filesResponse{
		Status:       "success",
		WatchedFiles: paths,
	})
	return nil
}

func (h *RestHandler) handleContent(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	path := h.resolvePath(strings.TrimPrefix(r.URL.Path, "/api/content/"))
	if path == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "file path is required"}
	}

	content, err := h.Manager.Content(path)
	if err != nil {
		if errors.Is(err, stream.ErrNotWatched) {
			return &apiError{
				Status:  http.StatusNotFound,
				Message: fmt.Sprintf("file is not watched: %s", path),
			}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}

	writeJSON(w, http.StatusOK, contentResponse{
		Status:   "success",
		FilePath: path,
		Content:  content,
	})
	return nil
}

func (h *RestHandler) handleAvailableFiles(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to resolve working directory"}
	}

	jsonFiles := []string{}
	entries, err := os.ReadDir(currentDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if filepath.Ext(entry.Name()) == ".json" {
				jsonFiles = append(jsonFiles, entry.Name())
			}
		}
	}

	writeJSON(w, http.StatusOK, availableFilesResponse{
		Status:             "success",
		CurrentDirectory:   currentDir,
		AvailableJSONFiles: jsonFiles,
		TotalFiles:         len(jsonFiles),
	})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	registry := h.Registry
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = registry.WritePrometheus(w)
	return nil
}

// resolvePath restores the leading slash that URL path cleaning strips
// from absolute file paths embedded in the request path.
func (h *RestHandler) resolvePath(trimmed string) string {
	return resolveWatchedPath(h.Manager, trimmed)
}

func resolveWatchedPath(manager *stream.Manager, trimmed string) string {
	if trimmed == "" || strings.HasPrefix(trimmed, "/") {
		return trimmed
	}
	if manager != nil && !manager.Watched(trimmed) && manager.Watched("/"+trimmed) {
		return "/" + trimmed
	}
	return trimmed
}

func (h *RestHandler) requireManager() *apiError {
	if h.Manager == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "stream manager unavailable"}
	}
	return nil
}

func (h *RestHandler) logWarn(message, path string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(message, map[string]string{
		"path":  path,
		"error": err.Error(),
	})
}

func decodeJSONBody(r *http.Request, target any) *apiError {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "failed to read request body"}
	}
	if len(body) == 0 {
		return &apiError{Status: http.StatusBadRequest, Message: "request body is required"}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid JSON body"}
	}
	return nil
}

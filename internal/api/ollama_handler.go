package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/ollama"
)

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-_.:]+$`)

// OllamaHandler relays file contents plus a caller prompt to an Ollama
// backend and returns the model response.
type OllamaHandler struct {
	Client   *ollama.Client
	Config   ollama.Config
	Logger   *logging.Logger
	Registry *metrics.Registry
}

type ollamaRequest struct {
	FilePath string `json:"file_path"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
}

type ollamaResponse struct {
	Status         string `json:"status"`
	FilePath       string `json:"file_path"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	OllamaResponse string `json:"ollama_response"`
	Content        string `json:"content"`
}

func (h *OllamaHandler) handleProcess(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if h.Client == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "ollama backend is not configured"}
	}

	var request ollamaRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.FilePath) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "file_path is required"}
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "prompt is required"}
	}

	model := h.Config.Model
	if request.Model != "" {
		if len(request.Model) > 100 || !modelNamePattern.MatchString(request.Model) {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid model name"}
		}
		model = request.Model
	}

	raw, err := os.ReadFile(request.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &apiError{
				Status:  http.StatusNotFound,
				Message: fmt.Sprintf("file does not exist: %s", request.FilePath),
			}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to read file"}
	}
	content := string(raw)

	fullPrompt := request.Prompt + "\n\nData: " + content
	if h.Config.MaxPromptLength > 0 && len(fullPrompt) > h.Config.MaxPromptLength {
		return &apiError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("prompt exceeds maximum length of %d characters", h.Config.MaxPromptLength),
		}
	}

	timeout := time.Duration(h.Config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	response, err := h.Client.Generate(ctx, model, fullPrompt)
	h.recordRequest(err)
	if err != nil {
		return h.upstreamError(request.FilePath, model, err)
	}

	writeJSON(w, http.StatusOK, ollamaResponse{
		Status:         "success",
		FilePath:       request.FilePath,
		Prompt:         request.Prompt,
		Model:          model,
		OllamaResponse: response,
		Content:        content,
	})
	return nil
}

func (h *OllamaHandler) upstreamError(path, model string, err error) *apiError {
	h.logWarn("ollama request failed", path, model, err)

	var upstream *ollama.UpstreamError
	if errors.As(err, &upstream) {
		return &apiError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("ollama backend error: %s", upstream.Error()),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &apiError{Status: http.StatusGatewayTimeout, Message: "ollama request timed out"}
	}
	return &apiError{
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("failed to reach ollama backend: %s", err.Error()),
	}
}

func (h *OllamaHandler) recordRequest(err error) {
	registry := h.Registry
	if registry == nil {
		registry = metrics.Default
	}
	registry.RecordOllamaRequest(err)
}

func (h *OllamaHandler) logWarn(message, path, model string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(message, map[string]string{
		"category": "ollama",
		"path":     path,
		"model":    model,
		"error":    err.Error(),
	})
}

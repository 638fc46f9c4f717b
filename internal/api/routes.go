package api

import (
	"net/http"

	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/ollama"
	"jsonwatch/internal/stream"
)

// Options bundles the dependencies the HTTP surface needs.
type Options struct {
	Manager        *stream.Manager
	OllamaClient   *ollama.Client
	OllamaConfig   ollama.Config
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
	Registry       *metrics.Registry
}

// RegisterRoutes attaches every endpoint to the mux. The health and
// metrics endpoints skip auth so probes and scrapers work unattended.
func RegisterRoutes(mux *http.ServeMux, options Options) {
	rest := &RestHandler{
		Manager:  options.Manager,
		Logger:   options.Logger,
		Registry: options.Registry,
	}
	ollamaHandler := &OllamaHandler{
		Client:   options.OllamaClient,
		Config:   options.OllamaConfig,
		Logger:   options.Logger,
		Registry: options.Registry,
	}
	streamHandler := &StreamHandler{
		Manager:        options.Manager,
		Logger:         options.Logger,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	}

	token := options.AuthToken

	mux.HandleFunc("/health", securityHeadersHandler(cacheControlNoCache, jsonErrorMiddleware(rest.handleHealth)))
	mux.HandleFunc("/metrics", securityHeadersHandler(cacheControlNoCache, jsonErrorMiddleware(rest.handleMetrics)))

	mux.HandleFunc("/api/watch", restHandler(token, rest.handleWatch))
	mux.HandleFunc("/api/watch/", restHandler(token, rest.handleUnwatch))
	mux.HandleFunc("/api/files", restHandler(token, rest.handleFiles))
	mux.HandleFunc("/api/content/", restHandler(token, rest.handleContent))
	mux.HandleFunc("/api/available-files", restHandler(token, rest.handleAvailableFiles))
	mux.HandleFunc("/api/ollama/process", restHandler(token, ollamaHandler.handleProcess))
	mux.Handle("/api/stream/", streamHandler)

	mux.HandleFunc("/api/", securityHeadersHandler(cacheControlNoStore, jsonErrorMiddleware(handleUnknownAPI)))
}

func handleUnknownAPI(http.ResponseWriter, *http.Request) *apiError {
	return &apiError{Status: http.StatusNotFound, Message: "unknown endpoint"}
}

// Handler builds the full HTTP handler with request logging attached.
func Handler(options Options) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, options)
	return loggingMiddleware(options.Logger, mux)
}

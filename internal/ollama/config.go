package ollama

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultTimeoutSeconds  = 300
	maxTimeoutSeconds      = 3600
	defaultMaxPromptLength = 8192
	maxModelNameLength     = 100
)

// Config holds the Ollama backend settings, read from the environment.
// The base URL and model are required so the service never talks to an
// implicit default backend.
type Config struct {
	BaseURL         string
	Model           string
	TimeoutSeconds  int
	MaxPromptLength int
}

func ConfigFromEnv() (Config, error) {
	baseURL := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL"))
	if baseURL == "" {
		return Config{}, errors.New("OLLAMA_BASE_URL environment variable is required")
	}
	if err := validateBaseURL(baseURL); err != nil {
		return Config{}, err
	}

	model := strings.TrimSpace(os.Getenv("OLLAMA_MODEL"))
	if model == "" {
		return Config{}, errors.New("OLLAMA_MODEL environment variable is required")
	}
	if err := validateModel(model); err != nil {
		return Config{}, err
	}

	timeoutSeconds := defaultTimeoutSeconds
	if raw := os.Getenv("MAX_TIMEOUT_SECONDS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, errors.New("MAX_TIMEOUT_SECONDS must be a valid number")
		}
		timeoutSeconds = parsed
	}
	if timeoutSeconds < 1 || timeoutSeconds > maxTimeoutSeconds {
		return Config{}, fmt.Errorf("MAX_TIMEOUT_SECONDS must be between 1 and %d", maxTimeoutSeconds)
	}

	maxPromptLength := defaultMaxPromptLength
	if raw := os.Getenv("MAX_PROMPT_LENGTH"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return Config{}, errors.New("MAX_PROMPT_LENGTH must be a positive number")
		}
		maxPromptLength = parsed
	}

	return Config{
		BaseURL:         baseURL,
		Model:           model,
		TimeoutSeconds:  timeoutSeconds,
		MaxPromptLength: maxPromptLength,
	}, nil
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("OLLAMA_BASE_URL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("OLLAMA_BASE_URL must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("OLLAMA_BASE_URL must have a host")
	}
	return nil
}

func validateModel(model string) error {
	if len(model) > maxModelNameLength {
		return fmt.Errorf("OLLAMA_MODEL must be at most %d characters", maxModelNameLength)
	}
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return errors.New("OLLAMA_MODEL contains invalid characters")
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFilename = "jsonwatch.yaml"

// Duration parses YAML durations written as strings ("2s", "150ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the service configuration, read from an optional YAML
// file and overridden by JSONWATCH_* environment variables.
type Settings struct {
	Port             int      `yaml:"port"`
	AuthToken        string   `yaml:"auth_token"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	LogLevel         string   `yaml:"log_level"`
	PollInterval     Duration `yaml:"poll_interval"`
	Debounce         Duration `yaml:"debounce"`
	WriteTimeout     Duration `yaml:"write_timeout"`
	MaxWatches       int      `yaml:"max_watches"`
	SubscriberBuffer int      `yaml:"subscriber_buffer"`
	MaxSubscribers   int      `yaml:"max_subscribers"`
}

func Defaults() Settings {
	return Settings{
		Port:             8080,
		LogLevel:         "info",
		PollInterval:     Duration(2 * time.Second),
		Debounce:         Duration(100 * time.Millisecond),
		WriteTimeout:     Duration(5 * time.Second),
		MaxWatches:       100,
		SubscriberBuffer: 128,
	}
}

// Load reads settings from path when the file exists, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Settings, error) {
	settings := Defaults()

	if path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(payload, &settings); err != nil {
				return Settings{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Settings{}, err
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyEnv(settings *Settings) error {
	if raw := os.Getenv("JSONWATCH_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("JSONWATCH_PORT must be a number, got %q", raw)
		}
		settings.Port = port
	}
	if raw, ok := os.LookupEnv("JSONWATCH_AUTH_TOKEN"); ok {
		settings.AuthToken = raw
	}
	if raw := os.Getenv("JSONWATCH_ALLOWED_ORIGINS"); raw != "" {
		settings.AllowedOrigins = settings.AllowedOrigins[:0]
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				settings.AllowedOrigins = append(settings.AllowedOrigins, trimmed)
			}
		}
	}
	if raw := os.Getenv("JSONWATCH_LOG_LEVEL"); raw != "" {
		settings.LogLevel = raw
	}
	if raw := os.Getenv("JSONWATCH_POLL_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("JSONWATCH_POLL_INTERVAL must be a duration, got %q", raw)
		}
		settings.PollInterval = Duration(interval)
	}
	if raw := os.Getenv("JSONWATCH_MAX_WATCHES"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("JSONWATCH_MAX_WATCHES must be a number, got %q", raw)
		}
		settings.MaxWatches = count
	}
	return nil
}

func validate(settings Settings) error {
	if settings.Port < 0 || settings.Port > 65535 {
		return fmt.Errorf("port %d out of range", settings.Port)
	}
	if settings.PollInterval.Std() <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if settings.MaxWatches <= 0 {
		return fmt.Errorf("max_watches must be positive")
	}
	return nil
}

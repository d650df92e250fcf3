package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	AI       AIConfig       `yaml:"ai"`
	Trial    TrialConfig    `yaml:"trial"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	// Token, when set, is required as a bearer token on /api/v1 routes.
	Token string `yaml:"token"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "bolt" or "memory"
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AIConfig holds defaults. Values saved in the settings record win over these.
type AIConfig struct {
	Backend           string  `yaml:"backend"` // "http" or "sdk"
	Endpoint          string  `yaml:"endpoint"`
	ChatModel         string  `yaml:"chat_model"`
	ImageSize         int     `yaml:"image_size"`
	ResponseCount     int     `yaml:"response_count"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

type TrialConfig struct {
	Limit          int    `yaml:"limit"`
	FallbackKeyEnv string `yaml:"fallback_key_env"`
}

type PipelineConfig struct {
	MaxConcurrentRuns int  `yaml:"max_concurrent_runs"`
	ResumePending     bool `yaml:"resume_pending"`
}

type SecretsConfig struct {
	// PassphraseEnv names an environment variable holding the passphrase used
	// to seal the remembered API key. Empty disables sealing.
	PassphraseEnv string `yaml:"passphrase_env"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./artichat.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		AI: AIConfig{
			Backend:           "http",
			Endpoint:          "https://api.openai.com/v1",
			ChatModel:         "gpt-3.5-turbo",
			ImageSize:         256,
			ResponseCount:     1,
			RequestsPerSecond: 2,
			TimeoutSeconds:    0,
		},
		Trial: TrialConfig{
			Limit:          20,
			FallbackKeyEnv: "ARTICHAT_TRIAL_KEY",
		},
		Pipeline: PipelineConfig{
			MaxConcurrentRuns: 4,
			ResumePending:     true,
		},
		Secrets: SecretsConfig{
			PassphraseEnv: "ARTICHAT_SECRET",
		},
	}
}

// Load reads a YAML config file and merges it over defaults.
// If the file does not exist, defaults are returned without error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No config file found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseLevel maps a config level string to a slog level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

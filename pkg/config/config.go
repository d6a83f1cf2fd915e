// Package config loads the bridge configuration from YAML, with
// environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ACS       ACSConfig       `yaml:"acs"`
	Bot       BotConfig       `yaml:"bot"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the webhook listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	CallbackBaseURL string        `yaml:"callback_base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ACSConfig configures the Azure Communication Services connection.
type ACSConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	VoiceName string `yaml:"voice_name"`
}

// BotConfig configures the Direct Line connection.
type BotConfig struct {
	Endpoint string `yaml:"endpoint"`
	Secret   string `yaml:"secret"`
	Greeting string `yaml:"greeting"`
}

// DatabaseConfig configures optional call history persistence.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// TelemetryConfig configures metrics exposure.
type TelemetryConfig struct {
	MetricsListen string `yaml:"metrics_listen"`
	// SoftCallCeiling is advisory: live sessions above it are logged
	// and visible on the active-calls gauge, never rejected.
	SoftCallCeiling int `yaml:"soft_call_ceiling"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		ACS: ACSConfig{
			VoiceName: "en-US-JennyNeural",
		},
		Bot: BotConfig{
			Endpoint: "https://directline.botframework.com/v3/directline",
			Greeting: "Hello",
		},
		Telemetry: TelemetryConfig{
			MetricsListen:   ":9090",
			SoftCallCeiling: 100,
		},
	}
}

// Load reads path, layering file values over defaults and environment
// overrides over both. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv lets secrets come from the environment instead of the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ACS_ENDPOINT"); v != "" {
		cfg.ACS.Endpoint = v
	}
	if v := os.Getenv("ACS_ACCESS_KEY"); v != "" {
		cfg.ACS.AccessKey = v
	}
	if v := os.Getenv("DIRECT_LINE_SECRET"); v != "" {
		cfg.Bot.Secret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

// Validate checks the fields the bridge cannot run without.
func (c Config) Validate() error {
	if c.ACS.Endpoint == "" {
		return fmt.Errorf("acs.endpoint is required")
	}
	if c.ACS.AccessKey == "" {
		return fmt.Errorf("acs.access_key is required")
	}
	if c.Bot.Secret == "" {
		return fmt.Errorf("bot.secret is required")
	}
	if c.Server.CallbackBaseURL == "" {
		return fmt.Errorf("server.callback_base_url is required")
	}
	return nil
}

// Package config provides configuration management for examlab.
// Values come from defaults, an optional config.yaml and EXAMLAB_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/examlab/internal/common/constants"
	"github.com/kandev/examlab/internal/common/logger"
)

// Config holds all configuration sections.
type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Docker      DockerConfig         `mapstructure:"docker"`
	Environment EnvironmentConfig    `mapstructure:"environment"`
	Probe       ProbeConfig          `mapstructure:"probe"`
	Terminal    TerminalConfig       `mapstructure:"terminal"`
	NATS        NATSConfig           `mapstructure:"nats"`
	Logging     logger.LoggingConfig `mapstructure:"logging"`
	Catalog     CatalogConfig        `mapstructure:"catalog"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"writeTimeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // in seconds
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// EnvironmentConfig describes the per-task containers.
type EnvironmentConfig struct {
	Image      string `mapstructure:"image"`
	NamePrefix string `mapstructure:"namePrefix"`
	// PullMissing pulls Image on first create when it is not present locally.
	PullMissing bool `mapstructure:"pullMissing"`
}

// ProbeConfig holds probe execution limits.
type ProbeConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// TerminalConfig holds interactive session settings.
type TerminalConfig struct {
	Shell          string `mapstructure:"shell"`
	ReadBufferSize int    `mapstructure:"readBufferSize"`
	PollIntervalMs int    `mapstructure:"pollIntervalMs"`
}

// NATSConfig holds NATS messaging configuration. Empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// CatalogConfig points at an optional task catalog file; empty uses the embedded one.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// Timeout returns the per-probe deadline.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PollInterval returns the reader deadline used by terminal sessions.
func (t TerminalConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.readTimeout", 30)
	// 0 disables the server write deadline; lifecycle and check handlers bound themselves.
	v.SetDefault("server.writeTimeout", 0)
	v.SetDefault("server.shutdownTimeout", 10)

	// Empty host defers to DOCKER_HOST / the platform default socket.
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.apiVersion", "")

	v.SetDefault("environment.image", "almalinux:9")
	v.SetDefault("environment.namePrefix", "rhcsa-task-")
	v.SetDefault("environment.pullMissing", true)

	v.SetDefault("probe.timeoutSeconds", 10)

	v.SetDefault("terminal.shell", "/bin/bash")
	v.SetDefault("terminal.readBufferSize", 4096)
	v.SetDefault("terminal.pollIntervalMs", 100)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "examlab")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("catalog.path", "")
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from configPath (if set), ".", and /etc/examlab/.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXAMLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// camelCase keys do not map onto SNAKE_CASE env names automatically.
	_ = v.BindEnv("environment.namePrefix", "EXAMLAB_ENVIRONMENT_NAME_PREFIX")
	_ = v.BindEnv("probe.timeoutSeconds", "EXAMLAB_PROBE_TIMEOUT_SECONDS")
	_ = v.BindEnv("docker.host", "EXAMLAB_DOCKER_HOST")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/examlab/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if wt := cfg.Server.WriteTimeoutDuration(); wt < 0 || (wt > 0 && wt < constants.LifecycleTimeout) {
		errs = append(errs, fmt.Sprintf("server.writeTimeout must be 0 or at least %d seconds", int(constants.LifecycleTimeout.Seconds())))
	}
	if cfg.Environment.Image == "" {
		errs = append(errs, "environment.image is required")
	}
	if cfg.Environment.NamePrefix == "" {
		errs = append(errs, "environment.namePrefix is required")
	}
	if cfg.Probe.TimeoutSeconds <= 0 {
		errs = append(errs, "probe.timeoutSeconds must be positive")
	}
	if cfg.Terminal.Shell == "" {
		errs = append(errs, "terminal.shell is required")
	}
	if cfg.Terminal.ReadBufferSize <= 0 {
		errs = append(errs, "terminal.readBufferSize must be positive")
	}
	if cfg.Terminal.PollIntervalMs <= 0 {
		errs = append(errs, "terminal.pollIntervalMs must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// InstanceName returns the deterministic container name for a task id.
func (e EnvironmentConfig) InstanceName(taskID int) string {
	return fmt.Sprintf("%s%d", e.NamePrefix, taskID)
}

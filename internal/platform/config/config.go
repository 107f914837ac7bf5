package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Events    EventsConfig    `mapstructure:"events"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type SessionsConfig struct {
	SocketDir      string        `mapstructure:"socket_dir"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

type FilterConfig struct {
	JQPath  string        `mapstructure:"jq_path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	RetentionDays    int `mapstructure:"retention_days"`
	SummaryMaxBytes  int `mapstructure:"summary_max_bytes"`
	FallbackMaxBytes int `mapstructure:"fallback_max_bytes"`
}

type TunnelConfig struct {
	Mode           string        `mapstructure:"mode"`
	ConfigPath     string        `mapstructure:"config_path"`
	BinDir         string        `mapstructure:"bin_dir"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type SecretsConfig struct {
	Path    string `mapstructure:"path"`
	KeyPath string `mapstructure:"key_path"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// SupportDir is the application-support directory holding the database,
// the tunnel binary and the secrets file.
func SupportDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hookbridge"
	}
	return filepath.Join(home, ".hookbridge")
}

func setDefaults() {
	support := SupportDir()

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 7842)
	viper.SetDefault("server.name", "hookbridge")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.max_body_bytes", int64(10<<20))

	viper.SetDefault("database.path", filepath.Join(support, "hookbridge.db"))
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("sessions.socket_dir", filepath.Join(support, "sessions"))
	viper.SetDefault("sessions.connect_timeout", 3*time.Second)
	viper.SetDefault("sessions.poll_interval", 5*time.Second)
	viper.SetDefault("sessions.retry_attempts", 3)
	viper.SetDefault("sessions.retry_backoff", time.Second)

	viper.SetDefault("rate_limit.requests_per_window", 100)
	viper.SetDefault("rate_limit.window", time.Minute)

	viper.SetDefault("filter.jq_path", "jq")
	viper.SetDefault("filter.timeout", 2*time.Second)

	viper.SetDefault("events.retention_days", 30)
	viper.SetDefault("events.summary_max_bytes", 2000)
	viper.SetDefault("events.fallback_max_bytes", 500)

	viper.SetDefault("tunnel.mode", "quick")
	viper.SetDefault("tunnel.config_path", defaultTunnelConfigPath())
	viper.SetDefault("tunnel.bin_dir", filepath.Join(support, "bin"))
	viper.SetDefault("tunnel.health_interval", 30*time.Second)

	viper.SetDefault("secrets.path", filepath.Join(support, "secrets.yml"))
	viper.SetDefault("secrets.key_path", filepath.Join(support, "secrets.key"))

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

func defaultTunnelConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cloudflared", "config.yml")
}

// Load reads the config file at path, if present, on top of the defaults.
// Environment variables prefixed HOOKBRIDGE_ override both.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("HOOKBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName names the config and env files and prefixes env overrides.
const ServiceName = "camrelay"

// Config contains all configuration for the relay service
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"console"`
	Debug  bool   `yaml:"debug" env:"DEBUG" default:"false"`
}

// ConfigureZerolog sets the global zerolog level.
func (c *LogConfig) ConfigureZerolog() {
	if c.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}

	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if strings.EqualFold(c.Level, "warning") {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
}

// ServerConfig configures the HTTP listener shared by the API, the camera
// transport and dashboard sessions.
type ServerConfig struct {
	Host            string `yaml:"host" env:"BIND_HOST" default:"0.0.0.0"`
	Port            int    `yaml:"port" env:"PORT" default:"3000"`
	SessionPath     string `yaml:"session_path" env:"SESSION_PATH" default:"/dashboard/ws"`
	ReadBufferSize  int    `yaml:"read_buffer_size" default:"4096"`
	WriteBufferSize int    `yaml:"write_buffer_size" default:"4096"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// CameraConfig configures camera transport connections
type CameraConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" default:"30s"`
	MaxFrameSize      int64         `yaml:"max_frame_size" env:"MAX_FRAME_SIZE" default:"1048576"`
	WriteTimeout      time.Duration `yaml:"write_timeout" default:"10s"`
	DefaultNamePrefix string        `yaml:"default_name_prefix" default:"Camera"`
}

// DashboardConfig configures dashboard sessions
type DashboardConfig struct {
	QueueSize    int           `yaml:"queue_size" default:"64"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	// AuthTimeout bounds how long a session may take to present a token
	// in its first message when none came with the upgrade request.
	AuthTimeout time.Duration `yaml:"auth_timeout" default:"10s"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	JWTSecretKey string        `yaml:"-" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"JWT_TTL" default:"24h"`
}

// DatabaseConfig configures the durable ownership store
type DatabaseConfig struct {
	Path  string `yaml:"path" env:"DB_PATH" default:"camrelay.db"`
	Debug bool   `yaml:"debug" env:"DB_DEBUG" default:"false"`
}

// RateLimitConfig limits unauthenticated camera registration per client
// address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" default:"true"`
	RequestsPerMinute int  `yaml:"requests_per_minute" default:"100"`
	BurstSize         int  `yaml:"burst_size" default:"20"`
}

// Load loads the relay configuration from multiple sources
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := &Loader{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		Prefix:          ServiceName,
	}
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load relay configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relay configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Server.SessionPath, "/") || len(c.Server.SessionPath) < 2 {
		return fmt.Errorf("session path must be an absolute path, got %q", c.Server.SessionPath)
	}
	if c.Camera.HeartbeatInterval <= 0 {
		return fmt.Errorf("camera heartbeat interval must be positive")
	}
	if c.Camera.MaxFrameSize <= 0 {
		return fmt.Errorf("camera max frame size must be positive")
	}
	if c.Dashboard.QueueSize <= 0 {
		return fmt.Errorf("dashboard queue size must be positive")
	}
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("JWT secret key is required (set JWT_SECRET_KEY)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit requests per minute must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate limit burst size must be positive")
		}
	}
	return nil
}

// GetListenAddress returns the address the relay should listen on
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

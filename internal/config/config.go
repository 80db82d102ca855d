// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"canfix-service/internal/adapter"
	"canfix-service/internal/connection"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Simulate   SimulateConfig   `mapstructure:"simulate"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DictionaryConfig locates the parameter dictionary
type DictionaryConfig struct {
	Path string `mapstructure:"path"`
}

// ConnectionConfig selects and configures the bus adapter
type ConnectionConfig struct {
	Adapter     string        `mapstructure:"adapter"`
	Device      string        `mapstructure:"device"`
	Bitrate     int           `mapstructure:"bitrate"`
	Address     string        `mapstructure:"address"`
	Port        int           `mapstructure:"port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Attempts    int           `mapstructure:"attempts"`
	QueueSize   int           `mapstructure:"queue_size"`
	AutoConnect bool          `mapstructure:"auto_connect"`
}

// SimulateConfig lists the nodes of the simulated bus
type SimulateConfig struct {
	Nodes []adapter.NodeConfig `mapstructure:"nodes"`
}

// CaptureConfig represents pcap frame capture configuration
type CaptureConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Direction string `mapstructure:"direction"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads configuration from path (or config.yaml in ./configs and
// the working directory when path is empty) and CANFIX_* environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("CANFIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file; a missing default file leaves the defaults
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// secondsToDurationHook decodes bare numbers into durations as seconds,
// so "timeout: 0.25" and "timeout: 250ms" are the same setting.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.String:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	def := adapter.DefaultConfig()

	// App defaults
	v.SetDefault("app.name", "canfix-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "63349")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Dictionary defaults
	v.SetDefault("dictionary.path", "./configs/canfix.yaml")

	// Connection defaults
	v.SetDefault("connection.adapter", "simulate")
	v.SetDefault("connection.device", def.Device)
	v.SetDefault("connection.bitrate", def.Bitrate)
	v.SetDefault("connection.address", def.Address)
	v.SetDefault("connection.port", def.Port)
	v.SetDefault("connection.timeout", def.Timeout)
	v.SetDefault("connection.attempts", def.Attempts)
	v.SetDefault("connection.queue_size", 64)
	v.SetDefault("connection.auto_connect", true)

	// Simulate defaults
	v.SetDefault("simulate.nodes", []map[string]any{})

	// Capture defaults
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.path", "./data/canfix.pcap")
	v.SetDefault("capture.direction", "")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Enabled && config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Dictionary.Path == "" {
		return fmt.Errorf("dictionary.path is required")
	}
	if config.Connection.Adapter == "" {
		return fmt.Errorf("connection.adapter is required")
	}
	if config.Connection.Timeout <= 0 {
		return fmt.Errorf("connection.timeout must be positive")
	}
	if config.Connection.Attempts < 1 {
		return fmt.Errorf("connection.attempts must be at least 1")
	}
	if config.Connection.QueueSize < 1 {
		return fmt.Errorf("connection.queue_size must be at least 1")
	}

	// Validate environment
	if !oneOf(config.App.Environment, "development", "staging", "production", "test") {
		return fmt.Errorf("app.environment must be one of: development, staging, production, test")
	}

	// Validate logging level
	if !oneOf(config.Logging.Level, "debug", "info", "warn", "error", "fatal") {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, fatal")
	}

	// Validate capture direction
	if !oneOf(config.Capture.Direction, "", string(connection.Inbound), string(connection.Outbound)) {
		return fmt.Errorf("capture.direction must be empty, %q or %q", connection.Inbound, connection.Outbound)
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ConnectionSettings returns the connection configuration
func (c *Config) ConnectionSettings() connection.Config {
	return connection.Config{
		Adapter: c.Connection.Adapter,
		Settings: adapter.Config{
			Device:   c.Connection.Device,
			Bitrate:  c.Connection.Bitrate,
			Address:  c.Connection.Address,
			Port:     c.Connection.Port,
			Timeout:  c.Connection.Timeout,
			Attempts: c.Connection.Attempts,
			Nodes:    c.Simulate.Nodes,
		},
		QueueSize: c.Connection.QueueSize,
	}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
// Example: CLOUDSTORE_STORAGE_ROOT=/srv/files
const EnvPrefix = "CLOUDSTORE"

// Config represents the complete cloudstore configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CLOUDSTORE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Durations accept Go syntax ("30s", "1h"), byte sizes accept human units
// ("100MiB", "20 GB") or plain byte counts, and lists given through the
// environment are comma separated.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// API configures the REST listener
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Auth configures client authentication
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// RateLimit configures per-client request throttling
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Storage configures the storage root, the index and upload policy
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" jsonschema:"enum=DEBUG,enum=INFO,enum=WARN,enum=ERROR"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json" jsonschema:"enum=text,enum=json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// APIConfig configures the REST listener.
type APIConfig struct {
	// Address is the host:port to listen on
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`

	// MaxListLimit caps the page size of GET /files
	MaxListLimit int `mapstructure:"max_list_limit" yaml:"max_list_limit" validate:"gt=0"`

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS handling.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins" validate:"dive,required"`
}

// AuthConfig configures client authentication.
type AuthConfig struct {
	// Enabled requires an API key or bearer token on /files routes
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// APIKeyHash is the bcrypt hash of the API key (see `cloudstore hash-key`)
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash" validate:"required_if=Enabled true"`

	// JWTSecret signs tokens issued by /login. Empty disables tokens.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"omitempty,min=16"`

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
}

// RateLimitConfig configures per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"required_if=Enabled true"`
	Burst             uint `mapstructure:"burst" yaml:"burst" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns on collection and the dedicated metrics listener
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port of the metrics listener
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// StorageConfig configures the storage root, the index and upload policy.
type StorageConfig struct {
	// Root is the directory holding the stored files
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// IndexFile is the path of the index snapshot
	IndexFile string `mapstructure:"index_file" yaml:"index_file" validate:"required"`

	// MaxFileSize caps a single upload
	MaxFileSize ByteSize `mapstructure:"max_file_size" yaml:"max_file_size" validate:"gt=0"`

	// UploadChunkSize is the buffer size uploads are streamed through
	UploadChunkSize ByteSize `mapstructure:"upload_chunk_size" yaml:"upload_chunk_size" validate:"gt=0"`

	MaxTagsPerFile int `mapstructure:"max_tags_per_file" yaml:"max_tags_per_file" validate:"gt=0"`
	MaxTagLength   int `mapstructure:"max_tag_length" yaml:"max_tag_length" validate:"gt=0"`

	// AllowedMimeTypes restricts uploads ("image/png", "image/*").
	// Empty allows every type.
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types" yaml:"allowed_mime_types" validate:"dive,required"`

	// Capacity caps the total stored bytes. A negative value removes the cap.
	Capacity ByteSize `mapstructure:"capacity" yaml:"capacity"`

	// ReconcileInterval is the period of background reconciliation.
	// A negative value disables it (startup reconciliation always runs).
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts the string forms accepted in files and environment
// variables into durations, byte sizes and lists.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: CLOUDSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about; binding
	// every field lets env vars override keys absent from the file.
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/cloudstore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if field.Type.Kind() == reflect.Struct {
			bindEnvKeys(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// No config file: environment and defaults only
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cloudstore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "cloudstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

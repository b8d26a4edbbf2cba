// Package config loads settings from defaults, an optional config file,
// AFFECT_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chicogong/affect/pkg/logging"
	"github.com/chicogong/affect/pkg/storage"
)

// EnvPrefix prefixes every environment variable, e.g. AFFECT_LOG_LEVEL
const EnvPrefix = "AFFECT"

// Config is the complete application configuration
type Config struct {
	Log     logging.Config   `mapstructure:"log" yaml:"log"`
	FFmpeg  ToolConfig       `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe ToolConfig       `mapstructure:"ffprobe" yaml:"ffprobe"`
	Batch   BatchConfig      `mapstructure:"batch" yaml:"batch"`
	Server  ServerConfig     `mapstructure:"server" yaml:"server"`
	Store   StoreConfig      `mapstructure:"store" yaml:"store"`
	Auth    AuthConfig       `mapstructure:"auth" yaml:"auth"`
	S3      storage.S3Config `mapstructure:"s3" yaml:"s3"`
	Storage StorageConfig    `mapstructure:"storage" yaml:"storage"`
}

// ToolConfig locates an external binary. An empty path searches PATH.
type ToolConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type BatchConfig struct {
	// Concurrency caps parallel batches; 0 removes the cap
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is memory or sqlite
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	APIKeys   []string      `mapstructure:"api_keys" yaml:"api_keys"`
	// Optional lets unauthenticated requests through
	Optional bool `mapstructure:"optional" yaml:"optional"`
}

// Enabled reports whether any credential is configured
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0
}

type StorageConfig struct {
	// TempDir is the parent of per-run staging directories
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// flagKeys maps command-line flag names onto configuration keys
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"ffmpeg":      "ffmpeg.path",
	"ffprobe":     "ffprobe.path",
	"concurrency": "batch.concurrency",
	"addr":        "server.addr",
	"store":       "store.driver",
	"store-dsn":   "store.dsn",
	"temp-dir":    "storage.temp_dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_paths", []string{"stderr"})
	v.SetDefault("ffmpeg.path", "")
	v.SetDefault("ffprobe.path", "")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "affect.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "affect")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.optional", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("storage.temp_dir", "")
}

// Load builds the configuration. file names an explicit config file; when
// empty, affect.{yaml,json,toml} is searched for in the working directory
// and is optional. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("affect")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format)
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency: must not be negative")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn: required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver: must be memory or sqlite, got %q", c.Store.Driver)
	}
	return nil
}

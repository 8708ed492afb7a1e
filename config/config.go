package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "WIPEPROOF"

type Config struct {
	DataDir   string          `mapstructure:"data_dir"  validate:"required"`
	KeyFile   string          `mapstructure:"key_file"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Eraser    EraserConfig    `mapstructure:"eraser"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Log       LogConfig       `mapstructure:"log"`
}

type LedgerConfig struct {
	Backend  string `mapstructure:"backend"   validate:"required,oneof=file sqlite postgres memory"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"       validate:"required_if=Backend postgres"`
	IDScheme string `mapstructure:"id_scheme" validate:"omitempty,oneof=identity sha256"`
}

type SamplingConfig struct {
	Count int `mapstructure:"count" validate:"gte=0,lte=4096"`
}

type EraserConfig struct {
	// TableFile overrides the built-in method table.
	TableFile   string        `mapstructure:"table_file"`
	KillTimeout time.Duration `mapstructure:"kill_timeout" validate:"gte=0"`
}

type ArtifactsConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"   validate:"required_if=Enabled true"`
	Region   string `mapstructure:"region"   validate:"required_if=Enabled true"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Load reads path (optional), WIPEPROOF_* environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("wipeproof")
		vip.AddConfigPath("/etc/wipeproof")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(EnvPrefix)
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolvePaths()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("data_dir", "/var/lib/wipeproof")
	vip.SetDefault("key_file", "")
	vip.SetDefault("ledger.backend", "file")
	vip.SetDefault("ledger.path", "")
	vip.SetDefault("ledger.dsn", "")
	vip.SetDefault("ledger.id_scheme", "identity")
	vip.SetDefault("sampling.count", 16)
	vip.SetDefault("eraser.table_file", "")
	vip.SetDefault("eraser.kill_timeout", "10s")
	vip.SetDefault("artifacts.s3.enabled", false)
	vip.SetDefault("artifacts.s3.bucket", "")
	vip.SetDefault("artifacts.s3.region", "")
	vip.SetDefault("artifacts.s3.prefix", "wipes")
	vip.SetDefault("artifacts.s3.endpoint", "")
	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.format", "text")
}

// resolvePaths places unset file locations under DataDir.
func (c *Config) resolvePaths() {
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "keys", "private_key.pem")
	}
	if c.Ledger.Path == "" {
		switch c.Ledger.Backend {
		case "sqlite":
			c.Ledger.Path = filepath.Join(c.DataDir, "ledger.db")
		default:
			c.Ledger.Path = filepath.Join(c.DataDir, "ledger.json")
		}
	}
}

// WipesDir is where session artifacts are written.
func (c *Config) WipesDir() string {
	return filepath.Join(c.DataDir, "wipes")
}

func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
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

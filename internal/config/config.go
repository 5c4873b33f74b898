package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PREDICTOR_SERVER_PORT
const EnvPrefix = "PREDICTOR"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	Server  ServerConfig  `mapstructure:"server"`
	Workers WorkerConfig  `mapstructure:"workers"`
	Log     LogConfig     `mapstructure:"log"`
	Codec   CodecConfig   `mapstructure:"codec"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Journal JournalConfig `mapstructure:"journal"`

	// Version is set from the build, not from the file
	Version string `mapstructure:"-"`
}

type ModelConfig struct {
	Path              string `mapstructure:"path"`
	LabelColumn       string `mapstructure:"label_column"`
	ProbabilityColumn string `mapstructure:"probability_column"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Route        string        `mapstructure:"route"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxPartBytes int64         `mapstructure:"max_part_bytes"`
}

// WorkerConfig sizes the scoring pool. Size 0 means one worker per
// available CPU.
type WorkerConfig struct {
	Size  int `mapstructure:"size"`
	Queue int `mapstructure:"queue"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

type CodecConfig struct {
	CSVDelimiter string `mapstructure:"csv_delimiter"`
}

// MetricsConfig points at a statsd agent. An empty address disables
// metrics.
type MetricsConfig struct {
	Address   string   `mapstructure:"address"`
	Namespace string   `mapstructure:"namespace"`
	Tags      []string `mapstructure:"tags"`
}

// JournalConfig locates the outcome journal database. An empty path
// disables the journal.
type JournalConfig struct {
	Path   string `mapstructure:"path"`
	Buffer int    `mapstructure:"buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.label_column", "label")
	v.SetDefault("model.probability_column", "probability")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.max_part_bytes", 32<<20)
	v.SetDefault("workers.size", 0)
	v.SetDefault("workers.queue", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.console", false)
	v.SetDefault("codec.csv_delimiter", ",")
	v.SetDefault("metrics.namespace", "renewal_predictor.")
	v.SetDefault("journal.buffer", 256)
}

// Load reads a YAML configuration file. Environment variables prefixed
// with EnvPrefix override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %v: %w", err, ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing required keys and malformed values
func (c *Config) Validate() error {
	var errs []error
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Route, "/") {
		errs = append(errs, fmt.Errorf("server.route %q must start with /", c.Server.Route))
	}
	if c.Server.MaxPartBytes <= 0 {
		errs = append(errs, errors.New("server.max_part_bytes must be positive"))
	}
	if c.Log.File == "" {
		errs = append(errs, errors.New("log.file is required"))
	}
	if c.Workers.Size < 0 {
		errs = append(errs, errors.New("workers.size must not be negative"))
	}
	if c.Workers.Queue < 0 {
		errs = append(errs, errors.New("workers.queue must not be negative"))
	}
	if utf8.RuneCountInString(c.Codec.CSVDelimiter) != 1 || strings.ContainsAny(c.Codec.CSVDelimiter, "\"\r\n") {
		errs = append(errs, fmt.Errorf("codec.csv_delimiter %q must be one character", c.Codec.CSVDelimiter))
	}
	if c.Model.LabelColumn == "" || c.Model.ProbabilityColumn == "" || c.Model.LabelColumn == c.Model.ProbabilityColumn {
		errs = append(errs, errors.New("model.label_column and model.probability_column must be distinct and non-empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// CSVDelimiter returns the configured delimiter rune
func (c *Config) CSVDelimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Codec.CSVDelimiter)
	return r
}

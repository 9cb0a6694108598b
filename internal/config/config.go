// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Eval      EvalConfig      `yaml:"eval" mapstructure:"eval"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings and call pacing.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	DefaultModel      string  `yaml:"default_model" mapstructure:"default_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	CallTimeoutSecs   int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// EvalConfig configures how a run executes and how trials are scored.
type EvalConfig struct {
	CorpusPath          string  `yaml:"corpus_path" mapstructure:"corpus_path"`
	TrialsPerCase       int     `yaml:"trials_per_case" mapstructure:"trials_per_case"`
	Workers             int     `yaml:"workers" mapstructure:"workers"`
	Mode                string  `yaml:"mode" mapstructure:"mode"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	TieEpsilon          float64 `yaml:"tie_epsilon" mapstructure:"tie_epsilon"`
	RunTimeoutSecs      int     `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	GraceSecs           int     `yaml:"grace_secs" mapstructure:"grace_secs"`
}

// RunTimeout returns the run-level deadline, zero when disabled.
func (c EvalConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

// Grace returns the in-flight drain window after the run deadline.
func (c EvalConfig) Grace() time.Duration {
	return time.Duration(c.GraceSecs) * time.Second
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVIEWBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "reviewbench.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.default_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.call_timeout_secs", 120)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("eval.corpus_path", "corpus.yaml")
	v.SetDefault("eval.trials_per_case", 3)
	v.SetDefault("eval.workers", 4)
	v.SetDefault("eval.mode", "absolute")
	v.SetDefault("eval.similarity_threshold", 0.5)
	v.SetDefault("eval.tie_epsilon", 1.0)
	v.SetDefault("eval.run_timeout_secs", 0)
	v.SetDefault("eval.grace_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

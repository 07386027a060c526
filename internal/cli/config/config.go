package config

import (
	"fmt"
	"os"
	"time"

	"shodhcode/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL            = "http://localhost:8080"
	DefaultTimeout            = 10 * time.Second
	DefaultStatePath          = "configs/cli_state.json"
	DefaultSubmissionInterval = 2 * time.Second
	DefaultSubmissionDeadline = 30 * time.Second
	DefaultLeaderboardTick    = 20 * time.Second
	DefaultLogLevel           = "warn"
	DefaultLogFormat          = "console"
	DefaultLogOutput          = "stderr"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL   string        `yaml:"baseURL"`
	Timeout   time.Duration `yaml:"timeout"`
	StatePath string        `yaml:"statePath"`
	Color     *bool         `yaml:"color"`
	Poll      PollConfig    `yaml:"poll"`
	Logger    logger.Config `yaml:"logger"`
}

// PollConfig holds polling cadence.
type PollConfig struct {
	SubmissionInterval  time.Duration `yaml:"submissionInterval"`
	SubmissionDeadline  time.Duration `yaml:"submissionDeadline"`
	LeaderboardInterval time.Duration `yaml:"leaderboardInterval"`
}

// Load reads a YAML file. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Validate rejects settings that would stall polling.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.Poll.SubmissionInterval <= 0 || c.Poll.LeaderboardInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.SubmissionDeadline < c.Poll.SubmissionInterval {
		return fmt.Errorf("poll.submissionDeadline %s is shorter than poll.submissionInterval %s",
			c.Poll.SubmissionDeadline, c.Poll.SubmissionInterval)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.Color == nil {
		value := true
		cfg.Color = &value
	}
	if cfg.Poll.SubmissionInterval == 0 {
		cfg.Poll.SubmissionInterval = DefaultSubmissionInterval
	}
	if cfg.Poll.SubmissionDeadline == 0 {
		cfg.Poll.SubmissionDeadline = DefaultSubmissionDeadline
	}
	if cfg.Poll.LeaderboardInterval == 0 {
		cfg.Poll.LeaderboardInterval = DefaultLeaderboardTick
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = DefaultLogLevel
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = DefaultLogFormat
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = DefaultLogOutput
	}
}

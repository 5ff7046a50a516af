// Package config loads the scheduler's YAML configuration file and
// overlays a .env file on top of it, mirroring original_source's
// pydantic Settings(env_file=".env") — and the teacher's own YAML +
// nested-section Config idiom from internal/cli/cli.go.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables the scheduler needs to run.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	ResultsDir  string `yaml:"results_dir"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig mirrors original_source's app/config.py Settings fields.
type SchedulerConfig struct {
	MaxWorkers       int           `yaml:"max_workers"`
	MaxActiveUsers   int           `yaml:"max_active_users"`
	RateLimitPerUser int           `yaml:"rate_limit_per_user"`
	RateLimitWindow  time.Duration `yaml:"rate_limit_window"`
}

// Default returns the configuration the scheduler runs with when no file
// is supplied.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		ResultsDir:  "./results",
		Scheduler: SchedulerConfig{
			MaxWorkers:       4,
			MaxActiveUsers:   3,
			RateLimitPerUser: 20,
			RateLimitWindow:  10 * time.Second,
		},
	}
}

// Load reads path as YAML into Default()'s base, then overlays any
// matching environment variables (after loading envPath via godotenv, if
// present). A missing path is not an error — Default() is returned as-is,
// still subject to the env overlay.
func Load(path, envPath string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if envPath != "" {
		// Ignore a missing .env file; it's optional overlay, not a
		// required input.
		_ = godotenv.Load(envPath)
	}

	applyEnvOverlay(&cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("SCHEDULER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SCHEDULER_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SCHEDULER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCHEDULER_RESULTS_DIR"); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxWorkers = n
		}
	}
	if v := os.Getenv("MAX_ACTIVE_USERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxActiveUsers = n
		}
	}
	if v := os.Getenv("USER_JOB_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RateLimitPerUser = n
		}
	}
	if v := os.Getenv("USER_JOB_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RateLimitWindow = time.Duration(n) * time.Second
		}
	}
}

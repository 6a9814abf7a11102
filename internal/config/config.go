package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variables bound to config keys.
// A key such as wait.poll_interval is read from WRITER_LOCK_WAIT_POLL_INTERVAL.
const EnvPrefix = "WRITER_LOCK"

// Config represents the complete writerlock configuration
type Config struct {
	// Root is the directory holding the lock and queue. Empty means the git
	// common dir of the working directory, so every worktree shares a lock.
	Root string `mapstructure:"root"`
	// PIDOverride is recorded as the owner of tickets and the lock instead of
	// this process's pid. A wrapper that outlives each CLI call sets it so
	// that liveness follows the wrapper. Zero means no override.
	PIDOverride int `mapstructure:"pid_override"`
	// Token is the credential presented by release.
	Token string `mapstructure:"token"`

	Wait    WaitConfig    `mapstructure:"wait"`
	Mutex   MutexConfig   `mapstructure:"mutex"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// WaitConfig controls acquire --wait
type WaitConfig struct {
	// PollInterval is how long a waiter sleeps between checks (default: 5s)
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Watch re-checks early when the lock or queue directories change.
	// Polling still runs; watching only shortens the wait.
	Watch bool `mapstructure:"watch"`
}

// MutexConfig controls the queue mutex
type MutexConfig struct {
	// RetryInterval is the pause between attempts to take the mutex (default: 100ms)
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// Timeout bounds how long to wait for the mutex (default: 30s, 0 = wait forever)
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig controls the shared audit log
type LoggingConfig struct {
	// Enabled controls whether the audit log is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File overrides the audit log path. Empty means <root>/writer-lock.log.
	// Relative paths are resolved against the lock root; ~ expands to $HOME.
	File string `mapstructure:"file"`
}

// MetricsConfig controls Prometheus textfile export
type MetricsConfig struct {
	// Textfile is where status writes gauges for node_exporter's textfile
	// collector. Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// ResolveFile returns the audit log path for the given lock root.
func (l *LoggingConfig) ResolveFile(root string, defaultName string) string {
	if l.File == "" {
		return filepath.Join(root, defaultName)
	}
	return ExpandPath(l.File, root)
}

// ExpandPath expands a leading ~ to the home directory and resolves
// relative paths against baseDir.
func ExpandPath(path, baseDir string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Root:        "",
		PIDOverride: 0,
		Token:       "",
		Wait: WaitConfig{
			PollInterval: 5 * time.Second,
			Watch:        false,
		},
		Mutex: MutexConfig{
			RetryInterval: 100 * time.Millisecond,
			Timeout:       30 * time.Second,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			File:    "",
		},
		Metrics: MetricsConfig{
			Textfile: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("root", defaults.Root)
	viper.SetDefault("pid_override", defaults.PIDOverride)
	viper.SetDefault("token", defaults.Token)

	viper.SetDefault("wait.poll_interval", defaults.Wait.PollInterval)
	viper.SetDefault("wait.watch", defaults.Wait.Watch)

	viper.SetDefault("mutex.retry_interval", defaults.Mutex.RetryInterval)
	viper.SetDefault("mutex.timeout", defaults.Mutex.Timeout)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)

	viper.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
}

// BindEnv makes every config key readable from WRITER_LOCK_* environment
// variables, with "." in keys replaced by "_".
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it.
// Returns an error if unmarshaling fails or if validation finds invalid values.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "writerlock")
	}
	// Fall back to ~/.config/writerlock
	home, err := os.UserHomeDir()
	if err != nil {
		return ".writerlock"
	}
	return filepath.Join(home, ".config", "writerlock")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

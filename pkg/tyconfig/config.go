// Package tyconfig provides YAML-based configuration loading for the ty
// command-line tool and any other process embedding pkg/board.
package tyconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Monitor controls which USB devices the board manager watches.
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Upload holds defaults for the upload driver.
	Upload UploadConfig `mapstructure:"upload"`

	// Pool controls the task worker pool.
	Pool PoolConfig `mapstructure:"pool"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig controls USB device discovery.
type MonitorConfig struct {
	// AllowedVIDPIDs restricts discovery to these "vid:pid" pairs (hex,
	// no 0x prefix required). Empty means every USB device is watched;
	// the registered vendor drivers then ignore the ones they don't
	// recognize.
	AllowedVIDPIDs []string `mapstructure:"allowed_vid_pids"`

	// DropDelayMS is loaded and validated (defaulting to 5000) but is not
	// passed to the board manager, which keeps a board in StateMissing for
	// a fixed 5 seconds before dropping it.
	DropDelayMS int `mapstructure:"drop_delay_ms"`
}

// UploadConfig holds defaults for the upload driver, overridable per
// invocation by CLI flags.
type UploadConfig struct {
	Format             string `mapstructure:"format"`
	ResetAfter         bool   `mapstructure:"reset_after"`
	ManualRebootDelayMS int   `mapstructure:"manual_reboot_delay_ms"`
}

// PoolConfig controls the task worker pool.
type PoolConfig struct {
	MaxThreads    int `mapstructure:"max_threads"`
	IdleTimeoutMS int `mapstructure:"idle_timeout_ms"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stderr"},
			Development: false,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/ty.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Monitor: MonitorConfig{
			DropDelayMS: 5000,
		},
		Upload: UploadConfig{
			ResetAfter:          true,
			ManualRebootDelayMS: 4000,
		},
		Pool: PoolConfig{
			MaxThreads:    16,
			IdleTimeoutMS: 10000,
		},
	}
}

// Load reads configuration from path, or searches common locations if path
// is empty, with TY_-prefixed environment variable overrides (e.g.
// TY_LOG_LEVEL=debug).
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("monitor.allowed_vid_pids", cfg.Monitor.AllowedVIDPIDs)
	v.SetDefault("monitor.drop_delay_ms", cfg.Monitor.DropDelayMS)
	v.SetDefault("upload.format", cfg.Upload.Format)
	v.SetDefault("upload.reset_after", cfg.Upload.ResetAfter)
	v.SetDefault("upload.manual_reboot_delay_ms", cfg.Upload.ManualRebootDelayMS)
	v.SetDefault("pool.max_threads", cfg.Pool.MaxThreads)
	v.SetDefault("pool.idle_timeout_ms", cfg.Pool.IdleTimeoutMS)

	if path == "" {
		if envPath := os.Getenv("TY_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ty")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ty"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Monitor.DropDelayMS <= 0 {
		c.Monitor.DropDelayMS = 5000
	}
	if c.Pool.MaxThreads <= 0 {
		c.Pool.MaxThreads = 16
	}
	if c.Pool.IdleTimeoutMS <= 0 {
		c.Pool.IdleTimeoutMS = 10000
	}
	for _, pair := range c.Monitor.AllowedVIDPIDs {
		if _, _, err := ParseVIDPID(pair); err != nil {
			return fmt.Errorf("monitor.allowed_vid_pids: %w", err)
		}
	}
	return nil
}

// ParseVIDPID parses a "vid:pid" string, each side hex without a leading
// 0x, e.g. "16c0:0478".
func ParseVIDPID(pair string) (vid, pid uint16, err error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"vid:pid\", got %q", pair)
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad vendor id in %q: %w", pair, err)
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad product id in %q: %w", pair, err)
	}
	return uint16(v), uint16(p), nil
}

// MustLoad is a convenience that panics on error, for use in cmd/ty's
// root command where a bad config is fatal anyway.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

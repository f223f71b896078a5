// Package config handles configuration management using Viper
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Screen  ScreenConfig  `mapstructure:"screen"`
	Accel   AccelConfig   `mapstructure:"accel"`
	Cursor  CursorConfig  `mapstructure:"cursor"`
	Display DisplayConfig `mapstructure:"display"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig selects the adapter. Path wins over Card when both are set.
type DeviceConfig struct {
	Path string `mapstructure:"path"`
	Card int    `mapstructure:"card"`
}

// ScreenConfig carries the mode discovery inputs. Zero virtual dimensions
// mean "size to the enabled outputs"; zero bpp means "derive from depth".
type ScreenConfig struct {
	Depth         int `mapstructure:"depth"`
	BPP           int `mapstructure:"bpp"`
	VirtualWidth  int `mapstructure:"virtual_width"`
	VirtualHeight int `mapstructure:"virtual_height"`
}

type AccelConfig struct {
	NoAccel bool   `mapstructure:"no_accel"`
	Method  string `mapstructure:"method"` // "" or "none"
}

type CursorConfig struct {
	Software bool `mapstructure:"software"`
}

type DisplayConfig struct {
	PageFlip    bool     `mapstructure:"page_flip"`
	ZaphodHeads []string `mapstructure:"zaphod_heads"` // one screen per entry sharing the adapter
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Device: DeviceConfig{
			Card: 0,
		},
		Screen: ScreenConfig{
			Depth: 24,
		},
		Display: DisplayConfig{
			PageFlip: true,
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("kmsd")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/kmsd")
		viper.AddConfigPath("$HOME/.config/kmsd")
		viper.AddConfigPath(".")
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("device.path", DefaultConfig.Device.Path)
	viper.SetDefault("device.card", DefaultConfig.Device.Card)

	viper.SetDefault("screen.depth", DefaultConfig.Screen.Depth)
	viper.SetDefault("screen.bpp", DefaultConfig.Screen.BPP)
	viper.SetDefault("screen.virtual_width", DefaultConfig.Screen.VirtualWidth)
	viper.SetDefault("screen.virtual_height", DefaultConfig.Screen.VirtualHeight)

	viper.SetDefault("accel.no_accel", DefaultConfig.Accel.NoAccel)
	viper.SetDefault("accel.method", DefaultConfig.Accel.Method)

	viper.SetDefault("cursor.software", DefaultConfig.Cursor.Software)

	viper.SetDefault("display.page_flip", DefaultConfig.Display.PageFlip)
	viper.SetDefault("display.zaphod_heads", DefaultConfig.Display.ZaphodHeads)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return cfg.Validate()
}

// Validate rejects settings no screen could start with.
func (c *Config) Validate() error {
	if c.Accel.Method != "" && c.Accel.Method != "none" {
		return fmt.Errorf("unknown accel method %q", c.Accel.Method)
	}
	if c.Screen.VirtualWidth < 0 || c.Screen.VirtualHeight < 0 {
		return fmt.Errorf("negative virtual size %dx%d",
			c.Screen.VirtualWidth, c.Screen.VirtualHeight)
	}
	if c.Device.Path == "" && c.Device.Card < 0 {
		return fmt.Errorf("invalid card index %d", c.Device.Card)
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Heads returns the number of screens to bring up on the adapter.
func (c *Config) Heads() int {
	if n := len(c.Display.ZaphodHeads); n > 0 {
		return n
	}
	return 1
}

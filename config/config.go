// Package config loads the compositor's configuration using Viper.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/output"
)

// Config is the complete configuration of the compositor.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Backend BackendConfig  `mapstructure:"backend"`
	Outputs []OutputConfig `mapstructure:"outputs"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	// Socket is the name of the listening socket, relative to
	// $XDG_RUNTIME_DIR unless it is absolute. If it is empty, the first
	// free wayland-N name is used.
	Socket string `mapstructure:"socket"`
}

// BackendConfig selects and configures the output backend.
type BackendConfig struct {
	Kind        string `mapstructure:"kind"`
	Images      int    `mapstructure:"images"`
	GammaSize   int    `mapstructure:"gamma_size"`
	CursorPlane bool   `mapstructure:"cursor_plane"`

	// Refresh is the refresh rate, in mHz, of outputs whose mode does
	// not name one.
	Refresh int `mapstructure:"refresh"`
}

// OutputConfig describes a single output.
type OutputConfig struct {
	Name       string  `mapstructure:"name"`
	Mode       string  `mapstructure:"mode"` // WxH or WxH@Hz
	Scale      float64 `mapstructure:"scale"`
	Transform  string  `mapstructure:"transform"`
	X          int     `mapstructure:"x"`
	Y          int     `mapstructure:"y"`
	Oversample bool    `mapstructure:"oversample"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"` // Overrides LOG_LEVEL.
}

var (
	DefaultConfig = Config{
		Server: ServerConfig{
			Socket: "",
		},
		Backend: BackendConfig{
			Kind:    "offscreen",
			Images:  2,
			Refresh: 60000,
		},
		Outputs: []OutputConfig{
			{Name: "OFFSCREEN-1", Mode: "1280x720", Scale: 1},
		},
	}

	cfg *Config

	configPathOverride string
)

// SetConfigPath makes Init read only the file at path instead of
// searching for one.
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init reads the configuration. A missing config file is not an
// error, but a malformed one is.
func Init() error {
	viper.SetConfigName("wlcomp")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/wlcomp")
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			viper.AddConfigPath(filepath.Join(dir, "wlcomp"))
		}
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "wlcomp"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetDefault("server.socket", DefaultConfig.Server.Socket)

	viper.SetDefault("backend.kind", DefaultConfig.Backend.Kind)
	viper.SetDefault("backend.images", DefaultConfig.Backend.Images)
	viper.SetDefault("backend.gamma_size", DefaultConfig.Backend.GammaSize)
	viper.SetDefault("backend.cursor_plane", DefaultConfig.Backend.CursorPlane)
	viper.SetDefault("backend.refresh", DefaultConfig.Backend.Refresh)

	viper.SetDefault("outputs", DefaultConfig.Outputs)

	viper.SetDefault("logging.level", DefaultConfig.Logging.Level)

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	c := Config{}
	err = viper.Unmarshal(&c)
	if err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	err = c.Validate()
	if err != nil {
		return err
	}

	cfg = &c
	return nil
}

// Get returns the configuration loaded by Init, or the defaults if
// Init has not been called.
func Get() *Config {
	if cfg == nil {
		return &DefaultConfig
	}
	return cfg
}

// Set replaces the current configuration.
func Set(c *Config) {
	cfg = c
}

// Validate checks that every value in the configuration can be used.
func (c *Config) Validate() error {
	if c.Backend.Kind != "offscreen" {
		return fmt.Errorf("unsupported backend %q", c.Backend.Kind)
	}
	if c.Backend.Images < 1 {
		return fmt.Errorf("backend needs at least one image, not %v", c.Backend.Images)
	}
	if c.Backend.Refresh < 0 {
		return fmt.Errorf("invalid refresh rate %v", c.Backend.Refresh)
	}

	names := make(map[string]struct{}, len(c.Outputs))
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("output %v has no name", i)
		}
		if _, ok := names[o.Name]; ok {
			return fmt.Errorf("output %v is configured twice", o.Name)
		}
		names[o.Name] = struct{}{}

		_, err := ParseMode(o.Mode, c.Backend.Refresh)
		if err != nil {
			return fmt.Errorf("output %v: %w", o.Name, err)
		}
		_, err = geom.ParseTransform(o.Transform)
		if err != nil {
			return fmt.Errorf("output %v: %w", o.Name, err)
		}
		if o.Scale < 0 {
			return fmt.Errorf("output %v: invalid scale %v", o.Name, o.Scale)
		}
	}
	return nil
}

// ParseMode parses a mode of the form WxH or WxH@Hz. Modes without a
// refresh rate use refresh, which is in mHz.
func ParseMode(str string, refresh int) (output.Mode, error) {
	size, hz, ok := strings.Cut(strings.TrimSpace(str), "@")
	ws, hs, found := strings.Cut(size, "x")
	if !found {
		return output.Mode{}, fmt.Errorf("invalid mode %q", str)
	}

	w, err := strconv.Atoi(ws)
	if err != nil {
		return output.Mode{}, fmt.Errorf("invalid mode width %q: %w", ws, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return output.Mode{}, fmt.Errorf("invalid mode height %q: %w", hs, err)
	}
	if (w <= 0) || (h <= 0) {
		return output.Mode{}, fmt.Errorf("invalid mode size %vx%v", w, h)
	}

	if ok {
		f, err := strconv.ParseFloat(hz, 64)
		if (err != nil) || (f <= 0) {
			return output.Mode{}, fmt.Errorf("invalid refresh rate %q", hz)
		}
		refresh = int(math.Round(f * 1000))
	}

	return output.Mode{
		Width:     w,
		Height:    h,
		Refresh:   refresh,
		Preferred: true,
	}, nil
}

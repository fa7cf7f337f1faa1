// Package config loads and validates the runtime host's run configuration.
// A peer directory in the teacher's application becomes a script
// project directory here: "mystral.json" sits beside the entry script and
// carries window, engine, audio and debug-channel settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mystral-run/mystral/internal/util"
)

// Config is the full set of runtime host settings, loadable from a JSON
// file and overridable by CLI flags.
type Config struct {
	Window  Window  `json:"window"`
	Engine  Engine  `json:"engine"`
	Audio   Audio   `json:"audio"`
	Debug   Debug   `json:"debug"`
	Modules Modules `json:"modules"`
}

// Window carries the platform surface's requested dimensions and mode.
type Window struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Title    string `json:"title"`
	Headless bool   `json:"headless"`
	NoSDL    bool   `json:"no_sdl"`
}

// Engine selects and bounds the script engine backend.
type Engine struct {
	Backend        string `json:"backend"` // currently only "lua" (portable interpreter)
	MaxMemoryMB    int    `json:"max_memory_mb"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Audio carries the mixer's sample rate and channel layout.
type Audio struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Debug carries the optional debug-channel websocket server's settings.
type Debug struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
	Verbose bool `json:"verbose"`
}

// Modules carries the module resolver's search roots.
type Modules struct {
	Root string `json:"root"` // project root used as the initial referrer directory
}

// Default returns the baseline configuration used when no mystral.json is
// present, and to fill in any field a partial JSON file omits.
func Default() Config {
	return Config{
		Window: Window{
			Width:    800,
			Height:   600,
			Title:    "Mystral",
			Headless: false,
			NoSDL:    false,
		},
		Engine: Engine{
			Backend:        "lua",
			MaxMemoryMB:    256,
			TimeoutSeconds: 10,
		},
		Audio: Audio{
			SampleRate: 44100,
			Channels:   2,
		},
		Debug: Debug{
			Enabled: false,
			Port:    9229,
			Verbose: false,
		},
		Modules: Modules{
			Root: ".",
		},
	}
}

// Validate checks invariants the runtime host depends on.
func (c *Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.New("window.width and window.height must be > 0")
	}
	if strings.TrimSpace(c.Engine.Backend) == "" {
		return errors.New("engine.backend is required")
	}
	if c.Engine.Backend != "lua" {
		return fmt.Errorf("engine.backend %q is not a built backend", c.Engine.Backend)
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return errors.New("engine.timeout_seconds must be > 0")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	if c.Debug.Enabled && (c.Debug.Port <= 0 || c.Debug.Port > 65535) {
		return errors.New("debug.port must be 1..65535 when debug.enabled is true")
	}
	if strings.TrimSpace(c.Modules.Root) == "" {
		return errors.New("modules.root is required")
	}
	return nil
}

// Load reads and validates a config file, filling in omitted fields from
// Default().
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

// Save validates then writes cfg as indented JSON.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads the config at path if it exists, otherwise writes and
// returns the default config. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// Config holds the tunable parameters of a VM instance. Zero fields take
// defaults; environment variables override file values.
type Config struct {
	// MaxCallDepth bounds the call stack. Exceeding it aborts the run
	// with a stack overflow error.
	MaxCallDepth int `toml:"max_call_depth"`

	// LoopHotThreshold is the back-edge count at which a loop is handed
	// to the native compiler.
	LoopHotThreshold uint64 `toml:"loop_hot_threshold"`

	// NativeLoops enables the profiler and the native-loop boundary.
	NativeLoops bool `toml:"native_loops"`

	// ProfileDB is the path of the sqlite database persisting loop
	// profiles across runs. Empty disables persistence.
	ProfileDB string `toml:"profile_db"`

	// Verbosity sets log verbosity for the "pyrite" logger hierarchy
	// (-1 silences, higher is noisier).
	Verbosity int `toml:"verbosity"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:     1000,
		LoopHotThreshold: DefaultHotThreshold,
		NativeLoops:      true,
	}
}

// LoadConfig reads a TOML config file and applies environment overrides.
// A missing file is not an error; defaults plus environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// The env package caches the environment; refresh so variables set
	// after the first read are visible.
	env.Load()
	c.MaxCallDepth = env.Int("PYRITE_MAX_CALL_DEPTH", c.MaxCallDepth)
	if env.Has("PYRITE_LOOP_HOT_THRESHOLD") {
		c.LoopHotThreshold = uint64(env.Int("PYRITE_LOOP_HOT_THRESHOLD", int(c.LoopHotThreshold)))
	}
	if env.Has("PYRITE_NATIVE_LOOPS") {
		c.NativeLoops = env.Bool("PYRITE_NATIVE_LOOPS")
	}
	c.ProfileDB = env.Str("PYRITE_PROFILE_DB", c.ProfileDB)
	c.Verbosity = env.Int("PYRITE_VERBOSITY", c.Verbosity)
}

func (c *Config) validate() error {
	if c.MaxCallDepth < 1 {
		return fmt.Errorf("max_call_depth must be positive, got %d", c.MaxCallDepth)
	}
	if c.LoopHotThreshold == 0 {
		return fmt.Errorf("loop_hot_threshold must be positive")
	}
	return nil
}

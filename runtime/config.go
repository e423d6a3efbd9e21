package runtime

import (
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/store"
)

// Engine names accepted in Config.Engine.
const (
	EngineInterp = "interp"
	EngineWazero = "wazero"
)

// Config holds runtime limits. Zero fields take the defaults.
type Config struct {
	// Engine selects the backend used by the engine package and the CLI.
	Engine string `json:"engine" mapstructure:"engine"`
	// MaxCallDepth bounds nested calls; exceeding it traps.
	MaxCallDepth int `json:"max_call_depth" mapstructure:"max_call_depth"`
	// MemoryLimitPages caps every memory, in 64 KiB pages.
	MemoryLimitPages uint32 `json:"memory_limit_pages" mapstructure:"memory_limit_pages"`
	// TableLimit caps every table, in elements.
	TableLimit uint32 `json:"table_limit" mapstructure:"table_limit"`
	// Fuel is the per-store instruction budget. Zero disables metering.
	Fuel uint64 `json:"fuel" mapstructure:"fuel"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Engine:           EngineInterp,
		MaxCallDepth:     interp.DefaultMaxCallDepth,
		MemoryLimitPages: store.MaxPages,
		TableLimit:       store.DefaultTableLimit,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Engine == "" {
		c.Engine = d.Engine
	}
	if c.MaxCallDepth == 0 {
		c.MaxCallDepth = d.MaxCallDepth
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = d.MemoryLimitPages
	}
	if c.TableLimit == 0 {
		c.TableLimit = d.TableLimit
	}
	return c
}

// Validate reports out-of-range settings.
func (c Config) Validate() error {
	switch c.Engine {
	case "", EngineInterp, EngineWazero:
	default:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("engine").
			Detail("unknown engine %q", c.Engine).
			Build()
	}
	if c.MaxCallDepth < 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("max_call_depth").
			Detail("must not be negative").
			Build()
	}
	if c.MemoryLimitPages > store.MaxPages {
		return errors.LimitExceeded("memory_limit_pages", uint64(c.MemoryLimitPages), store.MaxPages)
	}
	return nil
}

func (c Config) limits() store.Limits {
	return store.Limits{MemoryPages: c.MemoryLimitPages, TableLimit: c.TableLimit}
}

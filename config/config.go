// Package config reads runtime configuration from JSON files and generic
// maps, such as those produced by other configuration systems.
//
// Keys use snake_case names matching runtime.Config's tags:
//
//	{
//	  "engine": "interp",
//	  "max_call_depth": 512,
//	  "memory_limit_pages": 256,
//	  "fuel": 1000000
//	}
//
// Missing keys keep their defaults. Unknown keys are rejected.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
)

// Load reads a JSON configuration file.
func Load(path string) (runtime.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.Config{}, errors.Config("read "+path, err)
	}
	return Parse(data)
}

// Parse decodes JSON configuration.
func Parse(data []byte) (runtime.Config, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return runtime.Config{}, errors.Config("parse json", err)
	}
	return Decode(raw)
}

// Decode converts a generic map into a validated configuration, starting
// from runtime.DefaultConfig. Numeric strings are accepted for numeric
// fields.
func Decode(raw map[string]any) (runtime.Config, error) {
	cfg := runtime.DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return runtime.Config{}, errors.Config("decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return runtime.Config{}, errors.Config("decode", err)
	}
	if err := cfg.Validate(); err != nil {
		return runtime.Config{}, err
	}
	return cfg.WithDefaults(), nil
}

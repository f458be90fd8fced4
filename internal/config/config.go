// Package config loads and validates the gateway process's own
// configuration (§4.H): listen address, sweep interval, default queue
// depth, upstream provider selection, and the path to the group
// configuration file that internal/groupconfig consumes separately.
//
// It mirrors the teacher's own internal/config: an embedded JSON Schema
// checked with santhosh-tekuri/jsonschema/v5 before decoding, defaults
// for everything the document omits, and unknown top-level keys
// degrading to a warning rather than a fatal error.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schema = func() *jsonschema.Schema {
	sch, err := jsonschema.CompileString("pva2go-config.json", documentSchema)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema does not compile: %v", err))
	}
	return sch
}()

// UpstreamConfig selects which upstream.Provider the gateway wires up and
// holds that provider's own sub-configuration.
type UpstreamConfig struct {
	Provider    string          `json:"provider"`
	Memorystore json.RawMessage `json:"memorystore,omitempty"`
	NATS        json.RawMessage `json:"nats,omitempty"`
}

// GatewayConfig is the fully decoded, defaulted process configuration.
type GatewayConfig struct {
	Listen           string
	SweepInterval    time.Duration
	DefaultQueueSize uint
	Upstream         UpstreamConfig
	GroupConfigPath  string
	LogLevel         string
}

// Defaults returns the configuration used when no document, or an
// incomplete one, is supplied.
func Defaults() GatewayConfig {
	return GatewayConfig{
		Listen:           ":8080",
		SweepInterval:    30 * time.Second,
		DefaultQueueSize: 2,
		Upstream:         UpstreamConfig{Provider: "memorystore"},
		GroupConfigPath:  "",
		LogLevel:         "info",
	}
}

var recognizedTopLevelKeys = map[string]bool{
	"listen": true, "sweepInterval": true, "defaultQueueSize": true,
	"upstream": true, "groupConfigPath": true, "logLevel": true,
}

// Load validates raw against the embedded schema, then decodes it over
// Defaults(). Unknown top-level keys are reported as warnings rather than
// failing the load (§6), the same policy internal/groupconfig applies to
// its own document.
func Load(raw []byte) (*GatewayConfig, []string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, fmt.Errorf("config: invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("config: expected a JSON object: %w", err)
	}

	cfg := Defaults()
	var warnings []string

	for key, value := range fields {
		if !recognizedTopLevelKeys[key] {
			warnings = append(warnings, fmt.Sprintf("config: unknown top-level key %q ignored", key))
			continue
		}
		switch key {
		case "listen":
			if err := json.Unmarshal(value, &cfg.Listen); err != nil {
				return nil, warnings, fmt.Errorf("config: listen: %w", err)
			}
		case "sweepInterval":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, warnings, fmt.Errorf("config: sweepInterval: %w", err)
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, warnings, fmt.Errorf("config: sweepInterval: %w", err)
			}
			cfg.SweepInterval = d
		case "defaultQueueSize":
			var n uint
			if err := json.Unmarshal(value, &n); err != nil {
				return nil, warnings, fmt.Errorf("config: defaultQueueSize: %w", err)
			}
			cfg.DefaultQueueSize = n
		case "upstream":
			if err := json.Unmarshal(value, &cfg.Upstream); err != nil {
				return nil, warnings, fmt.Errorf("config: upstream: %w", err)
			}
		case "groupConfigPath":
			if err := json.Unmarshal(value, &cfg.GroupConfigPath); err != nil {
				return nil, warnings, fmt.Errorf("config: groupConfigPath: %w", err)
			}
		case "logLevel":
			if err := json.Unmarshal(value, &cfg.LogLevel); err != nil {
				return nil, warnings, fmt.Errorf("config: logLevel: %w", err)
			}
		}
	}

	return &cfg, warnings, nil
}

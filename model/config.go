package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryConfig is the serialized form of a Registry.
// It appears under "models" in the main YAML config and can also be loaded
// from a standalone JSON or YAML file.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities" yaml:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints" yaml:"endpoints"`
	Defaults     *DefaultsConfig              `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// LoadFromFile loads a registry configuration from a JSON or YAML file,
// chosen by extension.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadFromYAML(data)
	default:
		return LoadFromJSON(data)
	}
}

// LoadFromJSON loads a registry from JSON data.
// Accepts either a document with a "models" key or the registry config itself.
func LoadFromJSON(data []byte) (*Registry, error) {
	var wrapped struct {
		Models *RegistryConfig `json:"models"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Models != nil {
		return FromConfig(wrapped.Models), nil
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}
	return FromConfig(&cfg), nil
}

// LoadFromYAML loads a registry from YAML data, with or without a "models" key.
func LoadFromYAML(data []byte) (*Registry, error) {
	var wrapped struct {
		Models *RegistryConfig `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && wrapped.Models != nil {
		return FromConfig(wrapped.Models), nil
	}

	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}
	return FromConfig(&cfg), nil
}

// FromConfig converts a RegistryConfig to a Registry.
// Unknown capability names are kept verbatim.
func FromConfig(cfg *RegistryConfig) *Registry {
	caps := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[Capability(k)] = v
	}

	endpoints := cfg.Endpoints
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}

	defaults := cfg.Defaults
	if defaults == nil {
		defaults = &DefaultsConfig{Model: "default"}
	}

	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		defaults:     defaults,
	}
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]*CapabilityConfig, len(r.capabilities))
	for k, v := range r.capabilities {
		caps[string(k)] = v
	}

	return &RegistryConfig{
		Capabilities: caps,
		Endpoints:    r.endpoints,
		Defaults:     r.defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	if cfg == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}

	for k, v := range cfg.Capabilities {
		r.capabilities[Capability(k)] = v
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}
	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}

// Validate checks that every capability references configured endpoints.
func (c *RegistryConfig) Validate() error {
	for name, capCfg := range c.Capabilities {
		if capCfg == nil || len(capCfg.Preferred) == 0 {
			return fmt.Errorf("capability %s: at least one preferred model is required", name)
		}
		for _, m := range append(append([]string{}, capCfg.Preferred...), capCfg.Fallback...) {
			if _, ok := c.Endpoints[m]; !ok {
				return fmt.Errorf("capability %s: unknown endpoint %q", name, m)
			}
		}
	}
	for name, ep := range c.Endpoints {
		if ep == nil || ep.Provider == "" {
			return fmt.Errorf("endpoint %s: provider is required", name)
		}
	}
	return nil
}

// Package config loads the orchestrator's versioned YAML configuration
// file: a top-level version field, a core section, and one section per
// service keyed by service name with a default subsection.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SupportedVersions lists the config schema versions this build accepts.
var SupportedVersions = []string{"1"}

const defaultSection = "default"

// Config is the parsed, version-checked configuration document.
type Config struct {
	Version  string
	Core     map[string]interface{}
	Services map[string]map[string]interface{}
}

type rawConfig struct {
	Version string                 `yaml:"version"`
	Rest    map[string]interface{} `yaml:",inline"`
}

// Load reads and parses the YAML configuration file at path, rejecting
// documents missing a supported version field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if raw.Version == "" {
		return nil, fmt.Errorf("config %s: required field \"version\" missing", path)
	}
	if !supported(raw.Version) {
		return nil, fmt.Errorf("config %s: version %q not supported, use one of %v", path, raw.Version, SupportedVersions)
	}

	cfg := &Config{Version: raw.Version, Services: make(map[string]map[string]interface{})}
	for name, v := range raw.Rest {
		section, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if name == "core" {
			cfg.Core = section
		} else {
			cfg.Services[name] = section
		}
	}
	return cfg, nil
}

func supported(v string) bool {
	for _, s := range SupportedVersions {
		if v == s {
			return true
		}
	}
	return false
}

// Service returns the named section of a service's configuration, or the
// "default" subsection when section is empty. It errors if the service or
// section is not present.
func (c *Config) Service(service, section string) (map[string]interface{}, error) {
	svc, ok := c.Services[service]
	if !ok {
		return nil, fmt.Errorf("service %q not found in configuration", service)
	}
	if section == "" {
		section = defaultSection
	}
	raw, ok := svc[section]
	if !ok {
		return nil, fmt.Errorf("section %q not found in service %q", section, service)
	}
	sub, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("section %q in service %q is not a mapping", section, service)
	}
	return sub, nil
}

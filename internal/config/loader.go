package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LoadConfig loads configuration from a file path.
func LoadConfig(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return parseConfig(data)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(data)
}

// parseConfig parses YAML data into a Config. Pool entries inherit every
// field of the defaults block that they do not set themselves. A zero
// written in the file is kept as ExplicitZero.
func parseConfig(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var doc document
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := DefaultConfig()
	sections := []struct {
		name string
		node *yaml.Node
		dst  interface{}
	}{
		{"log", &doc.Log, &cfg.Log},
		{"admin", &doc.Admin, &cfg.Admin},
		{"defaults", &doc.Defaults, &cfg.Defaults},
	}
	for _, section := range sections {
		if section.node.IsZero() {
			continue
		}
		if err := section.node.Decode(section.dst); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", section.name, err)
		}
	}
	cfg.Defaults = cfg.Defaults.explicitZeros()

	cfg.Pools = make([]PoolEntry, 0, len(doc.Pools))
	for i := range doc.Pools {
		entry := PoolEntry{PoolConfig: cfg.Defaults}
		if err := doc.Pools[i].Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to parse pools[%d]: %w", i, err)
		}
		entry.PoolConfig = entry.PoolConfig.explicitZeros()
		cfg.Pools = append(cfg.Pools, entry)
	}

	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(content string) string {
	// Handle escaped dollar signs first
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

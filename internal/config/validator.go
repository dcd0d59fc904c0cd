package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/dbpool/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Is makes ValidationErrors match util.ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// Validator validates dbpool configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates cfg and returns ValidationErrors when it is invalid.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateLog(&cfg.Log)
	v.validateAdmin(&cfg.Admin)
	v.validatePoolConfig("defaults", cfg.Defaults)
	v.validatePools(cfg.Pools)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("log.level", fmt.Sprintf("unknown level %q", cfg.Level))
	}
	switch cfg.Format {
	case "", "json", "console":
	default:
		v.addError("log.format", fmt.Sprintf("unknown format %q", cfg.Format))
	}
}

func (v *Validator) validateAdmin(cfg *AdminConfig) {
	if cfg.Enabled && cfg.Address == "" {
		v.addError("admin.address", "is required when admin is enabled")
	}
	if cfg.ShutdownTimeout < 0 {
		v.addError("admin.shutdownTimeout", "must not be negative")
	}
}

func (v *Validator) validatePoolConfig(path string, cfg PoolConfig) {
	err := cfg.Normalize().Validate()
	if err == nil {
		return
	}
	var cfgErr *util.ConfigError
	if errors.As(err, &cfgErr) {
		v.addError(path+"."+cfgErr.Field, cfgErr.Message)
		return
	}
	v.addError(path, err.Error())
}

func (v *Validator) validatePools(pools []PoolEntry) {
	names := make(map[string]int, len(pools))
	urls := make(map[string]int, len(pools))

	for i := range pools {
		entry := &pools[i]
		path := fmt.Sprintf("pools[%d]", i)

		if entry.Name == "" {
			v.addError(path+".name", "is required")
		} else if prev, ok := names[entry.Name]; ok {
			v.addError(path+".name", fmt.Sprintf("duplicates pools[%d]", prev))
		} else {
			names[entry.Name] = i
		}

		if entry.URL == "" {
			v.addError(path+".url", "is required")
		} else if _, err := util.EndpointScheme(entry.URL); err != nil {
			v.addError(path+".url", err.Error())
		} else if prev, ok := urls[entry.URL]; ok {
			v.addError(path+".url", fmt.Sprintf("duplicates pools[%d]", prev))
		} else {
			urls[entry.URL] = i
		}

		v.validatePoolConfig(path, entry.PoolConfig)
	}
}

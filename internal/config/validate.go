package config

import (
	"fmt"
	"path/filepath"

	"github.com/3cpo-dev/readygate/internal/handoff"
	"github.com/3cpo-dev/readygate/internal/probe"
)

// ValidationError reports a rejected configuration value.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// Validate checks the configuration before the gate starts.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return ValidationError{Field: "targets", Value: "", Message: "at least one target is required"}
	}
	seen := map[string]bool{}
	for i, t := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if t.Name == "" {
			return ValidationError{Field: field + ".name", Value: "", Message: "target name is required"}
		}
		if seen[t.Name] {
			return ValidationError{Field: field + ".name", Value: t.Name, Message: "duplicate target name"}
		}
		seen[t.Name] = true
		if err := probe.ValidateAddress(t.Network, t.Address); err != nil {
			return ValidationError{Field: field + ".address", Value: t.Address, Message: err.Error()}
		}
	}
	if c.Interval <= 0 {
		return ValidationError{Field: "interval", Value: c.Interval.String(), Message: "interval must be positive"}
	}
	if c.DialTimeout < 0 {
		return ValidationError{Field: "dial_timeout", Value: c.DialTimeout.String(), Message: "dial timeout cannot be negative"}
	}
	if c.Timeout < 0 {
		return ValidationError{Field: "timeout", Value: c.Timeout.String(), Message: "timeout cannot be negative"}
	}
	if !filepath.IsAbs(c.Command) {
		return ValidationError{Field: "command", Value: c.Command, Message: "command must be an absolute path"}
	}
	if _, err := handoff.ParseMode(c.Mode); err != nil {
		return ValidationError{Field: "mode", Value: c.Mode, Message: "mode must be exec or spawn"}
	}
	return nil
}

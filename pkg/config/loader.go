// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validatable is implemented by config structs that carry invariant checks
// beyond what env tags can express. Load runs the check after parsing.
type Validatable interface {
	Validate() error
}

// Load parses environment variables into cfg using its `env` struct tags,
// then runs cfg.Validate if it implements Validatable.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config from environment: %w", err)
	}
	if v, ok := cfg.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}

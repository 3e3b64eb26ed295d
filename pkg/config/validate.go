package config

import (
	"errors"
	"fmt"
)

// ValidatableConfig is implemented by every configuration section.
type ValidatableConfig interface {
	Validate() []error
}

// Validate collects the errors of all given sections.
func Validate(cfgs ...ValidatableConfig) []error {
	var out []error

	for _, cfg := range cfgs {
		out = append(out, cfg.Validate()...)
	}

	return out
}

// Check validates an endpoint configuration including its sections and
// returns the errors joined into one, or nil.
func Check(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	return errors.Join(Validate(cfg, &cfg.Discovery)...)
}

// ValidatePort checks that port is a usable TCP or UDP port.
func ValidatePort(port int) error {
	return validatePort(port)
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%d not in [1, 65535]", port)
	}

	return nil
}

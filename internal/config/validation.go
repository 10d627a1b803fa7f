package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = func() func(*Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(cfg *Config) error {
		if err := v.Struct(cfg); err != nil {
			return err
		}
		return crossCheck(cfg)
	}
}()

// crossCheck covers the rules struct tags cannot express.
func crossCheck(cfg *Config) error {
	var errs []error

	if cfg.Rate.JitterMax < cfg.Rate.JitterMin {
		errs = append(errs, fmt.Errorf("rate.jitter_max (%s) is below rate.jitter_min (%s)", cfg.Rate.JitterMax, cfg.Rate.JitterMin))
	}
	if cfg.Orchestrator.TypingMax < cfg.Orchestrator.TypingMin {
		errs = append(errs, fmt.Errorf("orchestrator.typing_max (%s) is below orchestrator.typing_min (%s)",
			cfg.Orchestrator.TypingMax, cfg.Orchestrator.TypingMin))
	}
	if _, err := time.LoadLocation(cfg.Rate.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("rate.timezone: %w", err))
	}
	if _, err := cfg.Rate.BusinessHours.Schedule(); err != nil {
		errs = append(errs, fmt.Errorf("rate.business_hours: %w", err))
	}
	if cfg.Orchestrator.LeaseTTL <= cfg.Gemini.Timeout {
		errs = append(errs, fmt.Errorf("orchestrator.lease_ttl (%s) must exceed gemini.timeout (%s)",
			cfg.Orchestrator.LeaseTTL, cfg.Gemini.Timeout))
	}

	return errors.Join(errs...)
}

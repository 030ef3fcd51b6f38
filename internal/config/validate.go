package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// REPUBLISH_URL is required and must be an absolute http(s) URL
	if cfg.RepublishURL == "" {
		errs = append(errs, ValidationError{
			Field:   "REPUBLISH_URL",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.RepublishURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "REPUBLISH_URL",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.RepublishURL),
		})
	}

	// TIMEZONE must resolve against the tz database
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	// TICK_INTERVAL must be a valid positive duration
	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// BRAND_TIMEOUT must be a valid positive duration
	if cfg.BrandTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.BrandTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "BRAND_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "BRAND_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	// RECONCILE_THRESHOLD must exceed BRAND_TIMEOUT; a run of even one brand
	// may legitimately hold running status for the full timeout.
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.BrandTimeout > 0 &&
		cfg.ReconcileThreshold <= cfg.BrandTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: fmt.Sprintf("must exceed BRAND_TIMEOUT (%s), got %s", cfg.BrandTimeout, cfg.ReconcileThreshold),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

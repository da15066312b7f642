// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"milkrun/internal/types"
)

// ErrorType categorizes configuration loading failures to aid debugging.
type ErrorType string

const (
	// ErrParsing indicates a failure parsing environment variable values
	// into their target types.
	ErrParsing ErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

// LoadError is a diagnostic error type returned by LoadConfig.
type LoadError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the reconciler configuration.
//
// godotenv does NOT override variables already present in the environment,
// which preserves the Env > Dotenv priority chain.
func LoadConfig() (*Config, error) {
	// Enforce UTC. Business-day math resolves the carrier timezone
	// explicitly; everything else runs in UTC.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &LoadError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &LoadError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// Location resolves the configured business timezone. The zone name is
// validated at load time, so failure here means the tzdata is missing from
// the runtime image.
func (c ReconcileConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationBadTimezone,
			fmt.Sprintf("unknown business timezone %q", c.Timezone), err)
	}
	return loc, nil
}

// RouteProducers parses the route-number-to-producer mapping. Keys are
// numeric strings; non-numeric keys are rejected so a typo fails fast at
// startup rather than silently never matching.
func (c LogisticsConfig) RouteProducers() (map[int]string, error) {
	raw := map[string]string{}
	if err := json.Unmarshal([]byte(c.RouteProducersJSON), &raw); err != nil {
		return nil, fmt.Errorf("parsing ROUTE_PRODUCERS_JSON: %w", err)
	}

	out := make(map[int]string, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("ROUTE_PRODUCERS_JSON key %q is not a route number", k)
		}
		out[n] = v
	}
	return out, nil
}

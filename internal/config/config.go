// Package config defines the global configuration structure for the MilkRun
// reconciler. Configuration is loaded once at process startup and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast). The stale-status heuristic thresholds
// live here rather than in code: they are tuning constants with no ground
// truth, so operators must be able to adjust them without a rebuild.
package config

import (
	"time"

	"milkrun/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of credentials.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the reconciler. It is
// populated once during startup and never modified. Sub-components receive
// only the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"milkrun-reconciler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Logistics LogisticsConfig
	Telemetry TelemetryConfig
	Routing   RoutingConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds the ops HTTP listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// LogisticsConfig holds the logistics platform (pickups/schedules) API
// settings. The carrier number scopes every fetch to one hauler.
type LogisticsConfig struct {
	APIKey        SecretString  `envconfig:"LOGISTICS_API_KEY" validate:"required"`
	BaseURL       string        `envconfig:"LOGISTICS_BASE_URL" default:"https://api.prod.milkmoovement.io/v1" validate:"url"`
	CarrierNumber string        `envconfig:"CARRIER_NUMBER" default:"77" validate:"required"`
	Timeout       time.Duration `envconfig:"LOGISTICS_TIMEOUT" default:"30s"`

	// RouteProducersJSON maps schedule route numbers to producer names,
	// e.g. {"36":"D&I Dairy (805)","40":"Triple G Dairy"}. Schedules carry
	// only a route number; this table resolves the producer display name.
	RouteProducersJSON string `envconfig:"ROUTE_PRODUCERS_JSON" default:"{}" validate:"json"`
}

// TelemetryConfig holds the telematics platform (routes/vehicles) API settings.
type TelemetryConfig struct {
	APIToken SecretString  `envconfig:"TELEMETRY_API_TOKEN" validate:"required"`
	BaseURL  string        `envconfig:"TELEMETRY_BASE_URL" default:"https://api.samsara.com" validate:"url"`
	Timeout  time.Duration `envconfig:"TELEMETRY_TIMEOUT" default:"30s"`

	// TrackingLinkBase is prefixed to a route ID to build the per-delivery
	// deep link surfaced on reconciled rows. Empty disables links.
	TrackingLinkBase string `envconfig:"TELEMETRY_TRACKING_LINK_BASE" default:"https://cloud.samsara.com/fleet/routes"`
}

// RoutingConfig holds the traffic-aware routing service settings.
type RoutingConfig struct {
	APIKey  SecretString  `envconfig:"ROUTING_API_KEY" validate:"required"`
	BaseURL string        `envconfig:"ROUTING_BASE_URL" default:"https://api.tomtom.com" validate:"url"`
	Timeout time.Duration `envconfig:"ROUTING_TIMEOUT" default:"15s"`
}

// ReconcileConfig holds the engine's behavioral tuning.
type ReconcileConfig struct {
	// Timezone is the carrier's operating timezone; business days are
	// midnight-to-midnight in this zone.
	Timezone string `envconfig:"BUSINESS_TIMEZONE" default:"America/Phoenix" validate:"timezone"`

	Interval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"RECONCILE_LOCK_TTL" default:"10m"`

	// Depot coordinates, the fallback origin for ETA calls when no live
	// vehicle position is available.
	DepotLat float64 `envconfig:"DEPOT_LAT" default:"33.4484"`
	DepotLon float64 `envconfig:"DEPOT_LON" default:"-112.0740"`

	// DefaultTravelTime is the assumed depot-to-pickup duration used by the
	// stale-status heuristic and nowhere else.
	DefaultTravelTime time.Duration `envconfig:"DEFAULT_TRAVEL_TIME" default:"2h"`

	// FallbackETADuration is added to the depot departure time when every
	// routing-service strategy has failed.
	FallbackETADuration time.Duration `envconfig:"FALLBACK_ETA_DURATION" default:"1h"`

	// Stale-status correction: a delivery en route for at least
	// StaleMinEnRoute whose naive ETA has been within StaleImminentWindow
	// of now is force-promoted to completed (geofence sensor failure).
	StaleMinEnRoute     time.Duration `envconfig:"STALE_MIN_ENROUTE" default:"80m"`
	StaleImminentWindow time.Duration `envconfig:"STALE_IMMINENT_WINDOW" default:"3m"`

	// PickupKeywords mark telemetry stops as producer sites. A stop with
	// scheduled arrival and departure whose name contains one of these is a
	// pickup-location candidate.
	PickupKeywords []string `envconfig:"PICKUP_KEYWORDS" default:"dairy,holsteins,t&k,dickman,milky,triple,piazzo,belmont"`
}

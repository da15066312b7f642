package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"milkrun/internal/types"
)

// TravelTimer computes a traffic-aware drive time between two points.
type TravelTimer interface {
	TravelTime(ctx context.Context, origin, dest types.Coordinates) (time.Duration, error)
}

// VehicleLocator fetches a vehicle's live GPS position.
type VehicleLocator interface {
	GetVehiclePosition(ctx context.Context, vehicleID string) (*types.VehiclePosition, error)
}

// ProducerLocation is one entry in the pickup coordinate lookup table.
type ProducerLocation struct {
	Name        string
	Coordinates types.Coordinates
}

// LocationIndex resolves a pickup destination to coordinates, first by the
// stop's exact name, then by producer-name substring. It is built once per
// run from the stored location table and never mutated.
type LocationIndex struct {
	exact   map[string]types.Coordinates
	entries []ProducerLocation
}

func NewLocationIndex(locations []ProducerLocation) *LocationIndex {
	ix := &LocationIndex{
		exact:   make(map[string]types.Coordinates, len(locations)),
		entries: make([]ProducerLocation, 0, len(locations)),
	}
	for _, loc := range locations {
		key := normalizeLocationName(loc.Name)
		if key == "" {
			continue
		}
		if _, dup := ix.exact[key]; !dup {
			ix.exact[key] = loc.Coordinates
		}
		ix.entries = append(ix.entries, ProducerLocation{Name: key, Coordinates: loc.Coordinates})
	}
	return ix
}

// Resolve looks up destination coordinates for a pickup. stopName is tried
// as an exact key first; failing that, the first table entry whose name
// contains the producer name (or vice versa) wins.
func (ix *LocationIndex) Resolve(stopName, producerName string) (types.Coordinates, bool) {
	if key := normalizeLocationName(stopName); key != "" {
		if c, ok := ix.exact[key]; ok {
			return c, true
		}
	}

	producer := normalizeLocationName(producerName)
	if producer == "" {
		return types.Coordinates{}, false
	}
	for _, e := range ix.entries {
		if strings.Contains(e.Name, producer) || strings.Contains(producer, e.Name) {
			return e.Coordinates, true
		}
	}
	return types.Coordinates{}, false
}

func normalizeLocationName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ETACalculatorConfig holds the collaborators and constants for building
// an ETACalculator.
type ETACalculatorConfig struct {
	Routing   TravelTimer
	Telemetry VehicleLocator
	Locations *LocationIndex

	// Depot is the fixed origin used when no live position is available.
	Depot types.Coordinates

	// FallbackDuration is added to the departure time when every routing
	// strategy has failed.
	FallbackDuration time.Duration

	Logger *slog.Logger
}

// ETACalculator estimates arrival times for en-route deliveries through an
// ordered chain of strategies, each tried only when the prior one could
// not produce an estimate: live GPS through the routing service, then the
// fixed depot origin through the routing service, then a flat default
// duration. Every failure short of the final fallback degrades only the
// estimate, never the run.
type ETACalculator struct {
	routing   TravelTimer
	telemetry VehicleLocator
	locations *LocationIndex
	depot     types.Coordinates
	fallback  time.Duration
	logger    *slog.Logger
}

func NewETACalculator(cfg ETACalculatorConfig) *ETACalculator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ETACalculator{
		routing:   cfg.Routing,
		telemetry: cfg.Telemetry,
		locations: cfg.Locations,
		depot:     cfg.Depot,
		fallback:  cfg.FallbackDuration,
		logger:    logger,
	}
}

// EstimateInput is everything one estimate needs from the resolved delivery.
type EstimateInput struct {
	DeliveryID     string
	VehicleID      string
	StopName       string
	ProducerName   string
	DepotDeparture *time.Time
	Now            time.Time
}

// Estimate returns the best available arrival estimate. The final fallback
// always produces a value, so the return is never nil for an en-route
// delivery.
func (e *ETACalculator) Estimate(ctx context.Context, in EstimateInput) *time.Time {
	strategies := []func(context.Context, EstimateInput, *types.Coordinates) *time.Time{
		e.fromLivePosition,
		e.fromDepot,
		e.fromDefaultDuration,
	}

	var dest *types.Coordinates
	if e.locations != nil {
		if c, ok := e.locations.Resolve(in.StopName, in.ProducerName); ok {
			dest = &c
		}
	}
	if dest == nil {
		e.logger.WarnContext(ctx, "no coordinates for pickup destination, using default duration",
			"delivery_id", in.DeliveryID,
			"stop_name", in.StopName,
			"producer", in.ProducerName,
		)
	}

	for _, strategy := range strategies {
		if eta := strategy(ctx, in, dest); eta != nil {
			return eta
		}
	}
	return nil
}

func (e *ETACalculator) fromLivePosition(ctx context.Context, in EstimateInput, dest *types.Coordinates) *time.Time {
	if dest == nil || in.VehicleID == "" || e.telemetry == nil {
		return nil
	}

	pos, err := e.telemetry.GetVehiclePosition(ctx, in.VehicleID)
	if err != nil {
		e.logger.WarnContext(ctx, "live position unavailable",
			"delivery_id", in.DeliveryID,
			"vehicle_id", in.VehicleID,
			"error", err,
		)
		return nil
	}
	if pos.SpeedMPH != nil {
		e.logger.InfoContext(ctx, "vehicle en route",
			"delivery_id", in.DeliveryID,
			"vehicle_id", in.VehicleID,
			"speed_mph", *pos.SpeedMPH,
		)
	}

	travel, err := e.routing.TravelTime(ctx, pos.Coordinates, *dest)
	if err != nil {
		e.logger.WarnContext(ctx, "routing call failed for live position",
			"delivery_id", in.DeliveryID,
			"error", err,
		)
		return nil
	}

	eta := in.Now.Add(travel)
	return &eta
}

func (e *ETACalculator) fromDepot(ctx context.Context, in EstimateInput, dest *types.Coordinates) *time.Time {
	if dest == nil || in.DepotDeparture == nil {
		return nil
	}

	travel, err := e.routing.TravelTime(ctx, e.depot, *dest)
	if err != nil {
		e.logger.WarnContext(ctx, "routing call failed for depot origin",
			"delivery_id", in.DeliveryID,
			"error", err,
		)
		return nil
	}

	eta := in.DepotDeparture.Add(travel)
	return &eta
}

func (e *ETACalculator) fromDefaultDuration(_ context.Context, in EstimateInput, _ *types.Coordinates) *time.Time {
	anchor := in.Now
	if in.DepotDeparture != nil {
		anchor = *in.DepotDeparture
	}
	eta := anchor.Add(e.fallback)
	return &eta
}

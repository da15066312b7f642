package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"milkrun/internal/types"
)

// LogisticsSource provides the delivery candidates for a business date.
type LogisticsSource interface {
	FetchCandidates(ctx context.Context, date types.BusinessDate) (candidates []types.DeliveryCandidate, degraded bool, err error)
}

// TelemetrySource provides GPS routes for a time window plus on-demand
// vehicle positions.
type TelemetrySource interface {
	VehicleLocator
	ListRoutes(ctx context.Context, start, end time.Time) ([]types.TelemetryRoute, error)
}

// RouteWriter atomically replaces a business date's reconciled rows.
type RouteWriter interface {
	ReplaceForDate(ctx context.Context, date types.BusinessDate, rows []types.ReconciledRoute) error
}

// EngineConfig wires the engine's collaborators and tuning constants.
type EngineConfig struct {
	Logistics LogisticsSource
	Telemetry TelemetrySource
	Routing   TravelTimer
	Writer    RouteWriter

	// Locations is the stored producer coordinate table, loaded once and
	// passed in rather than read mid-run.
	Locations []ProducerLocation

	// Timezone is the carrier's operating zone; business-day bounds for
	// the telemetry query are computed in it.
	Timezone *time.Location

	Depot            types.Coordinates
	Status           StatusConfig
	FallbackDuration time.Duration
	TrackingLinkBase string
	PickupKeywords   []string

	Logger *slog.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Engine runs one full reconciliation per call: fetch both upstreams,
// match, classify, resolve, estimate, and replace the stored rows.
type Engine struct {
	logistics  LogisticsSource
	telemetry  TelemetrySource
	writer     RouteWriter
	classifier *Classifier
	eta        *ETACalculator
	statusCfg  StatusConfig
	loc        *time.Location
	linkBase   string
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logistics:  cfg.Logistics,
		telemetry:  cfg.Telemetry,
		writer:     cfg.Writer,
		classifier: NewClassifier(cfg.PickupKeywords),
		eta: NewETACalculator(ETACalculatorConfig{
			Routing:          cfg.Routing,
			Telemetry:        cfg.Telemetry,
			Locations:        NewLocationIndex(cfg.Locations),
			Depot:            cfg.Depot,
			FallbackDuration: cfg.FallbackDuration,
			Logger:           logger,
		}),
		statusCfg: cfg.Status,
		loc:       cfg.Timezone,
		linkBase:  strings.TrimSuffix(cfg.TrackingLinkBase, "/"),
		logger:    logger,
		now:       now,
	}
}

// Reconcile computes and stores the full reconciled set for one business
// date. A telemetry outage degrades every delivery to logistics-only
// status; a total logistics outage aborts the run, since candidates are
// the spine of the output. Running twice against unchanged upstream data
// produces identical rows.
func (e *Engine) Reconcile(ctx context.Context, date types.BusinessDate) (*types.RunSummary, error) {
	startedAt := e.now().UTC()

	var (
		candidates        []types.DeliveryCandidate
		routes            []types.TelemetryRoute
		logisticsDegraded bool
		telemetryDegraded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cands, degraded, err := e.logistics.FetchCandidates(gctx, date)
		if err != nil {
			return err
		}
		candidates = cands
		logisticsDegraded = degraded
		return nil
	})
	g.Go(func() error {
		winStart, winEnd := date.Bounds(e.loc)
		rts, err := e.telemetry.ListRoutes(gctx, winStart, winEnd)
		if err != nil {
			e.logger.WarnContext(gctx, "telemetry fetch failed, statuses degrade to logistics-only",
				"business_date", date.String(),
				"error", err,
			)
			telemetryDegraded = true
			return nil
		}
		routes = rts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	matches := MatchRoutes(ctx, e.logger, candidates, routes)

	rows := make([]types.ReconciledRoute, 0, len(matches))
	summary := &types.RunSummary{
		BusinessDate:      date,
		StartedAt:         startedAt,
		LogisticsDegraded: logisticsDegraded,
		TelemetryDegraded: telemetryDegraded,
	}

	for _, m := range matches {
		row := e.resolveOne(ctx, date, m, now)
		rows = append(rows, row)

		switch row.Status {
		case types.StatusScheduled:
			summary.Scheduled++
		case types.StatusEnRoute:
			summary.EnRoute++
		case types.StatusAtPickupLocation:
			summary.AtPickup++
		case types.StatusCompleted:
			summary.Completed++
		}
	}

	if err := e.writer.ReplaceForDate(ctx, date, rows); err != nil {
		return nil, err
	}

	summary.FinishedAt = e.now().UTC()
	e.logger.InfoContext(ctx, "reconciliation run complete",
		"business_date", date.String(),
		"rows", summary.Total(),
		"scheduled", summary.Scheduled,
		"en_route", summary.EnRoute,
		"at_pickup", summary.AtPickup,
		"completed", summary.Completed,
		"logistics_degraded", logisticsDegraded,
		"telemetry_degraded", telemetryDegraded,
		"duration", summary.FinishedAt.Sub(startedAt).String(),
	)
	return summary, nil
}

// resolveOne turns a single match into its output row: classify the
// route's stops, derive the status, and fill the status-appropriate
// ETA field.
func (e *Engine) resolveOne(ctx context.Context, date types.BusinessDate, m Match, now time.Time) types.ReconciledRoute {
	c := m.Candidate
	row := types.ReconciledRoute{
		DeliveryID:     c.DeliveryID,
		BusinessDate:   date,
		ProducerName:   c.ProducerName,
		TankLabel:      c.TankLabel,
		TruckLabel:     c.TruckLabel,
		DriverName:     c.DriverName,
		ProcessorName:  c.ProcessorName,
		FairlifeNumber: c.FairlifeNumber,
		ScheduledStart: c.ScheduledOrPickupTime,
	}

	var cls *Classification
	if m.Route != nil {
		classified := e.classifier.Classify(m.Route.Stops)
		cls = &classified

		row.TelemetryRouteID = m.Route.RouteID
		row.TrackingLink = e.trackingLink(m.Route.RouteID)
		if n, ok := ExtractTankNumber(m.Route.RawName); ok {
			row.TelemetryTank = strconv.Itoa(n)
		}
		// Telemetry fills gaps the logistics record left blank.
		if row.DriverName == "" {
			row.DriverName = m.Route.DriverName
		}
		if row.TruckLabel == "" {
			row.TruckLabel = m.Route.VehicleName
		}
	}

	res := ResolveStatus(c, cls, now, e.statusCfg)
	row.Status = res.Status
	row.DepotDepartureTime = res.DepotDeparture
	row.PickupArrivalTime = res.PickupArrival
	row.PickupDepartureTime = res.PickupDeparture

	switch res.Status {
	case types.StatusEnRoute:
		in := EstimateInput{
			DeliveryID:     c.DeliveryID,
			ProducerName:   c.ProducerName,
			DepotDeparture: res.DepotDeparture,
			Now:            now,
		}
		if m.Route != nil {
			in.VehicleID = m.Route.VehicleID
		}
		if cls != nil && cls.Pickup != nil {
			in.StopName = cls.Pickup.Name
		}
		row.EstimatedArrival = e.eta.Estimate(ctx, in)
	case types.StatusAtPickupLocation:
		row.EstimatedArrival = res.PickupArrival
	case types.StatusCompleted:
		if res.StaleCorrected {
			e.logger.WarnContext(ctx, "stale en-route delivery promoted to completed",
				"delivery_id", c.DeliveryID,
				"depot_departure", res.DepotDeparture,
			)
			row.EstimatedArrival = res.NaiveETA
		} else {
			row.EstimatedArrival = res.PickupDeparture
		}
	}
	return row
}

func (e *Engine) trackingLink(routeID string) string {
	if e.linkBase == "" || routeID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", e.linkBase, routeID)
}

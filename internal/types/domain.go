package types

import (
	"fmt"
	"time"
)

// Coordinates is a geographic point used for routing-service calls.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BusinessDate is a calendar day in the carrier's operating timezone.
// It deliberately carries no clock or zone of its own; conversion to UTC
// query bounds happens against an explicit *time.Location.
type BusinessDate struct {
	Year  int
	Month time.Month
	Day   int
}

// BusinessDateOf truncates t (interpreted in loc) to its operating day.
func BusinessDateOf(t time.Time, loc *time.Location) BusinessDate {
	local := t.In(loc)
	return BusinessDate{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// Next returns the following calendar day.
func (d BusinessDate) Next() BusinessDate {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return BusinessDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Bounds returns the UTC half-open interval [start, end) covering the
// business day in the given timezone. Telemetry queries use these bounds.
func (d BusinessDate) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// String renders the date as YYYY-MM-DD, the format both upstream APIs accept.
func (d BusinessDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// CandidateKind distinguishes the two logistics record shapes.
type CandidateKind string

const (
	// KindPickup is an in-progress or completed haul from the load-summary feed.
	KindPickup CandidateKind = "pickup"
	// KindSchedule is a future or assigned haul from the schedules feed.
	KindSchedule CandidateKind = "schedule"
)

// DeliveryCandidate is the normalized logistics-side view of one haul.
// Candidates are created fresh on every fetch and never mutated; a later
// fetch supersedes, not merges.
type DeliveryCandidate struct {
	// DeliveryID is the shared reference code (LT number) linking this
	// record to a telemetry route. Records with an empty ID are dropped
	// before they reach the engine.
	DeliveryID    string
	RouteNumber   string
	ProducerName  string
	TankLabel     string
	TruckLabel    string
	DriverName    string
	ProcessorName string

	// FairlifeNumber is the receiving plant's load number, derived for
	// Fairlife-bound deliveries only. Empty for every other processor.
	FairlifeNumber string

	Kind CandidateKind

	// ScheduledOrPickupTime is the source-local scheduled start for
	// schedules, or the pickup timestamp for pickups.
	ScheduledOrPickupTime *time.Time

	// Legacy geofence signals, present on pickup records only. Used by the
	// fallback status path when no telemetry route matches.
	DropoffTime       *time.Time
	GeofenceEnterTime *time.Time
}

// StopState is the telematics platform's own per-stop lifecycle marker.
// It is less reliable than actual timestamps and only consulted as a
// fallback when timestamps are absent.
type StopState string

const (
	StopStateUnknown  StopState = ""
	StopStateEnRoute  StopState = "en route"
	StopStateArrived  StopState = "arrived"
	StopStateDeparted StopState = "departed"
	StopStateSkipped  StopState = "skipped"
)

// Stop is one entry in a telemetry route's ordered stop list.
type Stop struct {
	Name               string
	ScheduledArrival   *time.Time
	ScheduledDeparture *time.Time
	ActualArrival      *time.Time
	ActualDeparture    *time.Time
	State              StopState
}

// TelemetryRoute is one GPS-dispatched route from the telematics platform.
// Stops are ordered as visited.
type TelemetryRoute struct {
	RouteID        string
	RawName        string
	DriverName     string
	VehicleID      string
	VehicleName    string
	Stops          []Stop
	RouteStartTime *time.Time
}

// VehiclePosition is a live GPS fix with optional speed, fetched on demand
// for vehicles that are en route.
type VehiclePosition struct {
	Coordinates Coordinates
	SpeedMPH    *float64
	RecordedAt  time.Time
}

// DeliveryStatus is the derived lifecycle state of one delivery.
// It is recomputed from raw timestamps on every run, never carried forward.
type DeliveryStatus string

const (
	StatusScheduled        DeliveryStatus = "scheduled"
	StatusEnRoute          DeliveryStatus = "en_route"
	StatusAtPickupLocation DeliveryStatus = "at_pickup"
	StatusCompleted        DeliveryStatus = "completed"
)

// Valid reports whether s is one of the four lifecycle statuses.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusEnRoute, StatusAtPickupLocation, StatusCompleted:
		return true
	}
	return false
}

// ReconciledRoute is the engine's output: one row per delivery per business
// date. Rows for a date are fully replaced each run, so every field is a
// pure function of that run's inputs.
type ReconciledRoute struct {
	DeliveryID     string
	BusinessDate   BusinessDate
	ProducerName   string
	TankLabel      string
	TelemetryTank  string // tank number parsed from the telemetry route name, if any
	TruckLabel     string
	DriverName     string
	ProcessorName  string
	FairlifeNumber string
	Status         DeliveryStatus

	DepotDepartureTime  *time.Time
	PickupArrivalTime   *time.Time
	PickupDepartureTime *time.Time

	// EstimatedArrival is a true ETA only while Status is en_route. For
	// at_pickup it surfaces the arrival timestamp and for completed the
	// departure timestamp; consumers must branch on Status.
	EstimatedArrival *time.Time

	ScheduledStart   *time.Time
	TelemetryRouteID string
	TrackingLink     string
}

// RunSummary is what a reconciliation run reports back to the scheduler.
type RunSummary struct {
	BusinessDate BusinessDate
	StartedAt    time.Time
	FinishedAt   time.Time

	// Per-status row counts for the replaced set.
	Scheduled int
	EnRoute   int
	AtPickup  int
	Completed int

	// Degradation flags: true when the corresponding upstream failed and
	// the run proceeded on partial data.
	LogisticsDegraded bool
	TelemetryDegraded bool
}

// Total returns the number of rows written by the run.
func (s *RunSummary) Total() int {
	return s.Scheduled + s.EnRoute + s.AtPickup + s.Completed
}

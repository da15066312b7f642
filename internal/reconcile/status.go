package reconcile

import (
	"time"

	"milkrun/internal/types"
)

// StatusConfig carries the tuning constants of the stale-state heuristic.
// These are operational guesses against geofence sensor failure, not
// invariants, so they live in configuration.
type StatusConfig struct {
	// StaleMinEnRoute is how long a delivery must have been en route
	// before the stale correction is considered at all.
	StaleMinEnRoute time.Duration

	// StaleImminentWindow bounds how close the naive ETA must be to now
	// for the correction to fire.
	StaleImminentWindow time.Duration

	// DefaultTravelTime is the assumed depot-to-pickup travel duration
	// used to compute the naive ETA.
	DefaultTravelTime time.Duration
}

// Resolution is the status resolver's output for one delivery.
type Resolution struct {
	Status types.DeliveryStatus

	DepotDeparture  *time.Time
	PickupArrival   *time.Time
	PickupDeparture *time.Time

	// StaleCorrected marks a Completed status that was forced by the
	// sensor-failure heuristic rather than observed. NaiveETA is the
	// estimate the correction was judged against.
	StaleCorrected bool
	NaiveETA       *time.Time
}

// ResolveStatus derives the delivery's lifecycle status from whatever
// timestamps this run observed. cls may be nil (no telemetry match), in
// which case the legacy logistics-only rules apply. The function is pure:
// identical inputs always produce the identical resolution.
func ResolveStatus(c types.DeliveryCandidate, cls *Classification, now time.Time, cfg StatusConfig) Resolution {
	if cls == nil || cls.Pickup == nil {
		return resolveLegacy(c)
	}

	res := Resolution{
		PickupArrival:   cls.Pickup.ActualArrival,
		PickupDeparture: cls.Pickup.ActualDeparture,
	}
	if cls.Depot != nil {
		res.DepotDeparture = cls.Depot.ActualDeparture
	}

	switch {
	case cls.Pickup.ActualDeparture != nil:
		res.Status = types.StatusCompleted
	case cls.Pickup.ActualArrival != nil:
		res.Status = types.StatusAtPickupLocation
	case res.DepotDeparture != nil:
		res.Status = types.StatusEnRoute
		applyStaleCorrection(&res, now, cfg)
	default:
		res.Status = resolveByStopState(cls)
	}
	return res
}

// applyStaleCorrection promotes a long-running EnRoute delivery to
// Completed when the geofence appears to have missed the arrival: the
// truck left the depot long enough ago that the naive ETA has been
// "imminent" for a while. A heuristic, not ground truth.
func applyStaleCorrection(res *Resolution, now time.Time, cfg StatusConfig) {
	departed := *res.DepotDeparture
	elapsed := now.Sub(departed)
	if elapsed < cfg.StaleMinEnRoute {
		return
	}

	naive := departed.Add(cfg.DefaultTravelTime)
	if naive.Sub(now) > cfg.StaleImminentWindow {
		return
	}

	res.Status = types.StatusCompleted
	res.StaleCorrected = true
	res.NaiveETA = &naive
}

// resolveByStopState is the fallback for routes whose pickup stop reports
// a state but no actual timestamps. The platform's state field lags and
// sometimes lies, so it is only consulted when every timestamp is absent.
func resolveByStopState(cls *Classification) types.DeliveryStatus {
	switch cls.Pickup.State {
	case types.StopStateDeparted:
		return types.StatusCompleted
	case types.StopStateArrived:
		return types.StatusAtPickupLocation
	case types.StopStateSkipped:
		if cls.Depot != nil && cls.Depot.State == types.StopStateDeparted {
			return types.StatusEnRoute
		}
	}
	return types.StatusScheduled
}

// resolveLegacy derives status from the logistics record alone, for
// deliveries with no telemetry route. Pickup records rely on the old
// geofence signals; schedules are by definition not yet underway.
func resolveLegacy(c types.DeliveryCandidate) Resolution {
	switch {
	case c.DropoffTime != nil:
		return Resolution{
			Status:          types.StatusCompleted,
			PickupArrival:   c.GeofenceEnterTime,
			PickupDeparture: c.DropoffTime,
		}
	case c.GeofenceEnterTime != nil:
		return Resolution{
			Status:        types.StatusAtPickupLocation,
			PickupArrival: c.GeofenceEnterTime,
		}
	case c.Kind == types.KindPickup:
		return Resolution{
			Status: types.StatusEnRoute,
			// The pickup timestamp is the only departure anchor available.
			DepotDeparture: c.ScheduledOrPickupTime,
		}
	default:
		return Resolution{Status: types.StatusScheduled}
	}
}

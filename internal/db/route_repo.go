package db

import (
	"context"

	"milkrun/internal/reconcile"
	"milkrun/internal/types"
)

// ReconciledRouteRepository stores the engine's output rows. A run's rows
// for one business date are replaced wholesale inside a transaction:
// delete-then-insert, never patched, so rows for deliveries that vanished
// upstream (cancelled schedules) do not linger.
type ReconciledRouteRepository struct {
	db      DBTX
	pool    TxBeginner
	carrier string
}

var _ reconcile.RouteWriter = (*ReconciledRouteRepository)(nil)

// NewReconciledRouteRepository creates a repository scoped to one carrier.
// db and pool are typically the same *pgxpool.Pool; they are separate
// parameters so reads can be exercised without transaction support.
func NewReconciledRouteRepository(db DBTX, pool TxBeginner, carrier string) *ReconciledRouteRepository {
	return &ReconciledRouteRepository{db: db, pool: pool, carrier: carrier}
}

const insertRouteSQL = `INSERT INTO reconciled_routes (
	carrier_number, business_date, delivery_id,
	producer_name, tank_label, telemetry_tank, truck_label,
	driver_name, processor_name, fairlife_number, status,
	depot_departure_time, pickup_arrival_time, pickup_departure_time,
	estimated_arrival, scheduled_start,
	telemetry_route_id, tracking_link, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())`

// ReplaceForDate atomically replaces every stored row for the business
// date and this repository's carrier with rows. A failure anywhere rolls
// the whole replace back, leaving the prior run's rows intact.
func (r *ReconciledRouteRepository) ReplaceForDate(ctx context.Context, date types.BusinessDate, rows []types.ReconciledRoute) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin replace transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM reconciled_routes
		 WHERE carrier_number = $1 AND business_date = $2`,
		r.carrier, date.String(),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete prior rows", err)
	}

	for _, row := range rows {
		if _, err := tx.Exec(ctx, insertRouteSQL,
			r.carrier,
			date.String(),
			row.DeliveryID,
			row.ProducerName,
			row.TankLabel,
			row.TelemetryTank,
			row.TruckLabel,
			row.DriverName,
			row.ProcessorName,
			row.FairlifeNumber,
			string(row.Status),
			row.DepotDepartureTime,
			row.PickupArrivalTime,
			row.PickupDepartureTime,
			row.EstimatedArrival,
			row.ScheduledStart,
			row.TelemetryRouteID,
			row.TrackingLink,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert reconciled route", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit replace transaction", err)
	}
	return nil
}

// ListForDate returns the stored rows for a business date, ordered by
// delivery ID. Used by the ops status endpoint.
func (r *ReconciledRouteRepository) ListForDate(ctx context.Context, date types.BusinessDate) ([]types.ReconciledRoute, error) {
	rows, err := r.db.Query(ctx,
		`SELECT delivery_id, producer_name, tank_label, telemetry_tank, truck_label,
		        driver_name, processor_name, fairlife_number, status,
		        depot_departure_time, pickup_arrival_time, pickup_departure_time,
		        estimated_arrival, scheduled_start,
		        telemetry_route_id, tracking_link
		 FROM reconciled_routes
		 WHERE carrier_number = $1 AND business_date = $2
		 ORDER BY delivery_id`,
		r.carrier, date.String(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reconciled routes", err)
	}
	defer rows.Close()

	var out []types.ReconciledRoute
	for rows.Next() {
		var rr types.ReconciledRoute
		var status string
		if err := rows.Scan(
			&rr.DeliveryID, &rr.ProducerName, &rr.TankLabel, &rr.TelemetryTank, &rr.TruckLabel,
			&rr.DriverName, &rr.ProcessorName, &rr.FairlifeNumber, &status,
			&rr.DepotDepartureTime, &rr.PickupArrivalTime, &rr.PickupDepartureTime,
			&rr.EstimatedArrival, &rr.ScheduledStart,
			&rr.TelemetryRouteID, &rr.TrackingLink,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reconciled route", err)
		}
		rr.Status = types.DeliveryStatus(status)
		rr.BusinessDate = date
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate reconciled routes", err)
	}
	return out, nil
}

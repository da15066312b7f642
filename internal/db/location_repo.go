package db

import (
	"context"

	"milkrun/internal/reconcile"
	"milkrun/internal/types"
)

// LocationRepository reads the producer coordinate table used by the ETA
// calculator. The table is maintained by dispatch, not by this service.
type LocationRepository struct {
	db DBTX
}

func NewLocationRepository(db DBTX) *LocationRepository {
	return &LocationRepository{db: db}
}

// List returns every known pickup location.
func (r *LocationRepository) List(ctx context.Context) ([]reconcile.ProducerLocation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, latitude, longitude
		 FROM producer_locations
		 ORDER BY name`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list producer locations", err)
	}
	defer rows.Close()

	var out []reconcile.ProducerLocation
	for rows.Next() {
		var loc reconcile.ProducerLocation
		if err := rows.Scan(&loc.Name, &loc.Coordinates.Lat, &loc.Coordinates.Lon); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan producer location", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate producer locations", err)
	}
	return out, nil
}

package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milkrun/internal/types"
)

type stubLogistics struct {
	candidates []types.DeliveryCandidate
	degraded   bool
	err        error
}

func (s *stubLogistics) FetchCandidates(context.Context, types.BusinessDate) ([]types.DeliveryCandidate, bool, error) {
	return s.candidates, s.degraded, s.err
}

type stubTelemetry struct {
	routes []types.TelemetryRoute
	err    error

	pos    *types.VehiclePosition
	posErr error
}

func (s *stubTelemetry) ListRoutes(context.Context, time.Time, time.Time) ([]types.TelemetryRoute, error) {
	return s.routes, s.err
}

func (s *stubTelemetry) GetVehiclePosition(context.Context, string) (*types.VehiclePosition, error) {
	return s.pos, s.posErr
}

type captureWriter struct {
	date types.BusinessDate
	rows [][]types.ReconciledRoute
	err  error
}

func (w *captureWriter) ReplaceForDate(_ context.Context, date types.BusinessDate, rows []types.ReconciledRoute) error {
	if w.err != nil {
		return w.err
	}
	w.date = date
	w.rows = append(w.rows, rows)
	return nil
}

var engineTestDate = types.BusinessDate{Year: 2026, Month: time.March, Day: 15}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestEngine(logistics LogisticsSource, telemetry TelemetrySource, routing TravelTimer, writer RouteWriter, now time.Time) *Engine {
	return NewEngine(EngineConfig{
		Logistics:        logistics,
		Telemetry:        telemetry,
		Routing:          routing,
		Writer:           writer,
		Locations:        testLocations(),
		Timezone:         time.UTC,
		Depot:            testDepot,
		Status:           testStatusCfg,
		FallbackDuration: time.Hour,
		TrackingLinkBase: "https://fleet.example.com/routes",
		PickupKeywords:   testKeywords,
		Logger:           discardLogger(),
		Now:              fixedClock(now),
	})
}

func completedRoute(t *testing.T) types.TelemetryRoute {
	t.Helper()
	return types.TelemetryRoute{
		RouteID:   "rt-1",
		RawName:   "ABC12345 Shamrock Farms Tank 2",
		VehicleID: "veh-9",
		Stops: []types.Stop{
			{Name: "Depot", ActualDeparture: tp(t, "2026-03-15T13:00:00Z")},
			{
				Name:               "Shamrock Farms Dairy",
				ScheduledArrival:   tp(t, "2026-03-15T15:00:00Z"),
				ScheduledDeparture: tp(t, "2026-03-15T15:45:00Z"),
				ActualArrival:      tp(t, "2026-03-15T15:12:00Z"),
				ActualDeparture:    tp(t, "2026-03-15T15:58:00Z"),
			},
		},
	}
}

func TestReconcileFullRun(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 30, 0, 0, time.UTC)

	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", ProducerName: "Shamrock Farms", FairlifeNumber: "104012345", Kind: types.KindPickup},
		{DeliveryID: "DEF67890", ProducerName: "Dickman Holsteins", Kind: types.KindSchedule},
	}}
	telemetry := &stubTelemetry{routes: []types.TelemetryRoute{completedRoute(t)}}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, telemetry, &stubRouting{}, writer, now)
	summary, err := engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Scheduled)
	assert.Equal(t, 2, summary.Total())
	assert.False(t, summary.LogisticsDegraded)
	assert.False(t, summary.TelemetryDegraded)
	assert.Equal(t, engineTestDate, writer.date)

	require.Len(t, writer.rows, 1)
	rows := writer.rows[0]
	require.Len(t, rows, 2)

	done := rows[0]
	assert.Equal(t, "ABC12345", done.DeliveryID)
	assert.Equal(t, types.StatusCompleted, done.Status)
	assert.Equal(t, "rt-1", done.TelemetryRouteID)
	assert.Equal(t, "https://fleet.example.com/routes/rt-1", done.TrackingLink)
	assert.Equal(t, "2", done.TelemetryTank)
	assert.Equal(t, "104012345", done.FairlifeNumber)
	require.NotNil(t, done.PickupDepartureTime)
	require.NotNil(t, done.EstimatedArrival)
	assert.True(t, done.EstimatedArrival.Equal(*done.PickupDepartureTime), "completed surfaces departure time")

	sched := rows[1]
	assert.Equal(t, types.StatusScheduled, sched.Status)
	assert.Empty(t, sched.TrackingLink)
}

func TestReconcileIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 30, 0, 0, time.UTC)
	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", ProducerName: "Shamrock Farms", Kind: types.KindPickup},
	}}
	telemetry := &stubTelemetry{routes: []types.TelemetryRoute{completedRoute(t)}}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, telemetry, &stubRouting{}, writer, now)

	_, err := engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)
	_, err = engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)

	require.Len(t, writer.rows, 2)
	assert.True(t, reflect.DeepEqual(writer.rows[0], writer.rows[1]), "unchanged inputs must produce identical rows")
}

func TestReconcileEnRouteGetsETA(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)

	route := types.TelemetryRoute{
		RouteID:   "rt-1",
		RawName:   "ABC12345 Shamrock Farms",
		VehicleID: "veh-9",
		Stops: []types.Stop{
			{Name: "Depot", ActualDeparture: tp(t, "2026-03-15T13:30:00Z")},
			{
				Name:               "Shamrock Farms Dairy",
				ScheduledArrival:   tp(t, "2026-03-15T15:00:00Z"),
				ScheduledDeparture: tp(t, "2026-03-15T15:45:00Z"),
			},
		},
	}
	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", ProducerName: "Shamrock Farms", Kind: types.KindPickup},
	}}
	telemetry := &stubTelemetry{
		routes: []types.TelemetryRoute{route},
		pos:    &types.VehiclePosition{Coordinates: testLiveFix, RecordedAt: now},
	}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, telemetry, &stubRouting{travel: 35 * time.Minute}, writer, now)
	summary, err := engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EnRoute)

	row := writer.rows[0][0]
	assert.Equal(t, types.StatusEnRoute, row.Status)
	require.NotNil(t, row.EstimatedArrival)
	assert.Equal(t, now.Add(35*time.Minute), *row.EstimatedArrival)
	require.NotNil(t, row.DepotDepartureTime)
}

func TestReconcileTelemetryOutageDegrades(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC)
	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", Kind: types.KindPickup, DropoffTime: tp(t, "2026-03-15T19:30:00Z")},
		{DeliveryID: "DEF67890", Kind: types.KindSchedule},
	}}
	telemetry := &stubTelemetry{err: errors.New("telemetry down"), posErr: errors.New("telemetry down")}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, telemetry, &stubRouting{err: errors.New("unused")}, writer, now)
	summary, err := engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)

	assert.True(t, summary.TelemetryDegraded)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Scheduled)
}

func TestReconcileLogisticsOutageAborts(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC)
	logistics := &stubLogistics{err: types.NewAppError(types.ErrCodeUpstreamLogistics, "down", nil)}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, &stubTelemetry{}, &stubRouting{}, writer, now)
	_, err := engine.Reconcile(context.Background(), engineTestDate)
	require.Error(t, err)
	assert.Empty(t, writer.rows, "nothing may be written on an aborted run")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamLogistics, appErr.Code)
}

func TestReconcileWriteFailureIsFatal(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC)
	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", Kind: types.KindSchedule},
	}}
	writer := &captureWriter{err: types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil)}

	engine := newTestEngine(logistics, &stubTelemetry{}, &stubRouting{}, writer, now)
	_, err := engine.Reconcile(context.Background(), engineTestDate)
	require.Error(t, err)
}

func TestReconcileTelemetryFillsMissingFields(t *testing.T) {
	now := time.Date(2026, 3, 15, 16, 30, 0, 0, time.UTC)

	route := completedRoute(t)
	route.DriverName = "R. Alvarez"
	route.VehicleName = "T-18"
	logistics := &stubLogistics{candidates: []types.DeliveryCandidate{
		{DeliveryID: "ABC12345", ProducerName: "Shamrock Farms", Kind: types.KindPickup},
	}}
	writer := &captureWriter{}

	engine := newTestEngine(logistics, &stubTelemetry{routes: []types.TelemetryRoute{route}}, &stubRouting{}, writer, now)
	_, err := engine.Reconcile(context.Background(), engineTestDate)
	require.NoError(t, err)

	row := writer.rows[0][0]
	assert.Equal(t, "R. Alvarez", row.DriverName)
	assert.Equal(t, "T-18", row.TruckLabel)
}

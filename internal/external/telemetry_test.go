package external

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milkrun/internal/types"
)

func newTestTelemetryClient(t *testing.T, handler http.Handler) *TelemetryClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewTelemetryClient(server.Client(), TelemetryClientConfig{
		APIToken: "test-token",
		BaseURL:  server.URL,
		Logger:   testLogger(),
	}, WithSleepFunc(noSleep), WithRetryPolicy(RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}))
}

const routesPage1 = `{
	"data": [
		{
			"id": "rt-1",
			"name": "ABC12345 Shamrock Farms Tank 2",
			"driver": {"name": "R. Alvarez"},
			"vehicle": {"id": "veh-9", "name": "T-18"},
			"actualRouteStartTime": "2026-03-15T13:05:00Z",
			"stops": [
				{
					"name": "United Dairymen Depot",
					"state": "departed",
					"actualDepartureTime": "2026-03-15T13:05:00Z"
				},
				{
					"name": "Shamrock Farms Dairy",
					"state": "arrived",
					"scheduledArrivalTime": "2026-03-15T15:00:00Z",
					"actualArrivalTime": "2026-03-15T15:12:00Z"
				}
			]
		}
	],
	"pagination": {"endCursor": "cur-1", "hasNextPage": true}
}`

const routesPage2 = `{
	"data": [
		{
			"id": "rt-2",
			"name": "Relief Run",
			"stops": []
		}
	],
	"pagination": {"endCursor": "", "hasNextPage": false}
}`

func TestListRoutesPaginatesAndNormalizes(t *testing.T) {
	var gotAuth string
	var afterParams []string
	client := newTestTelemetryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fleet/routes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		afterParams = append(afterParams, r.URL.Query().Get("after"))
		assert.Equal(t, "2026-03-15T07:00:00Z", r.URL.Query().Get("startTime"))
		assert.Equal(t, "2026-03-16T07:00:00Z", r.URL.Query().Get("endTime"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			io.WriteString(w, routesPage1)
		} else {
			io.WriteString(w, routesPage2)
		}
	}))

	start := time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 16, 7, 0, 0, 0, time.UTC)
	got, err := client.ListRoutes(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, []string{"", "cur-1"}, afterParams)
	require.Len(t, got, 2)

	rt := got[0]
	assert.Equal(t, "rt-1", rt.RouteID)
	assert.Equal(t, "ABC12345 Shamrock Farms Tank 2", rt.RawName)
	assert.Equal(t, "R. Alvarez", rt.DriverName)
	assert.Equal(t, "veh-9", rt.VehicleID)
	assert.Equal(t, "T-18", rt.VehicleName)
	require.NotNil(t, rt.RouteStartTime)
	require.Len(t, rt.Stops, 2)

	depot := rt.Stops[0]
	assert.Equal(t, types.StopStateDeparted, depot.State)
	require.NotNil(t, depot.ActualDeparture)
	assert.Nil(t, depot.ActualArrival)

	pickup := rt.Stops[1]
	assert.Equal(t, types.StopStateArrived, pickup.State)
	require.NotNil(t, pickup.ActualArrival)
	assert.Equal(t, time.Date(2026, 3, 15, 15, 12, 0, 0, time.UTC), *pickup.ActualArrival)

	assert.Equal(t, "rt-2", got[1].RouteID)
	assert.Empty(t, got[1].Stops)
}

func TestGetVehiclePosition(t *testing.T) {
	client := newTestTelemetryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fleet/vehicles/stats", r.URL.Path)
		assert.Equal(t, "gps,ecuSpeedMph", r.URL.Query().Get("types"))
		assert.Equal(t, "veh-9", r.URL.Query().Get("vehicleIds"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"data": [
				{
					"id": "veh-9",
					"gps": {"latitude": 33.2, "longitude": -112.1, "time": "2026-03-15T16:00:00Z"},
					"ecuSpeedMph": {"value": 58.5, "time": "2026-03-15T16:00:00Z"}
				}
			]
		}`)
	}))

	pos, err := client.GetVehiclePosition(context.Background(), "veh-9")
	require.NoError(t, err)

	assert.Equal(t, 33.2, pos.Coordinates.Lat)
	assert.Equal(t, -112.1, pos.Coordinates.Lon)
	assert.Equal(t, time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC), pos.RecordedAt)
	require.NotNil(t, pos.SpeedMPH)
	assert.Equal(t, 58.5, *pos.SpeedMPH)
}

func TestGetVehiclePositionWithoutSpeed(t *testing.T) {
	client := newTestTelemetryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"data": [
				{
					"id": "veh-9",
					"gps": {"latitude": 33.2, "longitude": -112.1, "time": "2026-03-15T16:00:00Z"}
				}
			]
		}`)
	}))

	pos, err := client.GetVehiclePosition(context.Background(), "veh-9")
	require.NoError(t, err)
	assert.Nil(t, pos.SpeedMPH)
}

func TestGetVehiclePositionNoData(t *testing.T) {
	client := newTestTelemetryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data": []}`)
	}))

	_, err := client.GetVehiclePosition(context.Background(), "veh-9")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamTelemetry, appErr.Code)
}

func TestParseStopState(t *testing.T) {
	cases := map[string]types.StopState{
		"en route": types.StopStateEnRoute,
		"En Route": types.StopStateEnRoute,
		"enroute":  types.StopStateEnRoute,
		"arrived":  types.StopStateArrived,
		"departed": types.StopStateDeparted,
		"skipped":  types.StopStateSkipped,
		"":         types.StopStateUnknown,
		"pending":  types.StopStateUnknown,
	}
	for in, want := range cases {
		if got := parseStopState(in); got != want {
			t.Errorf("parseStopState(%q) = %q, want %q", in, got, want)
		}
	}
}

package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milkrun/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLogisticsClient(t *testing.T, handler http.Handler) *LogisticsClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewLogisticsClient(server.Client(), LogisticsClientConfig{
		APIKey:        "test-key",
		BaseURL:       server.URL,
		CarrierNumber: "77",
		RouteProducers: map[int]string{
			110: "Shamrock Farms",
		},
		Logger: testLogger(),
	}, WithSleepFunc(noSleep), WithRetryPolicy(RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}))
}

const pickupsBody = `[
	{
		"invoice_number": "ABC12345",
		"route_number": 110,
		"producer_name": "Shamrock Farms",
		"producer_number": 12345,
		"producer_tank": "Tank 2",
		"processor_name": "fairlife",
		"processor_number": "40",
		"hauler_number": 77,
		"truck_number": "T-18",
		"driver": "R. Alvarez",
		"pickup_date": "2026-03-15T15:00:00Z",
		"dropoff_date": "2026-03-15T19:30:00Z",
		"geofence_enter_time": ""
	},
	{
		"invoice_number": "XYZ99999",
		"route_number": 205,
		"producer_name": "Other Dairy",
		"hauler_number": 12,
		"pickup_date": "2026-03-15T15:00:00Z"
	},
	{
		"invoice_number": "",
		"route_number": 110,
		"producer_name": "Shamrock Farms",
		"hauler_number": 77
	}
]`

const schedulesBody = `[
	{
		"lt_number": "DEF67890",
		"route_name": "110",
		"start_date": "2026-03-15T14:00:00Z",
		"driver": "M. Chen",
		"truck": "T-22",
		"tank": "1",
		"hauler": {"hauler_number": "77", "name": "United Dairymen"},
		"destination_processor": {"name": "fairlife", "license_number": "40"}
	},
	{
		"lt_number": "GHI11111",
		"route_name": "999",
		"start_date": "2026-03-15T16:00:00Z",
		"hauler": {"hauler_number": "77"}
	},
	{
		"lt_number": "JKL22222",
		"route_name": "110",
		"hauler": {"hauler_number": "55"}
	},
	{
		"lt_number": "",
		"route_name": "110",
		"hauler": {"hauler_number": "77"}
	}
]`

func TestListPickupsFiltersAndNormalizes(t *testing.T) {
	var gotPath, gotKey, gotStart, gotEnd string
	client := newTestLogisticsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-KEY")
		gotStart = r.URL.Query().Get("start_date")
		gotEnd = r.URL.Query().Get("end_date")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, pickupsBody)
	}))

	date := types.BusinessDate{Year: 2026, Month: time.March, Day: 15}
	got, err := client.ListPickups(context.Background(), date)
	require.NoError(t, err)

	assert.Equal(t, "/pickups/load-summary", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2026-03-15", gotStart)
	assert.Equal(t, "2026-03-15", gotEnd)

	// Wrong carrier and missing invoice are both dropped.
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "ABC12345", c.DeliveryID)
	assert.Equal(t, "110", c.RouteNumber)
	assert.Equal(t, "Shamrock Farms", c.ProducerName)
	assert.Equal(t, "Tank 2", c.TankLabel)
	assert.Equal(t, "T-18", c.TruckLabel)
	assert.Equal(t, "R. Alvarez", c.DriverName)
	assert.Equal(t, "fairlife - 40", c.ProcessorName)
	assert.Equal(t, "104012345", c.FairlifeNumber)
	assert.Equal(t, types.KindPickup, c.Kind)
	require.NotNil(t, c.ScheduledOrPickupTime)
	assert.Equal(t, time.Date(2026, 3, 15, 15, 0, 0, 0, time.UTC), *c.ScheduledOrPickupTime)
	require.NotNil(t, c.DropoffTime)
	assert.Nil(t, c.GeofenceEnterTime)
}

func TestListSchedulesResolvesProducers(t *testing.T) {
	client := newTestLogisticsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/schedules", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, schedulesBody)
	}))

	date := types.BusinessDate{Year: 2026, Month: time.March, Day: 15}
	got, err := client.ListSchedules(context.Background(), date)
	require.NoError(t, err)

	// Wrong carrier and missing LT number are dropped.
	require.Len(t, got, 2)

	assert.Equal(t, "DEF67890", got[0].DeliveryID)
	assert.Equal(t, "Shamrock Farms", got[0].ProducerName)
	assert.Equal(t, "fairlife - 40", got[0].ProcessorName)
	assert.Equal(t, "1040110", got[0].FairlifeNumber)
	assert.Equal(t, types.KindSchedule, got[0].Kind)

	assert.Equal(t, "GHI11111", got[1].DeliveryID)
	assert.Equal(t, "Unknown Route (999)", got[1].ProducerName)
	assert.Equal(t, "", got[1].FairlifeNumber)
}

func TestFetchCandidatesDegradesOnSingleFailure(t *testing.T) {
	client := newTestLogisticsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pickups/load-summary" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, schedulesBody)
	}))

	date := types.BusinessDate{Year: 2026, Month: time.March, Day: 15}
	got, degraded, err := client.FetchCandidates(context.Background(), date)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Len(t, got, 2)
}

func TestFetchCandidatesFailsWhenBothFetchesFail(t *testing.T) {
	client := newTestLogisticsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	date := types.BusinessDate{Year: 2026, Month: time.March, Day: 15}
	_, _, err := client.FetchCandidates(context.Background(), date)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamLogistics, appErr.Code)
}

func TestProducerForRoute(t *testing.T) {
	client := &LogisticsClient{
		producers: map[int]string{110: "Shamrock Farms"},
	}

	assert.Equal(t, "Shamrock Farms", client.producerForRoute("110"))
	assert.Equal(t, "Shamrock Farms", client.producerForRoute(" 110 "))
	assert.Equal(t, "Unknown Route (42)", client.producerForRoute("42"))
	assert.Equal(t, "Unknown Route (Relief Run)", client.producerForRoute("Relief Run"))
}

func TestFairlifeNumber(t *testing.T) {
	tests := []struct {
		name          string
		processor     string
		plant, suffix string
		want          string
	}{
		{"fairlife by name", "fairlife", "40", "12345", "104012345"},
		{"fairlife by name, mixed case", "Fairlife AZ", "40", "110", "1040110"},
		{"fairlife by plant license only", "FL Plant", "40", "110", "1040110"},
		{"other processor", "Schreiber", "55", "12345", ""},
		{"no processor info", "", "", "110", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fairlifeNumber(tt.processor, tt.plant, tt.suffix))
		})
	}
}

func TestProcessorLabel(t *testing.T) {
	assert.Equal(t, "fairlife - 40", processorLabel("fairlife", "40"))
	assert.Equal(t, "fairlife", processorLabel("fairlife", ""))
	assert.Equal(t, "", processorLabel("", "40"))
}

func TestParseUpstreamTime(t *testing.T) {
	assert.Nil(t, parseUpstreamTime(""))
	assert.Nil(t, parseUpstreamTime("not-a-time"))

	got := parseUpstreamTime("2026-03-15T08:00:00-07:00")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 3, 15, 15, 0, 0, 0, time.UTC), *got)

	naive := parseUpstreamTime("2026-03-15T08:00:00")
	require.NotNil(t, naive)
	assert.Equal(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), *naive)
}

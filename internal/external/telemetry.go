package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"milkrun/internal/types"
)

// TelemetryClientConfig holds the configuration for creating a TelemetryClient.
type TelemetryClientConfig struct {
	APIToken string
	BaseURL  string
	Logger   *slog.Logger
}

// TelemetryClient fetches dispatched routes and live vehicle positions from
// the fleet telemetry platform.
type TelemetryClient struct {
	base     *BaseClient
	apiToken string
	baseURL  string
	logger   *slog.Logger
}

func NewTelemetryClient(httpClient *http.Client, cfg TelemetryClientConfig, opts ...BaseClientOption) *TelemetryClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryClient{
		base:     NewBaseClient(httpClient, "telemetry", types.ErrCodeUpstreamTelemetry, opts...),
		apiToken: cfg.APIToken,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   logger,
	}
}

type telemetryStop struct {
	Name                   string `json:"name"`
	State                  string `json:"state"`
	ScheduledArrivalTime   string `json:"scheduledArrivalTime"`
	ScheduledDepartureTime string `json:"scheduledDepartureTime"`
	ActualArrivalTime      string `json:"actualArrivalTime"`
	ActualDepartureTime    string `json:"actualDepartureTime"`
}

type telemetryRoute struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver struct {
		Name string `json:"name"`
	} `json:"driver"`
	Vehicle struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"vehicle"`
	Stops                []telemetryStop `json:"stops"`
	ActualRouteStartTime string          `json:"actualRouteStartTime"`
}

type routesPage struct {
	Data       []telemetryRoute `json:"data"`
	Pagination struct {
		EndCursor   string `json:"endCursor"`
		HasNextPage bool   `json:"hasNextPage"`
	} `json:"pagination"`
}

// ListRoutes fetches all routes whose window overlaps [start, end), walking
// cursor pagination to exhaustion. Times are sent in UTC.
func (c *TelemetryClient) ListRoutes(ctx context.Context, start, end time.Time) ([]types.TelemetryRoute, error) {
	var out []types.TelemetryRoute
	cursor := ""
	for {
		q := url.Values{}
		q.Set("startTime", start.UTC().Format(time.RFC3339))
		q.Set("endTime", end.UTC().Format(time.RFC3339))
		if cursor != "" {
			q.Set("after", cursor)
		}

		var page routesPage
		if err := c.getJSON(ctx, "/fleet/routes", q, &page); err != nil {
			return nil, err
		}

		for _, rec := range page.Data {
			out = append(out, c.normalizeRoute(ctx, rec))
		}

		if !page.Pagination.HasNextPage {
			break
		}
		cursor = page.Pagination.EndCursor
	}

	c.logger.InfoContext(ctx, "fetched telemetry routes",
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"count", len(out),
	)
	return out, nil
}

func (c *TelemetryClient) normalizeRoute(ctx context.Context, rec telemetryRoute) types.TelemetryRoute {
	stops := make([]types.Stop, 0, len(rec.Stops))
	for _, s := range rec.Stops {
		stops = append(stops, types.Stop{
			Name:               s.Name,
			State:              parseStopState(s.State),
			ScheduledArrival:   parseUpstreamTime(s.ScheduledArrivalTime),
			ScheduledDeparture: parseUpstreamTime(s.ScheduledDepartureTime),
			ActualArrival:      parseUpstreamTime(s.ActualArrivalTime),
			ActualDeparture:    parseUpstreamTime(s.ActualDepartureTime),
		})
	}
	return types.TelemetryRoute{
		RouteID:        rec.ID,
		RawName:        rec.Name,
		DriverName:     rec.Driver.Name,
		VehicleID:      rec.Vehicle.ID,
		VehicleName:    rec.Vehicle.Name,
		Stops:          stops,
		RouteStartTime: parseUpstreamTime(rec.ActualRouteStartTime),
	}
}

type vehicleStatsPage struct {
	Data []struct {
		ID  string `json:"id"`
		GPS struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Time      string  `json:"time"`
		} `json:"gps"`
		ECUSpeedMPH struct {
			Value float64 `json:"value"`
			Time  string  `json:"time"`
		} `json:"ecuSpeedMph"`
	} `json:"data"`
}

// GetVehiclePosition fetches the latest GPS fix and ECU speed for one
// vehicle. A missing speed reading yields a nil SpeedMPH, not an error.
func (c *TelemetryClient) GetVehiclePosition(ctx context.Context, vehicleID string) (*types.VehiclePosition, error) {
	q := url.Values{}
	q.Set("types", "gps,ecuSpeedMph")
	q.Set("vehicleIds", vehicleID)

	var page vehicleStatsPage
	if err := c.getJSON(ctx, "/fleet/vehicles/stats", q, &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamTelemetry,
			fmt.Sprintf("no stats returned for vehicle %s", vehicleID),
			nil,
		)
	}

	rec := page.Data[0]
	recordedAt := time.Now().UTC()
	if t := parseUpstreamTime(rec.GPS.Time); t != nil {
		recordedAt = *t
	}

	pos := &types.VehiclePosition{
		Coordinates: types.Coordinates{Lat: rec.GPS.Latitude, Lon: rec.GPS.Longitude},
		RecordedAt:  recordedAt,
	}
	if rec.ECUSpeedMPH.Time != "" {
		speed := rec.ECUSpeedMPH.Value
		pos.SpeedMPH = &speed
	}
	return pos, nil
}

func (c *TelemetryClient) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create telemetry request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.NewAppError(
			types.ErrCodeUpstreamTelemetry,
			fmt.Sprintf("telemetry API returned %d for %s", resp.StatusCode, path),
			nil,
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamTelemetry, "failed to decode telemetry response", err)
	}
	return nil
}

// parseStopState normalizes the platform's stop state strings. Unknown or
// pending states map to the zero state.
func parseStopState(s string) types.StopState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en route", "enroute":
		return types.StopStateEnRoute
	case "arrived":
		return types.StopStateArrived
	case "departed":
		return types.StopStateDeparted
	case "skipped":
		return types.StopStateSkipped
	default:
		return types.StopStateUnknown
	}
}

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

// RoutingClientConfig holds the configuration for creating a RoutingClient.
type RoutingClientConfig struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// RoutingClient computes traffic-aware drive times between two coordinates
// using the routing provider's calculate-route endpoint.
type RoutingClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

func NewRoutingClient(httpClient *http.Client, cfg RoutingClientConfig, opts ...BaseClientOption) *RoutingClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoutingClient{
		base:    NewBaseClient(httpClient, "routing", types.ErrCodeUpstreamRouting, opts...),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

type calculateRouteResponse struct {
	Routes []struct {
		Summary struct {
			TravelTimeInSeconds int     `json:"travelTimeInSeconds"`
			LengthInMeters      float64 `json:"lengthInMeters"`
		} `json:"summary"`
	} `json:"routes"`
}

// TravelTime returns the current-traffic drive time from origin to dest.
func (c *RoutingClient) TravelTime(ctx context.Context, origin, dest types.Coordinates) (time.Duration, error) {
	locs := fmt.Sprintf("%f,%f:%f,%f", origin.Lat, origin.Lon, dest.Lat, dest.Lon)
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("traffic", "true")

	reqURL := fmt.Sprintf("%s/routing/1/calculateRoute/%s/json?%s", c.baseURL, url.PathEscape(locs), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create routing request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, types.NewAppError(
			types.ErrCodeUpstreamRouting,
			fmt.Sprintf("routing API returned %d", resp.StatusCode),
			nil,
		)
	}

	var body calculateRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamRouting, "failed to decode routing response", err)
	}
	if len(body.Routes) == 0 {
		return 0, types.NewAppError(types.ErrCodeUpstreamRouting, "routing response contained no routes", nil)
	}

	d := time.Duration(body.Routes[0].Summary.TravelTimeInSeconds) * time.Second
	c.logger.DebugContext(ctx, "computed travel time",
		"origin_lat", origin.Lat,
		"origin_lon", origin.Lon,
		"dest_lat", dest.Lat,
		"dest_lon", dest.Lon,
		"travel_time", d.String(),
	)
	return d, nil
}

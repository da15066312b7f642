package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"milkrun/internal/types"
)

// LogisticsClientConfig holds the configuration for creating a LogisticsClient.
type LogisticsClientConfig struct {
	APIKey        string
	BaseURL       string
	CarrierNumber string
	// RouteProducers resolves schedule route numbers to producer names.
	RouteProducers map[int]string
	Logger         *slog.Logger
}

// LogisticsClient fetches pickup and schedule records from the logistics
// platform and normalizes both into DeliveryCandidates. All fetches are
// scoped to one carrier number.
type LogisticsClient struct {
	base      *BaseClient
	apiKey    string
	baseURL   string
	carrier   string
	producers map[int]string
	logger    *slog.Logger
}

// NewLogisticsClient creates a LogisticsClient. The httpClient timeout
// bounds each individual fetch.
func NewLogisticsClient(httpClient *http.Client, cfg LogisticsClientConfig, opts ...BaseClientOption) *LogisticsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LogisticsClient{
		base:      NewBaseClient(httpClient, "logistics", types.ErrCodeUpstreamLogistics, opts...),
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		carrier:   cfg.CarrierNumber,
		producers: cfg.RouteProducers,
		logger:    logger,
	}
}

// pickupRecord is the wire shape of one load-summary entry.
// Numeric-looking fields arrive inconsistently typed, hence json.Number.
type pickupRecord struct {
	InvoiceNumber     string      `json:"invoice_number"`
	RouteNumber       json.Number `json:"route_number"`
	ProducerName      string      `json:"producer_name"`
	ProducerNumber    json.Number `json:"producer_number"`
	ProducerTank      string      `json:"producer_tank"`
	ProcessorName     string      `json:"processor_name"`
	ProcessorNumber   json.Number `json:"processor_number"`
	HaulerNumber      json.Number `json:"hauler_number"`
	TruckNumber       string      `json:"truck_number"`
	Driver            string      `json:"driver"`
	PickupDate        string      `json:"pickup_date"`
	DropoffDate       string      `json:"dropoff_date"`
	GeofenceEnterTime string      `json:"geofence_enter_time"`
}

// scheduleRecord is the wire shape of one schedules entry. Unlike pickups,
// the hauler is nested and its number is a string.
type scheduleRecord struct {
	LTNumber  string `json:"lt_number"`
	RouteName string `json:"route_name"`
	StartDate string `json:"start_date"`
	Driver    string `json:"driver"`
	Truck     string `json:"truck"`
	Tank      string `json:"tank"`
	Hauler    struct {
		HaulerNumber string `json:"hauler_number"`
		Name         string `json:"name"`
	} `json:"hauler"`
	DestinationProcessor struct {
		Name          string `json:"name"`
		LicenseNumber string `json:"license_number"`
	} `json:"destination_processor"`
}

// FetchCandidates returns the union of pickup and schedule candidates for
// the business date. The two sub-fetches degrade independently: if exactly
// one fails, the other's results are returned with degraded=true; an error
// is returned only when both fail.
func (c *LogisticsClient) FetchCandidates(ctx context.Context, date types.BusinessDate) (candidates []types.DeliveryCandidate, degraded bool, err error) {
	pickups, pickupErr := c.ListPickups(ctx, date)
	schedules, scheduleErr := c.ListSchedules(ctx, date)

	if pickupErr != nil && scheduleErr != nil {
		return nil, true, types.NewAppError(
			types.ErrCodeUpstreamLogistics,
			fmt.Sprintf("both logistics fetches failed for %s", date),
			fmt.Errorf("pickups: %v; schedules: %w", pickupErr, scheduleErr),
		)
	}
	if pickupErr != nil {
		c.logger.WarnContext(ctx, "pickup fetch failed, continuing with schedules only",
			"business_date", date.String(),
			"error", pickupErr,
		)
		degraded = true
	}
	if scheduleErr != nil {
		c.logger.WarnContext(ctx, "schedule fetch failed, continuing with pickups only",
			"business_date", date.String(),
			"error", scheduleErr,
		)
		degraded = true
	}

	candidates = append(candidates, pickups...)
	candidates = append(candidates, schedules...)
	return candidates, degraded, nil
}

// ListPickups fetches the load-summary feed (in-progress and completed
// hauls) for the date, filtered to this client's carrier. Malformed records
// are dropped with a warning, never fatal.
func (c *LogisticsClient) ListPickups(ctx context.Context, date types.BusinessDate) ([]types.DeliveryCandidate, error) {
	var records []pickupRecord
	if err := c.getJSON(ctx, "/pickups/load-summary", date, &records); err != nil {
		return nil, err
	}

	var out []types.DeliveryCandidate
	for _, rec := range records {
		if rec.HaulerNumber.String() != c.carrier {
			continue
		}
		if rec.InvoiceNumber == "" {
			c.logger.WarnContext(ctx, "dropping pickup without invoice number",
				"code", string(types.ErrCodeMalformedRecord),
				"producer", rec.ProducerName,
				"route_number", rec.RouteNumber.String(),
			)
			continue
		}

		out = append(out, types.DeliveryCandidate{
			DeliveryID:            rec.InvoiceNumber,
			RouteNumber:           rec.RouteNumber.String(),
			ProducerName:          rec.ProducerName,
			TankLabel:             rec.ProducerTank,
			TruckLabel:            rec.TruckNumber,
			DriverName:            rec.Driver,
			ProcessorName:         processorLabel(rec.ProcessorName, rec.ProcessorNumber.String()),
			FairlifeNumber:        fairlifeNumber(rec.ProcessorName, rec.ProcessorNumber.String(), rec.ProducerNumber.String()),
			Kind:                  types.KindPickup,
			ScheduledOrPickupTime: parseUpstreamTime(rec.PickupDate),
			DropoffTime:           parseUpstreamTime(rec.DropoffDate),
			GeofenceEnterTime:     parseUpstreamTime(rec.GeofenceEnterTime),
		})
	}

	c.logger.InfoContext(ctx, "fetched pickups",
		"business_date", date.String(),
		"total", len(records),
		"carrier_matched", len(out),
	)
	return out, nil
}

// ListSchedules fetches future/assigned hauls for the date. The producer is
// resolved from the numeric route name via the configured table; unresolved
// numbers get a placeholder name rather than failing the fetch.
func (c *LogisticsClient) ListSchedules(ctx context.Context, date types.BusinessDate) ([]types.DeliveryCandidate, error) {
	var records []scheduleRecord
	if err := c.getJSON(ctx, "/schedules", date, &records); err != nil {
		return nil, err
	}

	var out []types.DeliveryCandidate
	for _, rec := range records {
		if rec.Hauler.HaulerNumber != c.carrier {
			continue
		}
		if strings.TrimSpace(rec.RouteName) == "" {
			c.logger.WarnContext(ctx, "dropping schedule with empty route name",
				"code", string(types.ErrCodeMalformedRecord),
				"lt_number", rec.LTNumber,
			)
			continue
		}
		if rec.LTNumber == "" {
			c.logger.WarnContext(ctx, "dropping schedule without LT number",
				"code", string(types.ErrCodeMalformedRecord),
				"route_name", rec.RouteName,
			)
			continue
		}

		out = append(out, types.DeliveryCandidate{
			DeliveryID:            rec.LTNumber,
			RouteNumber:           rec.RouteName,
			ProducerName:          c.producerForRoute(rec.RouteName),
			TankLabel:             rec.Tank,
			TruckLabel:            rec.Truck,
			DriverName:            rec.Driver,
			ProcessorName:         processorLabel(rec.DestinationProcessor.Name, rec.DestinationProcessor.LicenseNumber),
			FairlifeNumber:        fairlifeNumber(rec.DestinationProcessor.Name, rec.DestinationProcessor.LicenseNumber, strings.TrimSpace(rec.RouteName)),
			Kind:                  types.KindSchedule,
			ScheduledOrPickupTime: parseUpstreamTime(rec.StartDate),
		})
	}

	c.logger.InfoContext(ctx, "fetched schedules",
		"business_date", date.String(),
		"total", len(records),
		"carrier_matched", len(out),
	)
	return out, nil
}

// producerForRoute resolves a schedule's route name to a producer name.
func (c *LogisticsClient) producerForRoute(routeName string) string {
	trimmed := strings.TrimSpace(routeName)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Sprintf("Unknown Route (%s)", trimmed)
	}
	if name, ok := c.producers[n]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Route (%d)", n)
}

// getJSON performs a date-ranged GET against the logistics API and decodes
// the response array into v.
func (c *LogisticsClient) getJSON(ctx context.Context, path string, date types.BusinessDate, v any) error {
	q := url.Values{}
	q.Set("start_date", date.String())
	q.Set("end_date", date.String())

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create logistics request", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.NewAppError(
			types.ErrCodeUpstreamLogistics,
			fmt.Sprintf("logistics API returned %d for %s", resp.StatusCode, path),
			nil,
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamLogistics, "failed to decode logistics response", err)
	}
	return nil
}

// fairlifeNumber derives the receiving plant's load number for deliveries
// bound for Fairlife, identified by processor name or plant license 40:
// "10" + plant number + producer/route number. Every other processor gets
// an empty string.
func fairlifeNumber(processorName, plantNumber, loadSuffix string) string {
	if !strings.Contains(strings.ToLower(processorName), "fairlife") && plantNumber != "40" {
		return ""
	}
	return "10" + plantNumber + loadSuffix
}

// processorLabel joins a processor name with its license/plant number the
// way dispatchers refer to it ("fairlife - 40").
func processorLabel(name, number string) string {
	if name == "" {
		return ""
	}
	if number == "" {
		return name
	}
	return name + " - " + number
}

// parseUpstreamTime parses the timestamp formats both platforms emit:
// RFC3339 with or without fractional seconds, or a bare local-naive form
// treated as UTC. Empty or unparseable input yields nil; timestamp quality
// problems degrade a single record, never the fetch.
func parseUpstreamTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

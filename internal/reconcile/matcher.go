package reconcile

import (
	"context"
	"log/slog"

	"milkrun/internal/types"
)

// Match pairs a delivery candidate with its telemetry route, when one
// exists. Candidates without a route go through the legacy fallback path.
type Match struct {
	Candidate types.DeliveryCandidate
	Route     *types.TelemetryRoute
}

// MatchRoutes joins candidates to routes by the delivery ID embedded in
// each route's name. The first route seen for an ID wins; re-dispatched
// duplicates are logged and ignored rather than disambiguated. Routes
// without an extractable ID, or whose ID matches no candidate, are dropped.
func MatchRoutes(ctx context.Context, logger *slog.Logger, candidates []types.DeliveryCandidate, routes []types.TelemetryRoute) []Match {
	byID := make(map[string]*types.TelemetryRoute, len(routes))
	for i := range routes {
		id, ok := ExtractDeliveryID(routes[i].RawName)
		if !ok {
			continue
		}
		if prior, dup := byID[id]; dup {
			logger.WarnContext(ctx, "duplicate telemetry route for delivery, keeping first",
				"delivery_id", id,
				"kept_route_id", prior.RouteID,
				"ignored_route_id", routes[i].RouteID,
			)
			continue
		}
		byID[id] = &routes[i]
	}

	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Match{Candidate: c, Route: byID[c.DeliveryID]})
	}
	return out
}

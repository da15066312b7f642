package reconcile

import (
	"strings"

	"milkrun/internal/types"
)

// StopRole is the classified role of one stop within a route.
type StopRole string

const (
	RoleDepot          StopRole = "depot"
	RolePickupLocation StopRole = "pickup_location"
)

// StopRule is one ordered classification predicate. The rule list is data:
// each rule can be exercised on its own, and changing the heuristics means
// editing the list, not the control flow.
type StopRule struct {
	Role    StopRole
	Matches func(c *Classifier, index int, stop types.Stop) bool
}

// defaultStopRules assigns Depot to the first stop or to a pure origin (a
// scheduled departure with no scheduled arrival), and PickupLocation to a
// fully scheduled stop whose name carries a producer keyword. Downstream
// processor stops also have full schedules but no producer keyword, so
// they fall through.
var defaultStopRules = []StopRule{
	{
		Role: RoleDepot,
		Matches: func(_ *Classifier, index int, stop types.Stop) bool {
			if index == 0 {
				return true
			}
			return stop.ScheduledDeparture != nil && stop.ScheduledArrival == nil
		},
	},
	{
		Role: RolePickupLocation,
		Matches: func(c *Classifier, _ int, stop types.Stop) bool {
			if stop.ScheduledArrival == nil || stop.ScheduledDeparture == nil {
				return false
			}
			return c.nameHasKeyword(stop.Name)
		},
	},
}

// Classification holds the at-most-one stop per role that the classifier
// found. A nil Pickup means the route is unclassifiable and the delivery
// falls back to logistics-only status.
type Classification struct {
	Depot  *types.Stop
	Pickup *types.Stop
}

// Classifier labels a route's stops with Depot and PickupLocation roles.
type Classifier struct {
	keywords []string
	rules    []StopRule
}

// NewClassifier builds a classifier around a producer keyword list. The
// keywords identify pickup locations by name; matching is case-insensitive.
func NewClassifier(keywords []string) *Classifier {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Classifier{keywords: lowered, rules: defaultStopRules}
}

// Classify walks the stops in visit order and assigns each role to the
// first stop that satisfies its rule. Later matches for an already
// assigned role are ignored; the engine's responsibility ends at pickup
// completion, so the downstream processor stop is deliberately skipped.
// Roles are assigned independently: a single stop that satisfies both
// rules takes both, and an assigned depot is never overwritten by a
// later pure-origin stop.
func (c *Classifier) Classify(stops []types.Stop) Classification {
	var out Classification
	for i := range stops {
		for _, rule := range c.rules {
			if !rule.Matches(c, i, stops[i]) {
				continue
			}
			switch rule.Role {
			case RoleDepot:
				if out.Depot == nil {
					out.Depot = &stops[i]
				}
			case RolePickupLocation:
				if out.Pickup == nil {
					out.Pickup = &stops[i]
				}
			}
		}
	}
	return out
}

func (c *Classifier) nameHasKeyword(name string) bool {
	lowered := strings.ToLower(name)
	for _, k := range c.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

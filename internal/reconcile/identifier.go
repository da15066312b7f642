// Package reconcile implements the route status reconciliation engine: it
// joins logistics delivery candidates to telemetry routes by a shared
// reference code, classifies each route's stops, derives a lifecycle status
// from the available timestamps, and computes a traffic-aware ETA for
// deliveries still on the road. Status is a pure function of the run's
// inputs; nothing is carried forward between runs.
package reconcile

import (
	"regexp"
	"strconv"
)

var (
	// deliveryIDPattern matches the LT reference code dispatchers embed in
	// telemetry route names, e.g. "ABC12345 Shamrock Farms Tank 2".
	deliveryIDPattern = regexp.MustCompile(`[A-Z]{3}[0-9]{5}`)

	tankPattern = regexp.MustCompile(`[Tt]ank\s*(\d+)`)
)

// ExtractDeliveryID pulls the first delivery reference code out of a
// telemetry route's free-text name. Routes whose names carry no code have
// no delivery identity and cannot be matched.
func ExtractDeliveryID(rawName string) (string, bool) {
	id := deliveryIDPattern.FindString(rawName)
	return id, id != ""
}

// ExtractTankNumber pulls an embedded tank number ("Tank 2") out of a
// telemetry route's free-text name.
func ExtractTankNumber(rawName string) (int, bool) {
	m := tankPattern.FindStringSubmatch(rawName)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

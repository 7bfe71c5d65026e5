package delivery

import (
	"fmt"

	"pos-and-delivery/internal/models"
	"pos-and-delivery/pkg/geo"
)

// defaultAvgSpeedKmh is the assumed door-to-door speed used to turn
// distance into a duration estimate when the caller does not supply one.
const defaultAvgSpeedKmh = 30.0

// SequenceOptions tunes the nearest-neighbor ordering.
type SequenceOptions struct {
	AvgSpeedKmh     float64
	RespectPriority bool
}

// sequenceStops orders stops by greedy nearest-neighbor over haversine
// distance. This is a heuristic, not an optimal TSP solver: it trades
// optimality for O(n²) simplicity, which is fine for a single driver's
// active list.
//
// With RespectPriority the comparison distance is divided by the stop's
// priority (default 1), so more urgent stops win at similar range, but the
// actual hop distance is what accumulates into the running total.
//
// Tie-break is stable: at equal adjusted distance the stop that appears
// first in the input wins, which keeps the output deterministic.
func sequenceStops(startLat, startLng float64, stops []models.DeliveryStop, opts SequenceOptions) (*models.RoutePlan, error) {
	if !geo.ValidCoordinate(startLat, startLng) {
		return nil, fmt.Errorf("sequence: start (%f, %f): %w", startLat, startLng, models.ErrInvalidCoordinates)
	}
	for _, s := range stops {
		if !geo.ValidCoordinate(s.Latitude, s.Longitude) {
			return nil, fmt.Errorf("sequence: stop %s (%f, %f): %w", s.ID, s.Latitude, s.Longitude, models.ErrInvalidCoordinates)
		}
	}

	speed := opts.AvgSpeedKmh
	if speed <= 0 {
		speed = defaultAvgSpeedKmh
	}

	plan := &models.RoutePlan{
		Stops:  make([]models.DeliveryStop, 0, len(stops)),
		Source: models.RouteSourceLocal,
	}
	if len(stops) == 0 {
		return plan, nil
	}

	remaining := make([]models.DeliveryStop, len(stops))
	copy(remaining, stops)

	curLat, curLng := startLat, startLng
	for len(remaining) > 0 {
		best := 0
		bestAdjusted := adjustedDistance(curLat, curLng, remaining[0], opts.RespectPriority)
		for i := 1; i < len(remaining); i++ {
			if d := adjustedDistance(curLat, curLng, remaining[i], opts.RespectPriority); d < bestAdjusted {
				best = i
				bestAdjusted = d
			}
		}

		next := remaining[best]
		plan.TotalDistanceKm += geo.HaversineKm(curLat, curLng, next.Latitude, next.Longitude)
		plan.Stops = append(plan.Stops, next)
		curLat, curLng = next.Latitude, next.Longitude
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	plan.EstimatedDurationMinutes = plan.TotalDistanceKm / speed * 60
	return plan, nil
}

// adjustedDistance is the comparison metric for stop selection. Dividing by
// priority means a priority-5 stop competes as if it were five times
// closer.
func adjustedDistance(fromLat, fromLng float64, stop models.DeliveryStop, respectPriority bool) float64 {
	d := geo.HaversineKm(fromLat, fromLng, stop.Latitude, stop.Longitude)
	if !respectPriority {
		return d
	}
	priority := stop.Priority
	if priority < 1 {
		priority = 1
	}
	return d / float64(priority)
}

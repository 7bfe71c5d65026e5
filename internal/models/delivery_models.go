package models

import "time"

// DeliveryStop is one delivery destination fed to the route sequencer. The
// sequencer consumes a snapshot of pending orders and returns an ordering;
// it does not own or persist the underlying order records.
type DeliveryStop struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Priority is optional, 1-5, higher means more urgent. Zero is treated
	// as the default priority 1.
	Priority int    `json:"priority,omitempty"`
	Address  string `json:"address,omitempty"`
}

// RoutePlan is the sequencer output: the visiting order plus aggregate
// distance and duration estimates.
type RoutePlan struct {
	Stops                    []DeliveryStop `json:"stops"`
	TotalDistanceKm          float64        `json:"total_distance_km"`
	EstimatedDurationMinutes float64        `json:"estimated_duration_minutes"`
	// Source records whether the plan came from the external optimizer or
	// the local nearest-neighbor heuristic.
	Source string `json:"source"`
}

// Route plan sources.
const (
	RouteSourceLocal    = "local"
	RouteSourceExternal = "external"
)

// SequenceRequest is the driver-app request to order the active stops.
type SequenceRequest struct {
	StartLatitude   float64        `json:"start_latitude"`
	StartLongitude  float64        `json:"start_longitude"`
	Stops           []DeliveryStop `json:"stops" validate:"required"`
	AvgSpeedKmh     float64        `json:"avg_speed_kmh,omitempty"`
	RespectPriority bool           `json:"respect_priority,omitempty"`
	UseOptimizer    bool           `json:"use_optimizer,omitempty"`
}

// DriverPosition is a single streamed GPS fix from the driver's device.
type DriverPosition struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackingEvent is a persisted position report for an order in transit.
type TrackingEvent struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Arrived   bool      `json:"arrived"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackingEventRequest is the body of a position report.
type TrackingEventRequest struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

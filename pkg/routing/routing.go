// Package routing implements the client for the external trip-optimizer
// service (OSRM-style trip endpoint). The delivery module treats it as a
// best-effort enhancement: any failure falls back to the local heuristic.
package routing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientInterface defines the contract the delivery service depends on.
type ClientInterface interface {
	Trip(ctx context.Context, waypoints []Waypoint) (*TripResult, error)
}

// Config carries the optimizer endpoint and request bound.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Waypoint is a single coordinate in longitude,latitude order, matching the
// service's wire format.
type Waypoint struct {
	Longitude float64
	Latitude  float64
}

// TripResult is the optimized visiting order over the input waypoints.
// OrderedIndices[i] is the index into the request waypoints of the i-th
// visit; the first waypoint is the fixed start.
type TripResult struct {
	OrderedIndices       []int
	TotalDistanceMeters  float64
	TotalDurationSeconds float64
}

type tripResponse struct {
	Code      string `json:"code"`
	Waypoints []struct {
		WaypointIndex int `json:"waypoint_index"`
	} `json:"waypoints"`
	Trips []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"trips"`
}

// Client calls the optimizer over HTTP.
type Client struct {
	resty *resty.Client
}

// NewClient builds an optimizer client with a bounded request timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	return &Client{resty: rc}
}

// Trip requests an optimized visiting order. The first waypoint is pinned
// as the trip source; the route is open-ended (no return to start).
func (c *Client) Trip(ctx context.Context, waypoints []Waypoint) (*TripResult, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("routing.Trip: need at least 2 waypoints, got %d", len(waypoints))
	}

	coords := make([]string, len(waypoints))
	for i, w := range waypoints {
		coords[i] = fmt.Sprintf("%f,%f", w.Longitude, w.Latitude)
	}

	var out tripResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParam("source", "first").
		SetQueryParam("roundtrip", "false").
		SetResult(&out).
		Get("/trip/v1/driving/" + strings.Join(coords, ";"))
	if err != nil {
		return nil, fmt.Errorf("routing.Trip: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("routing.Trip: optimizer returned %s", resp.Status())
	}
	if out.Code != "Ok" || len(out.Trips) == 0 || len(out.Waypoints) != len(waypoints) {
		return nil, fmt.Errorf("routing.Trip: malformed optimizer response (code=%q)", out.Code)
	}

	result := &TripResult{
		OrderedIndices:       make([]int, len(out.Waypoints)),
		TotalDistanceMeters:  out.Trips[0].Distance,
		TotalDurationSeconds: out.Trips[0].Duration,
	}
	// The response carries, per input waypoint, its position in the
	// optimized trip; invert that into visit order.
	for i, w := range out.Waypoints {
		if w.WaypointIndex < 0 || w.WaypointIndex >= len(waypoints) {
			return nil, fmt.Errorf("routing.Trip: waypoint index %d out of range", w.WaypointIndex)
		}
		result.OrderedIndices[w.WaypointIndex] = i
	}
	return result, nil
}

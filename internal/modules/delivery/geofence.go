package delivery

import (
	"sync"

	"pos-and-delivery/internal/models"
	"pos-and-delivery/pkg/geo"
)

// ArrivalTracker watches a stream of driver positions for one order and
// signals arrival exactly once, the first time the driver comes within the
// geofence radius of the destination. Once arrived, further positions are
// still accepted for display but no second signal is ever emitted.
//
// A tracker with invalid destination coordinates fails safe: it never
// signals arrival and keeps accepting positions.
type ArrivalTracker struct {
	mu       sync.Mutex
	destLat  float64
	destLng  float64
	radiusM  float64
	validDst bool
	arrived  bool
	onArrive func()
	last     *models.DriverPosition
}

// NewArrivalTracker creates a tracker for one order's delivery session.
// onArrive is invoked at most once, while the tracker lock is not held.
func NewArrivalTracker(destLat, destLng, radiusM float64, onArrive func()) *ArrivalTracker {
	if radiusM <= 0 {
		radiusM = 50
	}
	return &ArrivalTracker{
		destLat:  destLat,
		destLng:  destLng,
		radiusM:  radiusM,
		validDst: geo.ValidCoordinate(destLat, destLng),
		onArrive: onArrive,
	}
}

// ValidDestination reports whether the tracker has a usable destination.
func (t *ArrivalTracker) ValidDestination() bool {
	return t.validDst
}

// Observe feeds one position update and reports whether the driver is
// considered arrived after this update. The arrival callback fires on the
// first transition only. Safe for concurrent use.
func (t *ArrivalTracker) Observe(pos models.DriverPosition) bool {
	t.mu.Lock()
	t.last = &pos

	if t.arrived {
		t.mu.Unlock()
		return true
	}
	if !t.validDst || !geo.ValidCoordinate(pos.Latitude, pos.Longitude) {
		t.mu.Unlock()
		return false
	}
	if geo.HaversineMeters(pos.Latitude, pos.Longitude, t.destLat, t.destLng) > t.radiusM {
		t.mu.Unlock()
		return false
	}

	t.arrived = true
	cb := t.onArrive
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Arrived reports whether arrival has been signaled for this session.
func (t *ArrivalTracker) Arrived() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arrived
}

// LastPosition returns the most recent position observed, or nil.
func (t *ArrivalTracker) LastPosition() *models.DriverPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	cp := *t.last
	return &cp
}

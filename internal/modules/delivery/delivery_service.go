package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pos-and-delivery/internal/metrics"
	"pos-and-delivery/internal/models"
	"pos-and-delivery/pkg/routing"
)

// ServiceInterface defines the contract the delivery handlers depend on.
type ServiceInterface interface {
	SequenceRoute(ctx context.Context, req models.SequenceRequest) (*models.RoutePlan, error)
	StartArrivalTracking(orderID string, destLat, destLng float64)
	StopArrivalTracking(orderID string)
	ReportPosition(ctx context.Context, orderID string, req models.TrackingEventRequest) (*models.TrackingEvent, error)
	ListTracking(ctx context.Context, orderID string, limit int) ([]*models.TrackingEvent, error)
}

// Service orders delivery stops and tracks driver positions against each
// order's destination geofence.
type Service struct {
	repo           RepositoryInterface
	router         routing.ClientInterface
	routerTimeout  time.Duration
	geofenceRadius float64
	log            *slog.Logger

	mu       sync.Mutex
	trackers map[string]*ArrivalTracker
}

// NewService creates a new delivery service. router may be nil when no
// external optimizer is configured; sequencing then always uses the local
// heuristic.
func NewService(repo RepositoryInterface, router routing.ClientInterface, routerTimeout time.Duration, geofenceRadiusM float64, log *slog.Logger) *Service {
	if routerTimeout <= 0 {
		routerTimeout = 10 * time.Second
	}
	if geofenceRadiusM <= 0 {
		geofenceRadiusM = 50
	}
	return &Service{
		repo:           repo,
		router:         router,
		routerTimeout:  routerTimeout,
		geofenceRadius: geofenceRadiusM,
		log:            log,
		trackers:       make(map[string]*ArrivalTracker),
	}
}

// SequenceRoute produces a visiting order for the given stops. When the
// request asks for the optimizer and one is configured, the external
// service is tried first; any failure there falls back to the local
// heuristic, so flaky routing never blocks delivery planning.
func (s *Service) SequenceRoute(ctx context.Context, req models.SequenceRequest) (*models.RoutePlan, error) {
	opts := SequenceOptions{
		AvgSpeedKmh:     req.AvgSpeedKmh,
		RespectPriority: req.RespectPriority,
	}

	if req.UseOptimizer && s.router != nil && len(req.Stops) > 0 {
		plan, err := s.sequenceWithOptimizer(ctx, req)
		if err == nil {
			return plan, nil
		}
		metrics.RouteFallbacks.Inc()
		s.log.Warn("trip optimizer unavailable, using local heuristic", "error", err)
	}

	plan, err := sequenceStops(req.StartLatitude, req.StartLongitude, req.Stops, opts)
	if err != nil {
		return nil, fmt.Errorf("service.SequenceRoute: %w", err)
	}
	return plan, nil
}

// sequenceWithOptimizer asks the external trip service for an optimized
// order over [start, stops...]. Input validation still happens locally so
// an invalid stop is rejected rather than silently dropped by the remote.
func (s *Service) sequenceWithOptimizer(ctx context.Context, req models.SequenceRequest) (*models.RoutePlan, error) {
	// Validate by running the local sequencer first; its result is also the
	// fallback the caller will use if the remote call fails.
	if _, err := sequenceStops(req.StartLatitude, req.StartLongitude, req.Stops, SequenceOptions{}); err != nil {
		return nil, err
	}

	waypoints := make([]routing.Waypoint, 0, len(req.Stops)+1)
	waypoints = append(waypoints, routing.Waypoint{Longitude: req.StartLongitude, Latitude: req.StartLatitude})
	for _, st := range req.Stops {
		waypoints = append(waypoints, routing.Waypoint{Longitude: st.Longitude, Latitude: st.Latitude})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.routerTimeout)
	defer cancel()

	trip, err := s.router.Trip(callCtx, waypoints)
	if err != nil {
		return nil, err
	}

	plan := &models.RoutePlan{
		Stops:                    make([]models.DeliveryStop, 0, len(req.Stops)),
		TotalDistanceKm:          trip.TotalDistanceMeters / 1000,
		EstimatedDurationMinutes: trip.TotalDurationSeconds / 60,
		Source:                   models.RouteSourceExternal,
	}
	for _, idx := range trip.OrderedIndices {
		if idx == 0 {
			continue // the fixed start waypoint
		}
		if idx < 1 || idx > len(req.Stops) {
			return nil, fmt.Errorf("optimizer returned waypoint index %d out of range", idx)
		}
		plan.Stops = append(plan.Stops, req.Stops[idx-1])
	}
	if len(plan.Stops) != len(req.Stops) {
		return nil, fmt.Errorf("optimizer returned %d stops, want %d", len(plan.Stops), len(req.Stops))
	}
	return plan, nil
}

// StartArrivalTracking opens a geofence session for an order. An invalid
// destination is accepted but can never arrive; this is surfaced as a
// warning rather than blocking position intake.
func (s *Service) StartArrivalTracking(orderID string, destLat, destLng float64) {
	logger := s.log
	tracker := NewArrivalTracker(destLat, destLng, s.geofenceRadius, func() {
		logger.Info("driver arrived at destination", "order_id", orderID)
	})
	if !tracker.ValidDestination() {
		s.log.Warn("tracking started with invalid destination, arrival detection disabled",
			"order_id", orderID, "lat", destLat, "lng", destLng)
	}

	s.mu.Lock()
	s.trackers[orderID] = tracker
	s.mu.Unlock()
}

// StopArrivalTracking closes the geofence session for an order.
func (s *Service) StopArrivalTracking(orderID string) {
	s.mu.Lock()
	delete(s.trackers, orderID)
	s.mu.Unlock()
}

// ReportPosition persists a driver position report and, when a geofence
// session is open for the order, checks it for arrival. The first position
// inside the radius marks the stored event as the arrival.
func (s *Service) ReportPosition(ctx context.Context, orderID string, req models.TrackingEventRequest) (*models.TrackingEvent, error) {
	pos := models.DriverPosition{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	tracker := s.trackers[orderID]
	s.mu.Unlock()

	arrived := false
	if tracker != nil {
		already := tracker.Arrived()
		arrived = tracker.Observe(pos) && !already
	}

	ev := &models.TrackingEvent{
		OrderID:   orderID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Arrived:   arrived,
	}
	if err := s.repo.CreateTrackingEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("service.ReportPosition: %w", err)
	}
	return ev, nil
}

// ListTracking returns the recent position history for an order.
func (s *Service) ListTracking(ctx context.Context, orderID string, limit int) ([]*models.TrackingEvent, error) {
	return s.repo.ListTrackingEvents(ctx, orderID, limit)
}

package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"pos-and-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for route sequencing and delivery
// tracking.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
}

// NewHandler creates a new delivery handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the delivery routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/deliveries/sequence", h.SequenceRoute)
	g.POST("/deliveries/:orderId/tracking", h.StartTracking)
	g.DELETE("/deliveries/:orderId/tracking", h.StopTracking)
	g.POST("/deliveries/:orderId/track", h.ReportPosition)
	g.GET("/deliveries/:orderId/track", h.GetTracking)
}

// SequenceRoute orders the driver's active stops for visiting.
func (h *Handler) SequenceRoute(c echo.Context) error {
	var req models.SequenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	plan, err := h.svc.SequenceRoute(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCoordinates) || errors.Is(err, models.ErrInvalidInput) {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
		}
		c.Logger().Error("Handler.SequenceRoute: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to sequence route"})
	}
	return c.JSON(http.StatusOK, plan)
}

// startTrackingRequest opens a geofence session around the destination.
type startTrackingRequest struct {
	DestinationLatitude  float64 `json:"destination_latitude"`
	DestinationLongitude float64 `json:"destination_longitude"`
}

// StartTracking opens arrival detection for an order.
func (h *Handler) StartTracking(c echo.Context) error {
	var req startTrackingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	h.svc.StartArrivalTracking(c.Param("orderId"), req.DestinationLatitude, req.DestinationLongitude)
	return c.NoContent(http.StatusNoContent)
}

// StopTracking closes the arrival-detection session for an order.
func (h *Handler) StopTracking(c echo.Context) error {
	h.svc.StopArrivalTracking(c.Param("orderId"))
	return c.NoContent(http.StatusNoContent)
}

// ReportPosition ingests one driver position fix.
func (h *Handler) ReportPosition(c echo.Context) error {
	var req models.TrackingEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}

	ev, err := h.svc.ReportPosition(c.Request().Context(), c.Param("orderId"), req)
	if err != nil {
		c.Logger().Error("Handler.ReportPosition: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to record position"})
	}
	return c.JSON(http.StatusCreated, ev)
}

// GetTracking returns the recent position history for an order.
func (h *Handler) GetTracking(c echo.Context) error {
	limit := 100
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	events, err := h.svc.ListTracking(c.Request().Context(), c.Param("orderId"), limit)
	if err != nil {
		c.Logger().Error("Handler.GetTracking: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve tracking"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events, "total": len(events)})
}

package payments

import (
	"errors"
	"net/http"

	"pos-and-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for payments and receipts.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
}

// NewHandler creates a new payments handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the payment routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/payments", h.InitiatePayment)
	g.POST("/payments/direct", h.CompleteDirect)
	g.POST("/payments/callback", h.GatewayCallback)
	g.GET("/payments/:paymentId", h.GetPayment)
	g.GET("/payments/:paymentId/receipt", h.GetReceipt)
	g.GET("/orders/:orderId/payments", h.ListOrderPayments)
}

// InitiatePayment starts a payment for an order. For mobile money this
// pushes the charge prompt to the customer's phone and returns the prompt
// text alongside the payment id.
func (h *Handler) InitiatePayment(c echo.Context) error {
	var req models.InitiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	resp, err := h.svc.InitiatePayment(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidPhoneNumber):
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
		case errors.Is(err, models.ErrConflict):
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "A payment is already processing for this order"})
		}
		c.Logger().Error("Handler.InitiatePayment: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to initiate payment"})
	}

	// A gateway rejection is a domain outcome, not a transport error: the
	// payment record is terminal-failed and staff read the reason.
	if resp.Status == models.StatusFailed {
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

// CompleteDirect records an in-person payment captured by staff. A receipt
// failure is reported as partial success: payment recorded, receipt
// pending.
func (h *Handler) CompleteDirect(c echo.Context) error {
	var req models.CompleteDirectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	result, err := h.svc.CompletePaymentDirect(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
		}
		c.Logger().Error("Handler.CompleteDirect: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to record payment"})
	}

	if result.ReceiptErr != nil {
		return c.JSON(http.StatusCreated, map[string]interface{}{
			"payment":         result.Payment,
			"receipt_id":      nil,
			"receipt_pending": true,
		})
	}
	return c.JSON(http.StatusCreated, result)
}

// callbackAck is the acknowledgement body the provider expects. Always
// returned with 200 so the provider does not endlessly retry a callback it
// already delivered.
type callbackAck struct {
	ResultCode        int    `json:"result_code"`
	ResultDescription string `json:"result_description"`
}

// GatewayCallback receives the asynchronous charge result from the
// mobile-money provider.
func (h *Handler) GatewayCallback(c echo.Context) error {
	var cb models.GatewayCallback
	if err := c.Bind(&cb); err != nil {
		// Unknown-shaped payload; acknowledge so the provider stops
		// retrying, log for investigation.
		c.Logger().Warn("Handler.GatewayCallback: unparseable callback: ", err)
		return c.JSON(http.StatusOK, callbackAck{ResultCode: 0, ResultDescription: "Accepted"})
	}

	if _, err := h.svc.ReconcileCallback(c.Request().Context(), cb); err != nil {
		// Internal processing failures are never surfaced to the provider.
		c.Logger().Error("Handler.GatewayCallback: ", err)
	}
	return c.JSON(http.StatusOK, callbackAck{ResultCode: 0, ResultDescription: "Accepted"})
}

// GetPayment returns a single payment by id.
func (h *Handler) GetPayment(c echo.Context) error {
	p, err := h.svc.GetPayment(c.Request().Context(), c.Param("paymentId"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Payment not found"})
		}
		c.Logger().Error("Handler.GetPayment: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve payment"})
	}
	return c.JSON(http.StatusOK, p)
}

// GetReceipt returns the receipt issued for a payment.
func (h *Handler) GetReceipt(c echo.Context) error {
	rec, err := h.svc.GetReceipt(c.Request().Context(), c.Param("paymentId"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Receipt not found"})
		}
		c.Logger().Error("Handler.GetReceipt: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve receipt"})
	}
	return c.JSON(http.StatusOK, rec)
}

// ListOrderPayments returns all payment attempts against an order.
func (h *Handler) ListOrderPayments(c echo.Context) error {
	list, err := h.svc.ListOrderPayments(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		c.Logger().Error("Handler.ListOrderPayments: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to list payments"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payments": list, "total": len(list)})
}

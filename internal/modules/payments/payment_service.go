package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pos-and-delivery/internal/metrics"
	"pos-and-delivery/internal/models"
	"pos-and-delivery/pkg/gateway"

	"github.com/google/uuid"
)

// ServiceInterface defines the contract for the payments service.
type ServiceInterface interface {
	InitiatePayment(ctx context.Context, req models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error)
	ReconcileCallback(ctx context.Context, cb models.GatewayCallback) (*models.PaymentCompleted, error)
	CompletePaymentDirect(ctx context.Context, req models.CompleteDirectRequest) (*models.PaymentCompleted, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]*models.Payment, error)
	GetReceipt(ctx context.Context, paymentID string) (*models.Receipt, error)
}

// Service drives a payment from creation to a terminal state exactly once,
// regardless of the order in which the gateway response and the provider
// callback arrive, and regardless of callback loss.
//
// Known gap, kept deliberately: there is no automatic retry or idempotency
// key on the outbound push itself. A gateway failure is terminal and staff
// re-initiate. Only the callback side is idempotent.
type Service struct {
	repo           RepositoryInterface
	gateway        gateway.ClientInterface
	countryCode    string
	gatewayTimeout time.Duration
	log            *slog.Logger
}

// NewService creates a new payments service.
func NewService(repo RepositoryInterface, gw gateway.ClientInterface, countryCode string, gatewayTimeout time.Duration, log *slog.Logger) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 15 * time.Second
	}
	return &Service{
		repo:           repo,
		gateway:        gw,
		countryCode:    countryCode,
		gatewayTimeout: gatewayTimeout,
		log:            log,
	}
}

// InitiatePayment creates a payment in pending and, for mobile money,
// pushes the charge to the customer's phone. On gateway acceptance the
// record moves to processing and waits for the provider callback; on
// gateway failure it moves directly to failed with the gateway's message.
// Non-mobile-money methods stay pending until staff confirm them through
// CompletePaymentDirect.
func (s *Service) InitiatePayment(ctx context.Context, req models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("service.InitiatePayment: amount must be positive: %w", models.ErrInvalidInput)
	}

	phone := ""
	if req.Method == models.MethodMobileMoney {
		normalized, ok := gateway.NormalizePhone(req.PhoneNumber, s.countryCode)
		if !ok {
			return nil, fmt.Errorf("service.InitiatePayment: %q: %w", req.PhoneNumber, models.ErrInvalidPhoneNumber)
		}
		phone = normalized
	}

	// Advisory check before any external call; the partial unique index on
	// processing payments is the authoritative guard under concurrency.
	busy, err := s.repo.HasProcessing(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("service.InitiatePayment: %w", err)
	}
	if busy {
		return nil, fmt.Errorf("service.InitiatePayment: order %s: %w", req.OrderID, models.ErrConflict)
	}

	p := &models.Payment{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      models.StatusPending,
		PhoneNumber: phone,
		LineItems:   req.LineItems,
		Tax:         req.Tax,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("service.InitiatePayment: %w", err)
	}

	if req.Method != models.MethodMobileMoney {
		return &models.InitiatePaymentResponse{PaymentID: p.ID, Status: p.Status}, nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	push, err := s.gateway.Push(pushCtx, gateway.PushRequest{
		PhoneE164:   phone,
		Amount:      p.Amount,
		Reference:   gatewayReference(p.ID),
		Description: "Order " + p.OrderID,
	})
	if err != nil {
		// Local synchronous failure path: terminal, not retried. Staff see
		// the reason and re-initiate.
		reason := err.Error()
		if mErr := s.repo.MarkFailed(ctx, p.ID, reason); mErr != nil {
			s.log.Error("failed to mark payment failed after gateway error",
				"payment_id", p.ID, "error", mErr)
		}
		metrics.PaymentsFailed.WithLabelValues("gateway").Inc()
		s.log.Warn("gateway push rejected", "payment_id", p.ID, "order_id", p.OrderID, "error", err)
		return &models.InitiatePaymentResponse{
			PaymentID:     p.ID,
			Status:        models.StatusFailed,
			FailureReason: reason,
		}, nil
	}

	if _, err := s.repo.MarkProcessing(ctx, p.ID, push.ExternalReference); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Another attempt for this order won the race to processing.
			if mErr := s.repo.MarkFailed(ctx, p.ID, "concurrent payment already processing for order"); mErr != nil {
				s.log.Error("failed to mark losing payment failed", "payment_id", p.ID, "error", mErr)
			}
			return nil, fmt.Errorf("service.InitiatePayment: order %s: %w", req.OrderID, models.ErrConflict)
		}
		// The push went out but we could not record it; the callback
		// reconciliation will find no processing record and no-op. Surface
		// loudly for operator follow-up.
		s.log.Error("CRITICAL: gateway accepted push but payment not marked processing",
			"payment_id", p.ID, "external_reference", push.ExternalReference, "error", err)
		return nil, fmt.Errorf("service.InitiatePayment: %w", err)
	}

	return &models.InitiatePaymentResponse{
		PaymentID:      p.ID,
		Status:         models.StatusProcessing,
		CustomerPrompt: push.CustomerPrompt,
	}, nil
}

// ReconcileCallback converges an asynchronous provider callback with the
// initiated payment. The conditional UPDATE keyed on (external reference,
// status=processing) is the idempotency guard: duplicates and orphans
// affect zero rows and are acknowledged without mutating anything.
func (s *Service) ReconcileCallback(ctx context.Context, cb models.GatewayCallback) (*models.PaymentCompleted, error) {
	if cb.ExternalReference == "" {
		return nil, fmt.Errorf("service.ReconcileCallback: missing external reference: %w", models.ErrInvalidInput)
	}

	if cb.ResultCode != 0 {
		reason := cb.ResultDescription
		if reason == "" {
			reason = fmt.Sprintf("provider result code %d", cb.ResultCode)
		}
		p, err := s.repo.FailByReference(ctx, cb.ExternalReference, reason)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				metrics.CallbacksOrphaned.Inc()
				s.log.Warn("orphan failure callback discarded", "external_reference", cb.ExternalReference)
				return nil, nil
			}
			return nil, fmt.Errorf("service.ReconcileCallback: %w", err)
		}
		metrics.PaymentsFailed.WithLabelValues("callback").Inc()
		s.log.Info("payment failed by provider", "payment_id", p.ID, "reason", reason)
		return &models.PaymentCompleted{Payment: p}, nil
	}

	p, err := s.repo.CompleteByReference(ctx, cb.ExternalReference, metadataValue(cb.Metadata, "receipt_number"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown reference, or a duplicate delivery of a callback we
			// already processed. Acknowledge and stop.
			metrics.CallbacksOrphaned.Inc()
			s.log.Warn("orphan callback discarded", "external_reference", cb.ExternalReference)
			return nil, nil
		}
		return nil, fmt.Errorf("service.ReconcileCallback: %w", err)
	}
	metrics.PaymentsCompleted.WithLabelValues(p.Method).Inc()
	s.log.Info("payment completed", "payment_id", p.ID, "order_id", p.OrderID)

	result := &models.PaymentCompleted{Payment: p}
	rec, recErr := s.issueReceipt(ctx, p)
	if recErr != nil {
		// Payment truth is independent of receipt truth: the completed
		// transition stands and the missing receipt is reconciled
		// out-of-band by an operator.
		metrics.ReceiptFailures.Inc()
		s.log.Error("receipt generation failed after payment completion",
			"payment_id", p.ID, "error", recErr)
		result.ReceiptErr = recErr
		return result, nil
	}
	result.ReceiptID = &rec.ID
	return result, nil
}

// CompletePaymentDirect records an in-person confirmation: the payment is
// created directly in completed and the receipt issued inline. A receipt
// failure yields partial success, never a rolled-back payment.
func (s *Service) CompletePaymentDirect(ctx context.Context, req models.CompleteDirectRequest) (*models.PaymentCompleted, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("service.CompletePaymentDirect: amount must be positive: %w", models.ErrInvalidInput)
	}

	p := &models.Payment{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Method:    req.Method,
		Status:    models.StatusCompleted,
		LineItems: req.LineItems,
		Tax:       req.Tax,
	}
	if req.Reference != "" {
		p.ProviderReference = &req.Reference
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("service.CompletePaymentDirect: %w", err)
	}
	metrics.PaymentsCompleted.WithLabelValues(p.Method).Inc()

	result := &models.PaymentCompleted{Payment: p}
	rec, recErr := s.issueReceipt(ctx, p)
	if recErr != nil {
		metrics.ReceiptFailures.Inc()
		s.log.Error("receipt generation failed for direct payment",
			"payment_id", p.ID, "error", recErr)
		result.ReceiptErr = recErr
		return result, nil
	}
	result.ReceiptID = &rec.ID
	return result, nil
}

// GetPayment retrieves a single payment.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.repo.FindByID(ctx, paymentID)
}

// ListOrderPayments retrieves all payment attempts against an order.
func (s *Service) ListOrderPayments(ctx context.Context, orderID string) ([]*models.Payment, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

// GetReceipt retrieves the receipt issued for a payment.
func (s *Service) GetReceipt(ctx context.Context, paymentID string) (*models.Receipt, error) {
	return s.repo.FindReceiptByPaymentID(ctx, paymentID)
}

// issueReceipt builds and stores the receipt for a completed payment. The
// repository insert is idempotent on payment id, so a concurrent or
// repeated completion never duplicates a receipt.
func (s *Service) issueReceipt(ctx context.Context, p *models.Payment) (*models.Receipt, error) {
	subtotal := p.Amount - p.Tax
	items := p.LineItems
	if len(items) == 0 {
		items = []models.LineItem{{
			Description: "Order " + p.OrderID,
			Quantity:    1,
			UnitPrice:   subtotal,
			LineTotal:   subtotal,
		}}
	}

	rec := &models.Receipt{
		ID:            uuid.NewString(),
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		LineItems:     items,
		Subtotal:      subtotal,
		Tax:           p.Tax,
		Total:         p.Amount,
		PaymentMethod: p.Method,
	}
	if rec.Total != rec.Subtotal+rec.Tax {
		return nil, models.ErrReceiptTotalMismatch
	}
	return s.repo.CreateReceipt(ctx, rec)
}

// gatewayReference derives the merchant correlation id sent on the push.
// The provider caps it at 12 characters.
func gatewayReference(paymentID string) string {
	ref := "P" + paymentID
	if len(ref) > 12 {
		ref = ref[:12]
	}
	return ref
}

func metadataValue(meta []models.CallbackMetadata, name string) string {
	for _, m := range meta {
		if m.Name == name {
			return m.Value
		}
	}
	return ""
}

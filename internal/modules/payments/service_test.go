package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pos-and-delivery/internal/models"
	"pos-and-delivery/pkg/gateway"
)

// ----------------------------------------------------------------------------
// fakeRepo mimics the Postgres repository, including the conditional-update
// semantics the reconciliation logic depends on: state transitions only
// apply when the guard status matches, and at most one payment per order
// can hold the processing state.
// ----------------------------------------------------------------------------
type fakeRepo struct {
	mu            sync.Mutex
	payments      map[string]*models.Payment
	receipts      map[string]*models.Receipt // keyed by payment id
	nextReceiptNo int64
	failReceipts  bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*models.Payment),
		receipts: make(map[string]*models.Receipt),
	}
}

func (f *fakeRepo) Create(ctx context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.payments[p.ID]; ok {
		return models.ErrConflict
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakeRepo) FindByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListByOrderID(ctx context.Context, orderID string) ([]*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) HasProcessing(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasProcessingLocked(orderID), nil
}

func (f *fakeRepo) hasProcessingLocked(orderID string) bool {
	for _, p := range f.payments {
		if p.OrderID == orderID && p.Status == models.StatusProcessing {
			return true
		}
	}
	return false
}

func (f *fakeRepo) MarkProcessing(ctx context.Context, paymentID, externalReference string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok || p.Status != models.StatusPending {
		return nil, models.ErrNotFound
	}
	if f.hasProcessingLocked(p.OrderID) {
		return nil, models.ErrConflict
	}
	p.Status = models.StatusProcessing
	p.ExternalReference = &externalReference
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, paymentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok || (p.Status != models.StatusPending && p.Status != models.StatusProcessing) {
		return models.ErrNotFound
	}
	p.Status = models.StatusFailed
	p.FailureReason = &reason
	return nil
}

func (f *fakeRepo) CompleteByReference(ctx context.Context, externalReference, providerReference string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ExternalReference != nil && *p.ExternalReference == externalReference && p.Status == models.StatusProcessing {
			p.Status = models.StatusCompleted
			if providerReference != "" {
				p.ProviderReference = &providerReference
			}
			p.UpdatedAt = time.Now()
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRepo) FailByReference(ctx context.Context, externalReference, reason string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ExternalReference != nil && *p.ExternalReference == externalReference && p.Status == models.StatusProcessing {
			p.Status = models.StatusFailed
			p.FailureReason = &reason
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRepo) CreateReceipt(ctx context.Context, r *models.Receipt) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReceipts {
		return nil, errors.New("receipt store unavailable")
	}
	if existing, ok := f.receipts[r.PaymentID]; ok {
		cp := *existing
		return &cp, nil
	}
	f.nextReceiptNo++
	r.ReceiptNumber = f.nextReceiptNo
	r.IssuedAt = time.Now()
	cp := *r
	f.receipts[r.PaymentID] = &cp
	return r, nil
}

func (f *fakeRepo) FindReceiptByPaymentID(ctx context.Context, paymentID string) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[paymentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// fakeGateway scripts the provider's synchronous push response.
type fakeGateway struct {
	mu    sync.Mutex
	calls int
	resp  *gateway.PushResponse
	err   error
}

func (g *fakeGateway) Push(ctx context.Context, req gateway.PushRequest) (*gateway.PushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	resp := *g.resp
	if resp.ExternalReference == "" {
		resp.ExternalReference = fmt.Sprintf("chk-%d", g.calls)
	}
	return &resp, nil
}

func newTestService(fr *fakeRepo, gw *fakeGateway) *Service {
	return NewService(fr, gw, "254", time.Second, slog.New(slog.DiscardHandler))
}

// ----------------------------------------------------------------------------

func TestInitiateMobileMoneySuccess(t *testing.T) {
	fr := newFakeRepo()
	gw := &fakeGateway{resp: &gateway.PushResponse{
		ExternalReference: "chk-1",
		CustomerPrompt:    "Enter your PIN to pay KES 15.00",
	}}
	svc := newTestService(fr, gw)

	resp, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "0712345678",
	})
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if resp.Status != models.StatusProcessing {
		t.Errorf("status = %s; want processing", resp.Status)
	}
	if resp.CustomerPrompt == "" {
		t.Error("expected customer prompt to be returned")
	}

	p := fr.payments[resp.PaymentID]
	if p == nil {
		t.Fatal("payment not stored")
	}
	if p.Status != models.StatusProcessing {
		t.Errorf("stored status = %s; want processing", p.Status)
	}
	if p.ExternalReference == nil || *p.ExternalReference != "chk-1" {
		t.Errorf("external reference not stored: %v", p.ExternalReference)
	}
	if p.PhoneNumber != "254712345678" {
		t.Errorf("phone = %s; want normalized 254712345678", p.PhoneNumber)
	}
}

func TestInitiateRejectsMalformedPhone(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGateway{resp: &gateway.PushResponse{}})

	_, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "not-a-number",
	})
	if !errors.Is(err, models.ErrInvalidPhoneNumber) {
		t.Errorf("err = %v; want ErrInvalidPhoneNumber", err)
	}
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGateway{resp: &gateway.PushResponse{}})

	_, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID: "O1",
		Amount:  0,
		Method:  models.MethodCash,
	})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("err = %v; want ErrInvalidInput", err)
	}
}

func TestInitiateConflictWhenOrderAlreadyProcessing(t *testing.T) {
	fr := newFakeRepo()
	ref := "chk-existing"
	fr.payments["existing"] = &models.Payment{
		ID: "existing", OrderID: "O1", Amount: 500,
		Method: models.MethodMobileMoney, Status: models.StatusProcessing,
		ExternalReference: &ref,
	}
	svc := newTestService(fr, &fakeGateway{resp: &gateway.PushResponse{ExternalReference: "chk-2"}})

	_, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "0712345678",
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("err = %v; want ErrConflict", err)
	}
}

func TestConcurrentInitiateAtMostOneProcessing(t *testing.T) {
	fr := newFakeRepo()
	gw := &fakeGateway{resp: &gateway.PushResponse{}}
	svc := newTestService(fr, gw)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
				OrderID:     "O1",
				Amount:      1500,
				Method:      models.MethodMobileMoney,
				PhoneNumber: "0712345678",
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	processing := 0
	for _, p := range fr.payments {
		if p.Status == models.StatusProcessing {
			processing++
		}
	}
	if processing != 1 {
		t.Fatalf("payments in processing = %d; want exactly 1", processing)
	}
	for _, err := range results {
		if err != nil && !errors.Is(err, models.ErrConflict) {
			t.Errorf("unexpected error kind: %v", err)
		}
	}
}

func TestInitiateGatewayFailureIsTerminal(t *testing.T) {
	fr := newFakeRepo()
	gw := &fakeGateway{err: errors.New("insufficient float on short code")}
	svc := newTestService(fr, gw)

	resp, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "0712345678",
	})
	if err != nil {
		t.Fatalf("gateway failure should be a domain outcome, got error: %v", err)
	}
	if resp.Status != models.StatusFailed {
		t.Errorf("status = %s; want failed", resp.Status)
	}
	if resp.FailureReason == "" {
		t.Error("expected failure reason for staff display")
	}

	p := fr.payments[resp.PaymentID]
	if p == nil || p.Status != models.StatusFailed {
		t.Fatalf("stored payment should be failed, got %+v", p)
	}
	if p.FailureReason == nil {
		t.Error("failure reason not recorded")
	}
}

func TestReconcileSuccessCreatesReceiptOnce(t *testing.T) {
	fr := newFakeRepo()
	gw := &fakeGateway{resp: &gateway.PushResponse{ExternalReference: "chk-77"}}
	svc := newTestService(fr, gw)

	resp, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "0712345678",
	})
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	cb := models.GatewayCallback{
		ExternalReference: "chk-77",
		ResultCode:        0,
		Metadata: []models.CallbackMetadata{
			{Name: "receipt_number", Value: "RCPT001"},
		},
	}
	result, err := svc.ReconcileCallback(context.Background(), cb)
	if err != nil {
		t.Fatalf("ReconcileCallback error: %v", err)
	}
	if result == nil || result.Payment.Status != models.StatusCompleted {
		t.Fatalf("payment not completed: %+v", result)
	}
	if result.ReceiptID == nil {
		t.Fatal("receipt not created")
	}
	if result.Payment.ProviderReference == nil || *result.Payment.ProviderReference != "RCPT001" {
		t.Errorf("provider reference = %v; want RCPT001", result.Payment.ProviderReference)
	}

	rec := fr.receipts[resp.PaymentID]
	if rec == nil {
		t.Fatal("receipt not stored")
	}
	if rec.Total != 1500 {
		t.Errorf("receipt total = %d; want 1500", rec.Total)
	}
	if rec.Total != rec.Subtotal+rec.Tax {
		t.Errorf("receipt total %d != subtotal %d + tax %d", rec.Total, rec.Subtotal, rec.Tax)
	}

	// Second delivery of the same callback is a no-op: still one completed
	// payment and one receipt.
	again, err := svc.ReconcileCallback(context.Background(), cb)
	if err != nil {
		t.Fatalf("second ReconcileCallback error: %v", err)
	}
	if again != nil {
		t.Errorf("second callback should be discarded, got %+v", again)
	}
	if len(fr.receipts) != 1 {
		t.Errorf("receipts = %d; want 1", len(fr.receipts))
	}
}

func TestReconcileOrphanCallbackIsDiscarded(t *testing.T) {
	fr := newFakeRepo()
	svc := newTestService(fr, &fakeGateway{resp: &gateway.PushResponse{}})

	result, err := svc.ReconcileCallback(context.Background(), models.GatewayCallback{
		ExternalReference: "chk-unknown",
		ResultCode:        0,
	})
	if err != nil {
		t.Fatalf("orphan callback must not error: %v", err)
	}
	if result != nil {
		t.Errorf("orphan callback must not produce a result, got %+v", result)
	}
	if len(fr.payments) != 0 || len(fr.receipts) != 0 {
		t.Error("orphan callback mutated state")
	}
}

func TestReconcileRejectsMissingReference(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGateway{resp: &gateway.PushResponse{}})

	_, err := svc.ReconcileCallback(context.Background(), models.GatewayCallback{ResultCode: 0})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("err = %v; want ErrInvalidInput", err)
	}
}

func TestReconcileFailureCallback(t *testing.T) {
	fr := newFakeRepo()
	gw := &fakeGateway{resp: &gateway.PushResponse{ExternalReference: "chk-9"}}
	svc := newTestService(fr, gw)

	resp, err := svc.InitiatePayment(context.Background(), models.InitiatePaymentRequest{
		OrderID:     "O1",
		Amount:      1500,
		Method:      models.MethodMobileMoney,
		PhoneNumber: "0712345678",
	})
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	result, err := svc.ReconcileCallback(context.Background(), models.GatewayCallback{
		ExternalReference: "chk-9",
		ResultCode:        1032,
		ResultDescription: "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("ReconcileCallback error: %v", err)
	}
	if result.Payment.Status != models.StatusFailed {
		t.Errorf("status = %s; want failed", result.Payment.Status)
	}

	p := fr.payments[resp.PaymentID]
	if p.FailureReason == nil || *p.FailureReason != "Request cancelled by user" {
		t.Errorf("failure reason = %v; want provider description", p.FailureReason)
	}
	if len(fr.receipts) != 0 {
		t.Error("failed payment must not produce a receipt")
	}
}

func TestCompleteDirectIssuesReceipt(t *testing.T) {
	fr := newFakeRepo()
	svc := newTestService(fr, &fakeGateway{resp: &gateway.PushResponse{}})

	result, err := svc.CompletePaymentDirect(context.Background(), models.CompleteDirectRequest{
		OrderID: "O2",
		Amount:  2300,
		Method:  models.MethodCash,
		Tax:     300,
		LineItems: []models.LineItem{
			{Description: "Chips masala", Quantity: 2, UnitPrice: 1000, LineTotal: 2000},
		},
	})
	if err != nil {
		t.Fatalf("CompletePaymentDirect error: %v", err)
	}
	if result.Payment.Status != models.StatusCompleted {
		t.Errorf("status = %s; want completed", result.Payment.Status)
	}
	if result.ReceiptID == nil {
		t.Fatal("receipt not created")
	}

	rec := fr.receipts[result.Payment.ID]
	if rec.Subtotal != 2000 || rec.Tax != 300 || rec.Total != 2300 {
		t.Errorf("receipt amounts = %d/%d/%d; want 2000/300/2300", rec.Subtotal, rec.Tax, rec.Total)
	}
	if rec.ReceiptNumber != 1 {
		t.Errorf("receipt number = %d; want 1", rec.ReceiptNumber)
	}
}

func TestCompleteDirectPartialSuccessOnReceiptFailure(t *testing.T) {
	fr := newFakeRepo()
	fr.failReceipts = true
	svc := newTestService(fr, &fakeGateway{resp: &gateway.PushResponse{}})

	result, err := svc.CompletePaymentDirect(context.Background(), models.CompleteDirectRequest{
		OrderID: "O3",
		Amount:  500,
		Method:  models.MethodCash,
	})
	if err != nil {
		t.Fatalf("receipt failure must not fail the payment: %v", err)
	}
	if result.Payment.Status != models.StatusCompleted {
		t.Errorf("status = %s; want completed despite receipt failure", result.Payment.Status)
	}
	if result.ReceiptErr == nil {
		t.Error("expected ReceiptErr to be reported for out-of-band reconciliation")
	}
	if result.ReceiptID != nil {
		t.Error("ReceiptID should be nil on receipt failure")
	}
}

func TestReceiptNumbersAreMonotonic(t *testing.T) {
	fr := newFakeRepo()
	svc := newTestService(fr, &fakeGateway{resp: &gateway.PushResponse{}})

	var numbers []int64
	for i := 0; i < 3; i++ {
		result, err := svc.CompletePaymentDirect(context.Background(), models.CompleteDirectRequest{
			OrderID: fmt.Sprintf("O%d", i),
			Amount:  100,
			Method:  models.MethodCash,
		})
		if err != nil {
			t.Fatalf("CompletePaymentDirect error: %v", err)
		}
		rec := fr.receipts[result.Payment.ID]
		numbers = append(numbers, rec.ReceiptNumber)
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] <= numbers[i-1] {
			t.Errorf("receipt numbers not monotonic: %v", numbers)
		}
	}
}

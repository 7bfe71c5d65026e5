package models

import (
	"time"
)

// Payment methods accepted at the point of sale.
const (
	MethodCash         = "cash"
	MethodMobileMoney  = "mobile_money"
	MethodBankTransfer = "bank_transfer"
	MethodCredit       = "credit"
)

// Payment statuses. Completed, failed, cancelled and refunded are terminal;
// a record never transitions out of them.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
	StatusCancelled  = "cancelled"
)

// Payment represents a single payment attempt against an order. Amount is in
// currency minor units (cents/shillings) to avoid float drift.
type Payment struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	Amount            int64     `json:"amount"`
	Method            string    `json:"method"`
	Status            string    `json:"status"`
	ExternalReference *string   `json:"external_reference,omitempty"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	ProviderReference *string   `json:"provider_reference,omitempty"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
	// LineItems and Tax are captured at initiation and carried onto the
	// receipt when the payment completes.
	LineItems []LineItem `json:"line_items,omitempty"`
	Tax       int64      `json:"tax,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Terminal reports whether the payment is in a final state.
func (p *Payment) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// LineItem is a single billed line on a receipt.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

// Receipt is issued exactly once per completed payment. It is immutable
// after creation; tax-authority metadata is appended later by a separate
// submission step outside this service.
type Receipt struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	PaymentID     string     `json:"payment_id"`
	ReceiptNumber int64      `json:"receipt_number"`
	LineItems     []LineItem `json:"line_items"`
	Subtotal      int64      `json:"subtotal"`
	Tax           int64      `json:"tax"`
	Total         int64      `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	IssuedAt      time.Time  `json:"issued_at"`
}

// InitiatePaymentRequest is the staff-facing request to start a payment.
type InitiatePaymentRequest struct {
	OrderID     string     `json:"order_id" validate:"required"`
	Amount      int64      `json:"amount" validate:"required,gt=0"`
	Method      string     `json:"method" validate:"required,oneof=cash mobile_money bank_transfer credit"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	LineItems   []LineItem `json:"line_items,omitempty"`
	Tax         int64      `json:"tax,omitempty"`
}

// InitiatePaymentResponse carries the new payment id and, when the gateway
// accepted the push, the customer-facing prompt text for display.
type InitiatePaymentResponse struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	CustomerPrompt string `json:"customer_prompt,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// CompleteDirectRequest records an in-person confirmation captured by staff
// (cash handed over, or a mobile-money transfer verified on the till).
type CompleteDirectRequest struct {
	OrderID   string     `json:"order_id" validate:"required"`
	Amount    int64      `json:"amount" validate:"required,gt=0"`
	Method    string     `json:"method" validate:"required,oneof=cash mobile_money bank_transfer credit"`
	Reference string     `json:"reference,omitempty"`
	LineItems []LineItem `json:"line_items,omitempty"`
	Tax       int64      `json:"tax,omitempty"`
}

// GatewayCallback is the webhook payload relayed by the mobile-money
// provider once the customer approves or rejects the charge on their phone.
// ResultCode 0 means success.
type GatewayCallback struct {
	ExternalReference string             `json:"external_reference"`
	ResultCode        int                `json:"result_code"`
	ResultDescription string             `json:"result_description"`
	Metadata          []CallbackMetadata `json:"metadata,omitempty"`
}

// CallbackMetadata is a loosely typed name/value pair attached to a
// callback (provider transaction reference, payer phone, etc.).
type CallbackMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PaymentCompleted is the outcome of a successful reconciliation. Payment
// state is authoritative over receipt state: a receipt failure is reported
// here for out-of-band retry, never rolled back into the payment.
type PaymentCompleted struct {
	Payment   *Payment `json:"payment"`
	ReceiptID *string  `json:"receipt_id,omitempty"`
	// ReceiptErr is set when receipt generation failed after the payment
	// completed. Not serialized; handlers translate it into a partial
	// success response.
	ReceiptErr error `json:"-"`
}

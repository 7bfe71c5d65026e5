package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pos-and-delivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for the payments repository.
// State transitions are single conditional UPDATEs so concurrent callers
// race on the database row, not on an in-process read-then-write.
type RepositoryInterface interface {
	Create(ctx context.Context, p *models.Payment) error
	FindByID(ctx context.Context, paymentID string) (*models.Payment, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*models.Payment, error)
	HasProcessing(ctx context.Context, orderID string) (bool, error)
	MarkProcessing(ctx context.Context, paymentID, externalReference string) (*models.Payment, error)
	MarkFailed(ctx context.Context, paymentID, reason string) error
	CompleteByReference(ctx context.Context, externalReference, providerReference string) (*models.Payment, error)
	FailByReference(ctx context.Context, externalReference, reason string) (*models.Payment, error)
	CreateReceipt(ctx context.Context, r *models.Receipt) (*models.Receipt, error)
	FindReceiptByPaymentID(ctx context.Context, paymentID string) (*models.Receipt, error)
}

// Repository implements RepositoryInterface on Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new payments repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const paymentColumns = `id, order_id, amount, method, status, external_reference, phone_number, provider_reference, failure_reason, line_items, tax, created_at, updated_at`

// Create inserts a new payment row with the caller-assigned id and status.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	items, err := json.Marshal(p.LineItems)
	if err != nil {
		return fmt.Errorf("repository.Create: marshal line items: %w", err)
	}
	query := `
		INSERT INTO payments (id, order_id, amount, method, status, external_reference, phone_number, provider_reference, failure_reason, line_items, tax)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`
	err = r.db.QueryRow(ctx, query,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status,
		p.ExternalReference, p.PhoneNumber, p.ProviderReference, p.FailureReason,
		items, p.Tax,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

// FindByID retrieves a single payment.
func (r *Repository) FindByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := r.scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return p, nil
}

// ListByOrderID retrieves all payment attempts against an order, newest
// first.
func (r *Repository) ListByOrderID(ctx context.Context, orderID string) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListByOrderID: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.ListByOrderID: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasProcessing reports whether the order already carries a payment in the
// processing state.
func (r *Repository) HasProcessing(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = 'processing')`,
		orderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository.HasProcessing: %w", err)
	}
	return exists, nil
}

// MarkProcessing transitions pending -> processing and stores the gateway
// reference. The partial unique index on (order_id) WHERE status =
// 'processing' is what enforces the single-concurrent-charge invariant; a
// unique violation here means another attempt won the race and surfaces as
// ErrConflict.
func (r *Repository) MarkProcessing(ctx context.Context, paymentID, externalReference string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'processing', external_reference = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns
	p, err := r.scanPayment(r.db.QueryRow(ctx, query, paymentID, externalReference))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("repository.MarkProcessing: %w", err)
	}
	return p, nil
}

// MarkFailed transitions a non-terminal payment to failed with a reason.
func (r *Repository) MarkFailed(ctx context.Context, paymentID, reason string) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		paymentID, reason)
	if err != nil {
		return fmt.Errorf("repository.MarkFailed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CompleteByReference is the reconciliation transition: processing ->
// completed keyed by the gateway reference. Zero rows affected means the
// callback is an orphan or a duplicate, reported as ErrNotFound.
func (r *Repository) CompleteByReference(ctx context.Context, externalReference, providerReference string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'completed', provider_reference = NULLIF($2, ''), updated_at = NOW()
		WHERE external_reference = $1 AND status = 'processing'
		RETURNING ` + paymentColumns
	p, err := r.scanPayment(r.db.QueryRow(ctx, query, externalReference, providerReference))
	if err != nil {
		return nil, fmt.Errorf("repository.CompleteByReference: %w", err)
	}
	return p, nil
}

// FailByReference is the failure half of reconciliation: processing ->
// failed keyed by the gateway reference.
func (r *Repository) FailByReference(ctx context.Context, externalReference, reason string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE external_reference = $1 AND status = 'processing'
		RETURNING ` + paymentColumns
	p, err := r.scanPayment(r.db.QueryRow(ctx, query, externalReference, reason))
	if err != nil {
		return nil, fmt.Errorf("repository.FailByReference: %w", err)
	}
	return p, nil
}

// CreateReceipt inserts the receipt for a completed payment. The unique
// constraint on payment_id makes creation idempotent: when a receipt
// already exists the insert is skipped and the existing row is returned.
func (r *Repository) CreateReceipt(ctx context.Context, rec *models.Receipt) (*models.Receipt, error) {
	items, err := json.Marshal(rec.LineItems)
	if err != nil {
		return nil, fmt.Errorf("repository.CreateReceipt: marshal line items: %w", err)
	}
	query := `
		INSERT INTO receipts (id, order_id, payment_id, line_items, subtotal, tax, total, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING receipt_number, issued_at`
	err = r.db.QueryRow(ctx, query,
		rec.ID, rec.OrderID, rec.PaymentID, items,
		rec.Subtotal, rec.Tax, rec.Total, rec.PaymentMethod,
	).Scan(&rec.ReceiptNumber, &rec.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already created; hand back the existing receipt.
			return r.FindReceiptByPaymentID(ctx, rec.PaymentID)
		}
		return nil, fmt.Errorf("repository.CreateReceipt: %w", err)
	}
	return rec, nil
}

// FindReceiptByPaymentID retrieves the receipt issued for a payment.
func (r *Repository) FindReceiptByPaymentID(ctx context.Context, paymentID string) (*models.Receipt, error) {
	query := `
		SELECT id, order_id, payment_id, receipt_number, line_items, subtotal, tax, total, payment_method, issued_at
		FROM receipts WHERE payment_id = $1`
	row := r.db.QueryRow(ctx, query, paymentID)

	var rec models.Receipt
	var items []byte
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.PaymentID, &rec.ReceiptNumber,
		&items, &rec.Subtotal, &rec.Tax, &rec.Total, &rec.PaymentMethod, &rec.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindReceiptByPaymentID: %w", err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &rec.LineItems); err != nil {
			return nil, fmt.Errorf("repository.FindReceiptByPaymentID: unmarshal line items: %w", err)
		}
	}
	return &rec, nil
}

// scanPayment scans a payments row into the model.
func (r *Repository) scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var items []byte
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status,
		&p.ExternalReference, &p.PhoneNumber, &p.ProviderReference, &p.FailureReason,
		&items, &p.Tax, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
		}
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

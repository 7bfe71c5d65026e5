package delivery

import (
	"context"
	"fmt"

	"pos-and-delivery/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for delivery tracking storage.
type RepositoryInterface interface {
	CreateTrackingEvent(ctx context.Context, ev *models.TrackingEvent) error
	ListTrackingEvents(ctx context.Context, orderID string, limit int) ([]*models.TrackingEvent, error)
}

// Repository implements RepositoryInterface on Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new delivery repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

// CreateTrackingEvent persists one position report.
func (r *Repository) CreateTrackingEvent(ctx context.Context, ev *models.TrackingEvent) error {
	query := `
		INSERT INTO tracking_events (order_id, latitude, longitude, arrived)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query, ev.OrderID, ev.Latitude, ev.Longitude, ev.Arrived).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.CreateTrackingEvent: %w", err)
	}
	return nil
}

// ListTrackingEvents returns the most recent position reports for an
// order, newest first. The table is a rolling history, not a store of
// record, so callers read a bounded window.
func (r *Repository) ListTrackingEvents(ctx context.Context, orderID string, limit int) ([]*models.TrackingEvent, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, order_id, latitude, longitude, arrived, created_at
		FROM tracking_events
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.ListTrackingEvents: %w", err)
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var ev models.TrackingEvent
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Latitude, &ev.Longitude, &ev.Arrived, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListTrackingEvents: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

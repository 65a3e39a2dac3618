package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seongmin-k/coupon-rush/internal/model"
)

// ErrEventNotFound is returned when no coupon_events row matches
var ErrEventNotFound = errors.New("event not found")

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// EventRepository handles coupon event metadata operations
type EventRepository struct{}

// NewEventRepository creates a new event repository
func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

// CreateEvent inserts a new coupon event row
func (r *EventRepository) CreateEvent(ctx context.Context, db DBExecutor, event *model.CouponEvent) error {
	query := `
		INSERT INTO coupon_events
			(event_id, event_name, description, total_stock, remaining_stock,
			 start_time, end_time, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	err := db.GetContext(ctx, &event.ID, query,
		event.EventID, event.EventName, event.Description,
		event.TotalStock, event.RemainingStock,
		event.StartTime, event.EndTime, event.IsActive,
		event.CreatedAt, event.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("event %s already exists: %w", event.EventID, err)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by its external id
func (r *EventRepository) GetEvent(ctx context.Context, db DBExecutor, eventID string) (*model.CouponEvent, error) {
	query := `
		SELECT id, event_id, event_name, description, total_stock, remaining_stock,
		       start_time, end_time, is_active, created_at, updated_at
		FROM coupon_events
		WHERE event_id = $1
	`

	var event model.CouponEvent
	err := db.GetContext(ctx, &event, query, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

// UpsertStock seeds the stock columns for an event. Re-running with the same
// total rewrites total_stock and resets remaining_stock to that total (undoing
// an exhaustion mirror), so initialization is safe to repeat after a partial
// failure.
func (r *EventRepository) UpsertStock(ctx context.Context, db DBExecutor, eventID string, total int64) error {
	query := `
		INSERT INTO coupon_events
			(event_id, event_name, description, total_stock, remaining_stock,
			 start_time, end_time, is_active, created_at, updated_at)
		VALUES ($1, $1, '', $2, $2, NOW(), NOW() + INTERVAL '24 hours', TRUE, NOW(), NOW())
		ON CONFLICT (event_id) DO UPDATE
		SET total_stock = EXCLUDED.total_stock,
		    remaining_stock = EXCLUDED.remaining_stock,
		    updated_at = NOW()
	`

	if _, err := db.ExecContext(ctx, query, eventID, total); err != nil {
		return fmt.Errorf("failed to upsert stock: %w", err)
	}

	return nil
}

// SetExhausted mirrors the in-memory counter onto the row and deactivates the
// event. The column is advisory; reconciliation never trusts it over the store.
func (r *EventRepository) SetExhausted(ctx context.Context, db DBExecutor, eventID string, remaining int64) error {
	query := `
		UPDATE coupon_events
		SET remaining_stock = $1, is_active = FALSE, updated_at = NOW()
		WHERE event_id = $2
	`

	result, err := db.ExecContext(ctx, query, remaining, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event exhausted: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEventNotFound
	}

	return nil
}

// DeactivateEvent clears the active flag
func (r *EventRepository) DeactivateEvent(ctx context.Context, db DBExecutor, eventID string) error {
	query := `
		UPDATE coupon_events
		SET is_active = FALSE, updated_at = NOW()
		WHERE event_id = $1
	`

	result, err := db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to deactivate event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEventNotFound
	}

	return nil
}

// ListActiveEvents returns events the reconciler should cross-check
func (r *EventRepository) ListActiveEvents(ctx context.Context, db DBExecutor) ([]model.CouponEvent, error) {
	query := `
		SELECT id, event_id, event_name, description, total_stock, remaining_stock,
		       start_time, end_time, is_active, created_at, updated_at
		FROM coupon_events
		WHERE is_active = TRUE
		ORDER BY created_at ASC
	`

	var events []model.CouponEvent
	if err := db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("failed to list active events: %w", err)
	}

	return events, nil
}

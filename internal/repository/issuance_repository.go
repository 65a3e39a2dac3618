package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/seongmin-k/coupon-rush/internal/model"
)

// ErrDuplicateIssuance is returned when an insert collides with an existing
// row on coupon_id or (user_id, event_id). The durable writer treats it as
// already-applied.
var ErrDuplicateIssuance = errors.New("issuance already persisted")

// ErrCouponNotFound is returned when a coupon id lookup finds no issuance
var ErrCouponNotFound = errors.New("coupon not found")

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505)
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// IssuanceRepository handles user coupon persistence
type IssuanceRepository struct{}

// NewIssuanceRepository creates a new issuance repository
func NewIssuanceRepository() *IssuanceRepository {
	return &IssuanceRepository{}
}

// InsertIssuance materializes one issuance record. The schema's two unique
// constraints carry the idempotence contract: a conflict means the record is
// already applied and is surfaced as ErrDuplicateIssuance.
func (r *IssuanceRepository) InsertIssuance(ctx context.Context, db DBExecutor, coupon *model.UserCoupon) error {
	query := `
		INSERT INTO user_coupons (coupon_id, user_id, event_id, issued_at, is_used)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id
	`

	err := db.GetContext(ctx, &coupon.ID, query,
		coupon.CouponID, coupon.UserID, coupon.EventID, coupon.IssuedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateIssuance
		}
		return fmt.Errorf("failed to insert issuance: %w", err)
	}

	return nil
}

// CountByEvent returns the number of persisted issuances for an event
func (r *IssuanceRepository) CountByEvent(ctx context.Context, db DBExecutor, eventID string) (int64, error) {
	query := `SELECT COUNT(*) FROM user_coupons WHERE event_id = $1`

	var count int64
	if err := db.GetContext(ctx, &count, query, eventID); err != nil {
		return 0, fmt.Errorf("failed to count issuances: %w", err)
	}

	return count, nil
}

// GetByCouponID fetches one issuance record
func (r *IssuanceRepository) GetByCouponID(ctx context.Context, db DBExecutor, couponID string) (*model.UserCoupon, error) {
	query := `
		SELECT id, coupon_id, user_id, event_id, issued_at, is_used, used_at
		FROM user_coupons
		WHERE coupon_id = $1
	`

	var coupon model.UserCoupon
	err := db.GetContext(ctx, &coupon, query, couponID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return &coupon, nil
}

// MarkRedeemed flips the used flag on an issuance. Already-used coupons are
// left untouched so replayed redemption records keep the first used_at.
func (r *IssuanceRepository) MarkRedeemed(ctx context.Context, db DBExecutor, couponID string, usedAt time.Time) (bool, error) {
	query := `
		UPDATE user_coupons
		SET is_used = TRUE, used_at = $1
		WHERE coupon_id = $2 AND is_used = FALSE
	`

	result, err := db.ExecContext(ctx, query, usedAt, couponID)
	if err != nil {
		return false, fmt.Errorf("failed to mark coupon redeemed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// CouponExists reports whether a coupon_id has been persisted
func (r *IssuanceRepository) CouponExists(ctx context.Context, db DBExecutor, couponID string) (bool, error) {
	query := `SELECT COUNT(*) FROM user_coupons WHERE coupon_id = $1`

	var count int64
	if err := db.GetContext(ctx, &count, query, couponID); err != nil {
		return false, fmt.Errorf("failed to check coupon: %w", err)
	}

	return count > 0, nil
}

// InsertUsage records one redemption. Unique on coupon_id, so replays
// surface as ErrDuplicateIssuance and are ignored upstream.
func (r *IssuanceRepository) InsertUsage(ctx context.Context, db DBExecutor, usage *model.CouponUsage) error {
	query := `
		INSERT INTO coupon_usage (coupon_id, user_id, event_id, used_at, usage_context)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := db.GetContext(ctx, &usage.ID, query,
		usage.CouponID, usage.UserID, usage.EventID, usage.UsedAt, usage.UsageContext)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateIssuance
		}
		return fmt.Errorf("failed to insert usage: %w", err)
	}

	return nil
}

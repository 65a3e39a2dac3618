package model

import (
	"database/sql"
	"time"
)

// CouponEvent represents a coupon campaign in the database
type CouponEvent struct {
	ID             int64     `db:"id" json:"id"`
	EventID        string    `db:"event_id" json:"event_id"`
	EventName      string    `db:"event_name" json:"event_name"`
	Description    string    `db:"description" json:"description"`
	TotalStock     int64     `db:"total_stock" json:"total_stock"`
	RemainingStock int64     `db:"remaining_stock" json:"remaining_stock"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UserCoupon represents a persisted coupon issuance record
type UserCoupon struct {
	ID       int64        `db:"id" json:"id"`
	CouponID string       `db:"coupon_id" json:"coupon_id"`
	UserID   string       `db:"user_id" json:"user_id"`
	EventID  string       `db:"event_id" json:"event_id"`
	IssuedAt time.Time    `db:"issued_at" json:"issued_at"`
	IsUsed   bool         `db:"is_used" json:"is_used"`
	UsedAt   sql.NullTime `db:"used_at" json:"used_at,omitempty"`
}

// CouponUsage represents a coupon redemption record
type CouponUsage struct {
	ID           int64     `db:"id" json:"id"`
	CouponID     string    `db:"coupon_id" json:"coupon_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	EventID      string    `db:"event_id" json:"event_id"`
	UsedAt       time.Time `db:"used_at" json:"used_at"`
	UsageContext string    `db:"usage_context" json:"usage_context,omitempty"`
}

package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema holds the DDL for the persistent store. The two unique constraints
// on user_coupons are load-bearing: they are what makes the durable writer
// idempotent under replays.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS coupon_events (
		id              BIGSERIAL PRIMARY KEY,
		event_id        VARCHAR(50) NOT NULL UNIQUE,
		event_name      VARCHAR(200) NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		total_stock     BIGINT NOT NULL,
		remaining_stock BIGINT NOT NULL,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_active_time
		ON coupon_events (is_active, start_time, end_time)`,

	`CREATE TABLE IF NOT EXISTS user_coupons (
		id        BIGSERIAL PRIMARY KEY,
		coupon_id VARCHAR(36) NOT NULL UNIQUE,
		user_id   VARCHAR(50) NOT NULL,
		event_id  VARCHAR(50) NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_used   BOOLEAN NOT NULL DEFAULT FALSE,
		used_at   TIMESTAMPTZ,
		UNIQUE (user_id, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_issued
		ON user_coupons (event_id, issued_at)`,

	`CREATE TABLE IF NOT EXISTS coupon_usage (
		id            BIGSERIAL PRIMARY KEY,
		coupon_id     VARCHAR(36) NOT NULL UNIQUE,
		user_id       VARCHAR(50) NOT NULL,
		event_id      VARCHAR(50) NOT NULL,
		used_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		usage_context TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables if they do not exist. Safe to run from every
// binary at startup.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record types carried on the coupon event log.
const (
	TypeCouponIssued   = "coupon_issued"
	TypeCouponRedeemed = "coupon_redeemed"
	TypeStockExhausted = "stock_exhausted"
)

// SchemaVersion is the current envelope schema version. Consumers reject
// records with a higher version than they understand.
const SchemaVersion = 1

// Envelope is the tagged record written to the event log. Exactly one
// payload field is set, matching Type.
type Envelope struct {
	RecordID      string    `json:"record_id"`
	Type          string    `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`

	CouponIssued   *CouponIssued   `json:"coupon_issued,omitempty"`
	CouponRedeemed *CouponRedeemed `json:"coupon_redeemed,omitempty"`
	StockExhausted *StockExhausted `json:"stock_exhausted,omitempty"`
}

// CouponIssued records a successful atomic issuance decision
type CouponIssued struct {
	CouponID string    `json:"coupon_id"`
	UserID   string    `json:"user_id"`
	EventID  string    `json:"event_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// CouponRedeemed records a coupon being used
type CouponRedeemed struct {
	CouponID   string    `json:"coupon_id"`
	UserID     string    `json:"user_id"`
	EventID    string    `json:"event_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// StockExhausted records the moment an event's in-memory stock hit zero
type StockExhausted struct {
	EventID        string    `json:"event_id"`
	RemainingStock int64     `json:"remaining_stock"`
	ExhaustedAt    time.Time `json:"exhausted_at"`
}

// PartitionKey returns the log partition key for the envelope. Issuance and
// redemption records key on event_id:user_id so a single user's records stay
// ordered within one partition.
func (e *Envelope) PartitionKey() string {
	switch e.Type {
	case TypeCouponIssued:
		return e.CouponIssued.EventID + ":" + e.CouponIssued.UserID
	case TypeCouponRedeemed:
		return e.CouponRedeemed.EventID + ":" + e.CouponRedeemed.UserID
	case TypeStockExhausted:
		return e.StockExhausted.EventID
	}
	return ""
}

// Encode marshals the envelope for the log
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope unmarshals and validates a log record
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", e.SchemaVersion)
	}
	switch e.Type {
	case TypeCouponIssued:
		if e.CouponIssued == nil {
			return nil, fmt.Errorf("missing coupon_issued payload")
		}
	case TypeCouponRedeemed:
		if e.CouponRedeemed == nil {
			return nil, fmt.Errorf("missing coupon_redeemed payload")
		}
	case TypeStockExhausted:
		if e.StockExhausted == nil {
			return nil, fmt.Errorf("missing stock_exhausted payload")
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}

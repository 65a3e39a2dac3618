package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/seongmin-k/coupon-rush/internal/cache"
	"github.com/seongmin-k/coupon-rush/internal/metrics"
)

var (
	// ErrValidation signals malformed request input
	ErrValidation = errors.New("invalid request")

	// ErrStockNotInitialized signals an event whose stock was never seeded.
	// Initialization is an explicit admin action; the issue path never seeds.
	ErrStockNotInitialized = errors.New("event stock not initialized")
)

// publishGrace bounds how long a post-decision publish (and compensation) may
// keep running after the request deadline fired. The decision must be made
// durable or rolled back even if the client is gone.
const publishGrace = 3 * time.Second

const maxIDLength = 50

// DecisionStore is the slice of the in-memory store the issue path uses
type DecisionStore interface {
	Issue(ctx context.Context, eventID, userID, couponID string, ttl time.Duration) (cache.IssueResult, error)
	Compensate(ctx context.Context, eventID, userID string) (bool, error)
	UserCoupon(ctx context.Context, eventID, userID string) (string, bool, error)
}

// EventPublisher appends records to the durable event log
type EventPublisher interface {
	PublishCouponIssued(ctx context.Context, userID, eventID, couponID string, issuedAt time.Time) error
	PublishCouponRedeemed(ctx context.Context, userID, eventID, couponID string, redeemedAt time.Time) error
	PublishStockExhausted(ctx context.Context, eventID string, remaining int64, at time.Time) error
}

// IssueOutcome is the synchronous business result of one issuance attempt.
// A non-nil outcome with Success=false is a definitive rejection, not an
// error: the HTTP layer maps it to 200.
type IssueOutcome struct {
	Success   bool
	CouponID  string
	Remaining int64
	Reason    string
}

// IssueService drives the synchronous issuance state machine:
// validate, decide atomically, publish for durability, respond.
type IssueService struct {
	store    DecisionStore
	producer EventPublisher
	ttl      time.Duration
}

// NewIssueService creates the issuance service. ttl is the participation
// horizon applied to the participant set and user slots on every grant.
func NewIssueService(store DecisionStore, producer EventPublisher, ttl time.Duration) *IssueService {
	return &IssueService{
		store:    store,
		producer: producer,
		ttl:      ttl,
	}
}

// Issue runs one issuance attempt end to end. Success is only reported after
// the issuance record is durably acknowledged by the event log; when the log
// cannot acknowledge, the in-memory decision is compensated and the attempt
// fails with stream.ErrPublishFailed so the client may safely retry.
func (s *IssueService) Issue(ctx context.Context, userID, eventID string) (*IssueOutcome, error) {
	start := time.Now()
	status := "store_error"
	defer func() {
		metrics.RecordIssueCouponDuration(status, time.Since(start).Seconds())
	}()

	if err := validateID("user_id", userID); err != nil {
		status = "invalid"
		return nil, err
	}
	if err := validateID("event_id", eventID); err != nil {
		status = "invalid"
		return nil, err
	}

	// Minted before the atomic decision so the same id correlates the user
	// slot, the log record, and the persisted row.
	couponID := uuid.NewString()

	result, err := s.store.Issue(ctx, eventID, userID, couponID, s.ttl)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case cache.StatusAlreadyParticipated:
		status = "duplicate"
		return &IssueOutcome{Success: false, Reason: result.Status}, nil
	case cache.StatusNoStock:
		status = "sold_out"
		return &IssueOutcome{Success: false, Reason: result.Status}, nil
	case cache.StatusNotInitialized:
		status = "not_initialized"
		return nil, fmt.Errorf("%w: %s", ErrStockNotInitialized, eventID)
	}

	// The decision is committed in memory. From here the publish must be seen
	// through to acknowledgement or explicit compensation, even if the
	// client's deadline fires meanwhile.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishGrace)
	defer cancel()

	issuedAt := time.Now()
	if err := s.producer.PublishCouponIssued(pubCtx, userID, eventID, result.CouponID, issuedAt); err != nil {
		status = "publish_error"
		s.compensate(pubCtx, eventID, userID)
		return nil, err
	}

	if result.Remaining <= 0 {
		// Best effort: the exhaustion marker only feeds the advisory mirror
		// on the event row.
		if err := s.producer.PublishStockExhausted(pubCtx, eventID, result.Remaining, issuedAt); err != nil {
			log.Printf("issue: failed to publish stock exhaustion for %s: %v", eventID, err)
		}
	}

	status = "success"
	return &IssueOutcome{
		Success:   true,
		CouponID:  result.CouponID,
		Remaining: result.Remaining,
	}, nil
}

// compensate rolls the atomic decision back after a failed publish. Failure
// here leaves the store ahead of the log; reconciliation reports it and an
// operator resolves it, the client has already received a 503 either way.
func (s *IssueService) compensate(ctx context.Context, eventID, userID string) {
	rolledBack, err := s.store.Compensate(ctx, eventID, userID)
	if err != nil {
		log.Printf("issue: compensation failed for user %s event %s: %v", userID, eventID, err)
		metrics.RecordCompensation("failed")
		return
	}
	if rolledBack {
		metrics.RecordCompensation("rolled_back")
	} else {
		metrics.RecordCompensation("noop")
	}
}

// Lookup returns the cached coupon id for a user, if one exists
func (s *IssueService) Lookup(ctx context.Context, userID, eventID string) (string, bool, error) {
	if err := validateID("user_id", userID); err != nil {
		return "", false, err
	}
	if err := validateID("event_id", eventID); err != nil {
		return "", false, err
	}
	return s.store.UserCoupon(ctx, eventID, userID)
}

// Redeem publishes a redemption record for an issued coupon. Validation
// against the persistent store happens in the durable writer; the cached slot
// is only consulted when still present to reject obvious mismatches early.
func (s *IssueService) Redeem(ctx context.Context, userID, eventID, couponID string) error {
	if err := validateID("user_id", userID); err != nil {
		return err
	}
	if err := validateID("event_id", eventID); err != nil {
		return err
	}
	if couponID == "" {
		return fmt.Errorf("%w: coupon_id must not be empty", ErrValidation)
	}

	cached, found, err := s.store.UserCoupon(ctx, eventID, userID)
	if err == nil && found && cached != couponID {
		return fmt.Errorf("%w: coupon_id does not match issued coupon", ErrValidation)
	}

	return s.producer.PublishCouponRedeemed(ctx, userID, eventID, couponID, time.Now())
}

func validateID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrValidation, field)
	}
	if len(value) > maxIDLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, maxIDLength)
	}
	return nil
}

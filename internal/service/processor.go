package service

import (
	"context"
	"errors"
	"log"

	"github.com/seongmin-k/coupon-rush/internal/model"
	"github.com/seongmin-k/coupon-rush/internal/repository"
	"github.com/seongmin-k/coupon-rush/internal/stream"
)

// RecordProcessor applies log records to the persistent store. Every apply is
// idempotent: replays after an offset-commit crash converge on the same rows.
type RecordProcessor struct {
	db        repository.DBExecutor
	events    *repository.EventRepository
	issuances *repository.IssuanceRepository
}

// NewRecordProcessor creates a processor writing through the given executor
func NewRecordProcessor(db repository.DBExecutor) *RecordProcessor {
	return &RecordProcessor{
		db:        db,
		events:    repository.NewEventRepository(),
		issuances: repository.NewIssuanceRepository(),
	}
}

// Handle applies one record. A returned error is transient (the consumer
// retries); definitive outcomes come back as a HandleResult.
func (p *RecordProcessor) Handle(ctx context.Context, env *stream.Envelope) (stream.HandleResult, error) {
	switch env.Type {
	case stream.TypeCouponIssued:
		return p.applyIssued(ctx, env.CouponIssued)
	case stream.TypeCouponRedeemed:
		return p.applyRedeemed(ctx, env.CouponRedeemed)
	case stream.TypeStockExhausted:
		return p.applyExhausted(ctx, env.StockExhausted)
	}
	// DecodeEnvelope already rejects unknown types; this is a backstop.
	return stream.ResultSkipped, nil
}

func (p *RecordProcessor) applyIssued(ctx context.Context, rec *stream.CouponIssued) (stream.HandleResult, error) {
	coupon := &model.UserCoupon{
		CouponID: rec.CouponID,
		UserID:   rec.UserID,
		EventID:  rec.EventID,
		IssuedAt: rec.IssuedAt,
	}

	err := p.issuances.InsertIssuance(ctx, p.db, coupon)
	if errors.Is(err, repository.ErrDuplicateIssuance) {
		// The intended row already exists: an offset-commit crash replay or a
		// duplicate delivery. Applied once is applied.
		return stream.ResultDuplicate, nil
	}
	if err != nil {
		return stream.ResultFailed, err
	}

	return stream.ResultApplied, nil
}

func (p *RecordProcessor) applyRedeemed(ctx context.Context, rec *stream.CouponRedeemed) (stream.HandleResult, error) {
	exists, err := p.issuances.CouponExists(ctx, p.db, rec.CouponID)
	if err != nil {
		return stream.ResultFailed, err
	}
	if !exists {
		// Redemption may outrun the issuance record only across partitions,
		// which keying on event_id:user_id prevents; an unknown coupon here
		// is a bad request, not a retryable state.
		log.Printf("processor: redemption for unknown coupon %s skipped", rec.CouponID)
		return stream.ResultSkipped, nil
	}

	marked, err := p.issuances.MarkRedeemed(ctx, p.db, rec.CouponID, rec.RedeemedAt)
	if err != nil {
		return stream.ResultFailed, err
	}

	usage := &model.CouponUsage{
		CouponID: rec.CouponID,
		UserID:   rec.UserID,
		EventID:  rec.EventID,
		UsedAt:   rec.RedeemedAt,
	}
	err = p.issuances.InsertUsage(ctx, p.db, usage)
	if errors.Is(err, repository.ErrDuplicateIssuance) {
		return stream.ResultDuplicate, nil
	}
	if err != nil {
		// The used flag may already be set while the usage row is missing;
		// replaying converges because MarkRedeemed no-ops and this insert
		// runs again.
		return stream.ResultFailed, err
	}

	if !marked {
		return stream.ResultDuplicate, nil
	}
	return stream.ResultApplied, nil
}

func (p *RecordProcessor) applyExhausted(ctx context.Context, rec *stream.StockExhausted) (stream.HandleResult, error) {
	err := p.events.SetExhausted(ctx, p.db, rec.EventID, rec.RemainingStock)
	if errors.Is(err, repository.ErrEventNotFound) {
		log.Printf("processor: exhaustion for unknown event %s skipped", rec.EventID)
		return stream.ResultSkipped, nil
	}
	if err != nil {
		return stream.ResultFailed, err
	}

	return stream.ResultApplied, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/seongmin-k/coupon-rush/internal/model"
	"github.com/seongmin-k/coupon-rush/internal/repository"
)

// AdminStore is the slice of the in-memory store the admin surface uses
type AdminStore interface {
	InitializeStock(ctx context.Context, eventID string, stock int64, ttl time.Duration) (bool, error)
	Remaining(ctx context.Context, eventID string) (int64, bool, error)
	ParticipantCount(ctx context.Context, eventID string) (int64, error)
	InvalidateEvent(ctx context.Context, eventID string) error
}

// EventStatus is the admin view of one event: the first two counters come
// from the in-memory store (the decision authority), the third from the
// persistent store (the history authority).
type EventStatus struct {
	EventID           string `json:"event_id"`
	RemainingStock    int64  `json:"remaining_stock"`
	TotalParticipants int64  `json:"total_participants"`
	TotalIssued       int64  `json:"total_issued"`
	Initialized       bool   `json:"initialized"`
}

// CreateEventParams carries the metadata for a new coupon event
type CreateEventParams struct {
	EventID     string    `json:"event_id"`
	EventName   string    `json:"event_name"`
	Description string    `json:"description"`
	TotalStock  int64     `json:"total_stock"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// AdminService owns the event lifecycle: create, initialize stock, query
// status, deactivate.
type AdminService struct {
	db        repository.DBExecutor
	events    *repository.EventRepository
	issuances *repository.IssuanceRepository
	store     AdminStore
	ttl       time.Duration
}

// NewAdminService creates the admin service
func NewAdminService(db repository.DBExecutor, store AdminStore, ttl time.Duration) *AdminService {
	return &AdminService{
		db:        db,
		events:    repository.NewEventRepository(),
		issuances: repository.NewIssuanceRepository(),
		store:     store,
		ttl:       ttl,
	}
}

// CreateEvent records the campaign metadata. Stock is not seeded here;
// initialization stays a separate explicit action.
func (s *AdminService) CreateEvent(ctx context.Context, params CreateEventParams) (*model.CouponEvent, error) {
	if err := validateID("event_id", params.EventID); err != nil {
		return nil, err
	}
	if params.EventName == "" {
		return nil, fmt.Errorf("%w: event_name must not be empty", ErrValidation)
	}
	if params.TotalStock < 0 {
		return nil, fmt.Errorf("%w: total_stock must not be negative", ErrValidation)
	}
	if params.EndTime.Before(params.StartTime) {
		return nil, fmt.Errorf("%w: end_time precedes start_time", ErrValidation)
	}

	event := &model.CouponEvent{
		EventID:        params.EventID,
		EventName:      params.EventName,
		Description:    params.Description,
		TotalStock:     params.TotalStock,
		RemainingStock: params.TotalStock,
		StartTime:      params.StartTime,
		EndTime:        params.EndTime,
		IsActive:       true,
	}
	if err := s.events.CreateEvent(ctx, s.db, event); err != nil {
		return nil, err
	}

	return event, nil
}

// InitializeStock writes the stock columns and seeds the in-memory counter in
// one logical action. Both halves tolerate re-runs: the upsert converges and
// the seed is SET NX, so a partial failure is repaired by calling again.
// Returns true when this call created the in-memory counter.
func (s *AdminService) InitializeStock(ctx context.Context, eventID string, total int64) (bool, error) {
	if err := validateID("event_id", eventID); err != nil {
		return false, err
	}
	if total < 0 {
		return false, fmt.Errorf("%w: initial_stock must not be negative", ErrValidation)
	}

	if err := s.events.UpsertStock(ctx, s.db, eventID, total); err != nil {
		return false, err
	}

	created, err := s.store.InitializeStock(ctx, eventID, total, s.ttl)
	if err != nil {
		return false, err
	}

	return created, nil
}

// Status reports the live counters for an event
func (s *AdminService) Status(ctx context.Context, eventID string) (*EventStatus, error) {
	if err := validateID("event_id", eventID); err != nil {
		return nil, err
	}

	remaining, initialized, err := s.store.Remaining(ctx, eventID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ParticipantCount(ctx, eventID)
	if err != nil {
		return nil, err
	}
	issued, err := s.issuances.CountByEvent(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}

	return &EventStatus{
		EventID:           eventID,
		RemainingStock:    remaining,
		TotalParticipants: participants,
		TotalIssued:       issued,
		Initialized:       initialized,
	}, nil
}

// DeactivateEvent flips the active flag and drops the event's in-memory keys
func (s *AdminService) DeactivateEvent(ctx context.Context, eventID string) error {
	if err := validateID("event_id", eventID); err != nil {
		return err
	}

	if err := s.events.DeactivateEvent(ctx, s.db, eventID); err != nil {
		return err
	}

	return s.store.InvalidateEvent(ctx, eventID)
}

package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/seongmin-k/coupon-rush/internal/metrics"
	"github.com/seongmin-k/coupon-rush/internal/repository"
)

// Discrepancy classifications
const (
	ReconcileOK        = "ok"
	ReconcileLag       = "lag"       // db behind store, event still running
	ReconcileGap       = "gap"       // db behind store after event end: lost or dead-lettered records
	ReconcileOvershoot = "overshoot" // db ahead of store: invariant violation
)

// ReconcileStore is the slice of the in-memory store the reconciler reads
type ReconcileStore interface {
	ParticipantCount(ctx context.Context, eventID string) (int64, error)
}

// ReconcileReport is the outcome of cross-checking one event
type ReconcileReport struct {
	EventID      string
	Participants int64
	Persisted    int64
	Kind         string
}

// Reconciler periodically cross-checks in-memory participant counts against
// persisted issuance rows. It only reports; it never mutates either side.
type Reconciler struct {
	db        repository.DBExecutor
	events    *repository.EventRepository
	issuances *repository.IssuanceRepository
	store     ReconcileStore
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(db repository.DBExecutor, store ReconcileStore) *Reconciler {
	return &Reconciler{
		db:        db,
		events:    repository.NewEventRepository(),
		issuances: repository.NewIssuanceRepository(),
		store:     store,
		now:       time.Now,
	}
}

// RunOnce cross-checks every active event and returns the reports
func (r *Reconciler) RunOnce(ctx context.Context) ([]ReconcileReport, error) {
	events, err := r.events.ListActiveEvents(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for reconciliation: %w", err)
	}

	reports := make([]ReconcileReport, 0, len(events))
	for _, event := range events {
		participants, err := r.store.ParticipantCount(ctx, event.EventID)
		if err != nil {
			log.Printf("reconciler: skipping %s, store read failed: %v", event.EventID, err)
			continue
		}
		persisted, err := r.issuances.CountByEvent(ctx, r.db, event.EventID)
		if err != nil {
			log.Printf("reconciler: skipping %s, db count failed: %v", event.EventID, err)
			continue
		}

		report := ReconcileReport{
			EventID:      event.EventID,
			Participants: participants,
			Persisted:    persisted,
			Kind:         r.classify(participants, persisted, event.EndTime),
		}
		reports = append(reports, report)
		r.emit(report)
	}

	return reports, nil
}

// classify maps a counter pair onto a discrepancy kind. The consumer may lag
// but must never overshoot: persisted rows above the participant count mean
// the stock or uniqueness invariant broke somewhere.
func (r *Reconciler) classify(participants, persisted int64, endTime time.Time) string {
	switch {
	case persisted == participants:
		return ReconcileOK
	case persisted > participants:
		return ReconcileOvershoot
	case r.now().After(endTime):
		return ReconcileGap
	default:
		return ReconcileLag
	}
}

func (r *Reconciler) emit(report ReconcileReport) {
	gap := float64(report.Participants - report.Persisted)
	metrics.RecordReconcileDiscrepancy(report.EventID, report.Kind, gap)

	switch report.Kind {
	case ReconcileOK:
	case ReconcileLag:
		log.Printf("reconciler: event %s lagging, store=%d db=%d",
			report.EventID, report.Participants, report.Persisted)
	case ReconcileGap:
		log.Printf("reconciler: WARNING event %s has a stable gap, store=%d db=%d, check the dead-letter topic",
			report.EventID, report.Participants, report.Persisted)
	case ReconcileOvershoot:
		log.Printf("reconciler: CRITICAL event %s persisted more issuances than participants, store=%d db=%d",
			report.EventID, report.Participants, report.Persisted)
	}
}

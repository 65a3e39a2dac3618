package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	r := &Reconciler{now: func() time.Time { return now }}

	running := now.Add(time.Hour)
	ended := now.Add(-time.Hour)

	tests := []struct {
		name         string
		participants int64
		persisted    int64
		endTime      time.Time
		want         string
	}{
		{"quiescent match", 100, 100, running, ReconcileOK},
		{"consumer lagging", 100, 80, running, ReconcileLag},
		{"stable gap after end", 100, 80, ended, ReconcileGap},
		{"overshoot running", 100, 120, running, ReconcileOvershoot},
		{"overshoot ended", 100, 120, ended, ReconcileOvershoot},
		{"empty event", 0, 0, running, ReconcileOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.classify(tt.participants, tt.persisted, tt.endTime))
		})
	}
}

func TestRunOnce(t *testing.T) {
	db := newFakeDB()
	ctx := context.Background()

	// Two active events plus one deactivated that must be ignored.
	_, err := db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e1", int64(100))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e2", int64(100))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e3", int64(100))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "UPDATE coupon_events SET is_active = FALSE", "e3")
	require.NoError(t, err)

	p := NewRecordProcessor(db)
	for _, c := range []string{"c1", "c2"} {
		_, err := p.Handle(ctx, issuedEnvelope(c, "user-"+c, "e1"))
		require.NoError(t, err)
	}

	store := &fakeReconcileStore{counts: map[string]int64{"e1": 5, "e2": 0}}
	r := NewReconciler(db, store)

	reports, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byEvent := make(map[string]ReconcileReport, len(reports))
	for _, rep := range reports {
		byEvent[rep.EventID] = rep
	}

	assert.Equal(t, int64(5), byEvent["e1"].Participants)
	assert.Equal(t, int64(2), byEvent["e1"].Persisted)
	assert.Equal(t, ReconcileLag, byEvent["e1"].Kind)
	assert.Equal(t, ReconcileOK, byEvent["e2"].Kind)
}

func TestRunOnceDetectsOvershoot(t *testing.T) {
	db := newFakeDB()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e1", int64(100))
	require.NoError(t, err)

	p := NewRecordProcessor(db)
	for _, c := range []string{"c1", "c2", "c3"} {
		_, err := p.Handle(ctx, issuedEnvelope(c, "user-"+c, "e1"))
		require.NoError(t, err)
	}

	// More persisted rows than participants: the invariant broke somewhere.
	store := &fakeReconcileStore{counts: map[string]int64{"e1": 1}}
	r := NewReconciler(db, store)

	reports, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ReconcileOvershoot, reports[0].Kind)
}

func TestRunOnceSkipsUnreadableEvents(t *testing.T) {
	db := newFakeDB()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e1", int64(100))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "ON CONFLICT (event_id) DO UPDATE", "e2", int64(100))
	require.NoError(t, err)

	store := &fakeReconcileStore{
		counts: map[string]int64{"e2": 0},
		errs:   map[string]error{"e1": errTransient},
	}
	r := NewReconciler(db, store)

	reports, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "e2", reports[0].EventID)
}

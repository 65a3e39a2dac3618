package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() CreateEventParams {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return CreateEventParams{
		EventID:     "e1",
		EventName:   "summer launch",
		Description: "first come first served",
		TotalStock:  1000,
		StartTime:   start,
		EndTime:     start.Add(48 * time.Hour),
	}
}

func TestCreateEvent(t *testing.T) {
	db := newFakeDB()
	svc := NewAdminService(db, newFakeAdminStore(), time.Hour)

	event, err := svc.CreateEvent(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, int64(1000), event.TotalStock)
	assert.Equal(t, int64(1000), event.RemainingStock)
	assert.True(t, event.IsActive)
	assert.NotZero(t, event.ID)

	row, ok := db.events["e1"]
	require.True(t, ok)
	assert.Equal(t, "summer launch", row.EventName)
}

func TestCreateEventDuplicate(t *testing.T) {
	db := newFakeDB()
	svc := NewAdminService(db, newFakeAdminStore(), time.Hour)

	_, err := svc.CreateEvent(context.Background(), validParams())
	require.NoError(t, err)

	_, err = svc.CreateEvent(context.Background(), validParams())
	assert.Error(t, err)
}

func TestCreateEventValidation(t *testing.T) {
	svc := NewAdminService(newFakeDB(), newFakeAdminStore(), time.Hour)

	tests := []struct {
		name   string
		mutate func(*CreateEventParams)
	}{
		{"empty event id", func(p *CreateEventParams) { p.EventID = "" }},
		{"empty name", func(p *CreateEventParams) { p.EventName = "" }},
		{"negative stock", func(p *CreateEventParams) { p.TotalStock = -1 }},
		{"end before start", func(p *CreateEventParams) { p.EndTime = p.StartTime.Add(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			_, err := svc.CreateEvent(context.Background(), params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestInitializeStock(t *testing.T) {
	db := newFakeDB()
	store := newFakeAdminStore()
	svc := NewAdminService(db, store, time.Hour)

	created, err := svc.InitializeStock(context.Background(), "e1", 500)
	require.NoError(t, err)
	assert.True(t, created)

	// Both halves of the logical action happened.
	assert.Equal(t, int64(500), db.events["e1"].TotalStock)
	assert.Equal(t, int64(500), store.seeded["e1"])
}

func TestInitializeStockRerunIsNoop(t *testing.T) {
	db := newFakeDB()
	store := newFakeAdminStore()
	svc := NewAdminService(db, store, time.Hour)

	created, err := svc.InitializeStock(context.Background(), "e1", 500)
	require.NoError(t, err)
	require.True(t, created)

	created, err = svc.InitializeStock(context.Background(), "e1", 500)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(500), store.seeded["e1"])
}

func TestInitializeStockRepairsPartialFailure(t *testing.T) {
	db := newFakeDB()
	store := newFakeAdminStore()
	store.initErr = errTransient
	svc := NewAdminService(db, store, time.Hour)

	// The db half landed, the store half failed.
	_, err := svc.InitializeStock(context.Background(), "e1", 500)
	require.Error(t, err)
	assert.Equal(t, int64(500), db.events["e1"].TotalStock)
	assert.Empty(t, store.seeded)

	// Calling again completes the seed.
	store.initErr = nil
	created, err := svc.InitializeStock(context.Background(), "e1", 500)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(500), store.seeded["e1"])
}

func TestInitializeStockValidation(t *testing.T) {
	svc := NewAdminService(newFakeDB(), newFakeAdminStore(), time.Hour)

	_, err := svc.InitializeStock(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.InitializeStock(context.Background(), "e1", -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatus(t *testing.T) {
	db := newFakeDB()
	store := newFakeAdminStore()
	store.remaining = 7
	store.remainingOK = true
	store.participants = 93
	svc := NewAdminService(db, store, time.Hour)

	p := NewRecordProcessor(db)
	for _, c := range []string{"c1", "c2", "c3"} {
		_, err := p.Handle(context.Background(), issuedEnvelope(c, "user-"+c, "e1"))
		require.NoError(t, err)
	}

	status, err := svc.Status(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), status.RemainingStock)
	assert.Equal(t, int64(93), status.TotalParticipants)
	assert.Equal(t, int64(3), status.TotalIssued)
	assert.True(t, status.Initialized)
}

func TestDeactivateEvent(t *testing.T) {
	db := newFakeDB()
	store := newFakeAdminStore()
	svc := NewAdminService(db, store, time.Hour)

	_, err := svc.CreateEvent(context.Background(), validParams())
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateEvent(context.Background(), "e1"))
	assert.False(t, db.events["e1"].IsActive)
	assert.Equal(t, []string{"e1"}, store.invalidated)
}

func TestDeactivateUnknownEvent(t *testing.T) {
	svc := NewAdminService(newFakeDB(), newFakeAdminStore(), time.Hour)

	err := svc.DeactivateEvent(context.Background(), "ghost")
	assert.Error(t, err)
}

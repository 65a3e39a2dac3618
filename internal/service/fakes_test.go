package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/seongmin-k/coupon-rush/internal/cache"
	"github.com/seongmin-k/coupon-rush/internal/model"
)

var errTransient = errors.New("connection reset by peer")

// fakeDB is an in-memory stand-in for the repositories' DBExecutor. It
// dispatches on the query text and enforces the same unique constraints the
// real schema carries, so idempotence paths behave as in production.
type fakeDB struct {
	mu        sync.Mutex
	events    map[string]*model.CouponEvent
	coupons   map[string]*model.UserCoupon
	userEvent map[string]string
	usage     map[string]*model.CouponUsage
	nextID    int64
	failing   int // upcoming calls to fail with errTransient
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		events:    make(map[string]*model.CouponEvent),
		coupons:   make(map[string]*model.UserCoupon),
		userEvent: make(map[string]string),
		usage:     make(map[string]*model.CouponUsage),
	}
}

func (f *fakeDB) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = n
}

func (f *fakeDB) transient() error {
	if f.failing > 0 {
		f.failing--
		return errTransient
	}
	return nil
}

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(query, "ON CONFLICT (event_id)"):
		eventID, total := args[0].(string), args[1].(int64)
		if ev, ok := f.events[eventID]; ok {
			ev.TotalStock = total
			ev.RemainingStock = total
			ev.UpdatedAt = time.Now()
		} else {
			f.nextID++
			now := time.Now()
			f.events[eventID] = &model.CouponEvent{
				ID: f.nextID, EventID: eventID, EventName: eventID,
				TotalStock: total, RemainingStock: total,
				StartTime: now, EndTime: now.Add(24 * time.Hour),
				IsActive: true, CreatedAt: now, UpdatedAt: now,
			}
		}
		return fakeResult{rows: 1}, nil

	case strings.Contains(query, "UPDATE user_coupons"):
		usedAt, couponID := args[0].(time.Time), args[1].(string)
		c, ok := f.coupons[couponID]
		if !ok || c.IsUsed {
			return fakeResult{rows: 0}, nil
		}
		c.IsUsed = true
		c.UsedAt = sql.NullTime{Time: usedAt, Valid: true}
		return fakeResult{rows: 1}, nil

	case strings.Contains(query, "remaining_stock = $1"):
		remaining, eventID := args[0].(int64), args[1].(string)
		ev, ok := f.events[eventID]
		if !ok {
			return fakeResult{rows: 0}, nil
		}
		ev.RemainingStock = remaining
		ev.IsActive = false
		return fakeResult{rows: 1}, nil

	case strings.Contains(query, "is_active = FALSE"):
		eventID := args[0].(string)
		ev, ok := f.events[eventID]
		if !ok {
			return fakeResult{rows: 0}, nil
		}
		ev.IsActive = false
		return fakeResult{rows: 1}, nil
	}

	return nil, fmt.Errorf("fakeDB: unhandled exec %q", query)
}

func (f *fakeDB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return err
	}

	switch {
	case strings.Contains(query, "INSERT INTO user_coupons"):
		couponID, userID, eventID := args[0].(string), args[1].(string), args[2].(string)
		if _, dup := f.coupons[couponID]; dup {
			return uniqueViolation()
		}
		if _, dup := f.userEvent[userID+"|"+eventID]; dup {
			return uniqueViolation()
		}
		f.nextID++
		f.coupons[couponID] = &model.UserCoupon{
			ID: f.nextID, CouponID: couponID, UserID: userID, EventID: eventID,
			IssuedAt: args[3].(time.Time),
		}
		f.userEvent[userID+"|"+eventID] = couponID
		*dest.(*int64) = f.nextID
		return nil

	case strings.Contains(query, "INSERT INTO coupon_usage"):
		couponID := args[0].(string)
		if _, dup := f.usage[couponID]; dup {
			return uniqueViolation()
		}
		f.nextID++
		f.usage[couponID] = &model.CouponUsage{
			ID: f.nextID, CouponID: couponID, UserID: args[1].(string),
			EventID: args[2].(string), UsedAt: args[3].(time.Time),
			UsageContext: args[4].(string),
		}
		*dest.(*int64) = f.nextID
		return nil

	case strings.Contains(query, "INSERT INTO coupon_events"):
		eventID := args[0].(string)
		if _, dup := f.events[eventID]; dup {
			return uniqueViolation()
		}
		f.nextID++
		f.events[eventID] = &model.CouponEvent{
			ID: f.nextID, EventID: eventID, EventName: args[1].(string),
			Description: args[2].(string), TotalStock: args[3].(int64),
			RemainingStock: args[4].(int64), StartTime: args[5].(time.Time),
			EndTime: args[6].(time.Time), IsActive: args[7].(bool),
			CreatedAt: args[8].(time.Time), UpdatedAt: args[9].(time.Time),
		}
		*dest.(*int64) = f.nextID
		return nil

	case strings.Contains(query, "COUNT(*) FROM user_coupons WHERE event_id"):
		eventID := args[0].(string)
		var n int64
		for _, c := range f.coupons {
			if c.EventID == eventID {
				n++
			}
		}
		*dest.(*int64) = n
		return nil

	case strings.Contains(query, "COUNT(*) FROM user_coupons WHERE coupon_id"):
		var n int64
		if _, ok := f.coupons[args[0].(string)]; ok {
			n = 1
		}
		*dest.(*int64) = n
		return nil

	case strings.Contains(query, "FROM user_coupons"):
		c, ok := f.coupons[args[0].(string)]
		if !ok {
			return sql.ErrNoRows
		}
		*dest.(*model.UserCoupon) = *c
		return nil

	case strings.Contains(query, "FROM coupon_events"):
		ev, ok := f.events[args[0].(string)]
		if !ok {
			return sql.ErrNoRows
		}
		*dest.(*model.CouponEvent) = *ev
		return nil
	}

	return fmt.Errorf("fakeDB: unhandled get %q", query)
}

func (f *fakeDB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return err
	}

	if strings.Contains(query, "is_active = TRUE") {
		events := make([]model.CouponEvent, 0, len(f.events))
		for _, ev := range f.events {
			if ev.IsActive {
				events = append(events, *ev)
			}
		}
		sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
		*dest.(*[]model.CouponEvent) = events
		return nil
	}

	return fmt.Errorf("fakeDB: unhandled select %q", query)
}

// fakeDecisionStore records issue/compensate calls for the issue service tests
type fakeDecisionStore struct {
	mu            sync.Mutex
	status        string
	remaining     int64
	issueErr      error
	issuedCoupons []string
	compensated   []string
	compensateErr error
	cachedCoupon  string
	cachedFound   bool
	cachedErr     error
}

func (f *fakeDecisionStore) Issue(ctx context.Context, eventID, userID, couponID string, ttl time.Duration) (cache.IssueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return cache.IssueResult{}, f.issueErr
	}
	if f.status != cache.StatusSuccess {
		return cache.IssueResult{Status: f.status}, nil
	}
	f.issuedCoupons = append(f.issuedCoupons, couponID)
	return cache.IssueResult{Status: cache.StatusSuccess, CouponID: couponID, Remaining: f.remaining}, nil
}

func (f *fakeDecisionStore) Compensate(ctx context.Context, eventID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compensateErr != nil {
		return false, f.compensateErr
	}
	f.compensated = append(f.compensated, eventID+"|"+userID)
	return true, nil
}

func (f *fakeDecisionStore) UserCoupon(ctx context.Context, eventID, userID string) (string, bool, error) {
	return f.cachedCoupon, f.cachedFound, f.cachedErr
}

type publishedRecord struct {
	kind     string
	userID   string
	eventID  string
	couponID string
}

// fakePublisher records published envelopes and can fail selectively
type fakePublisher struct {
	mu          sync.Mutex
	records     []publishedRecord
	issueErr    error
	redeemErr   error
	exhaustErr  error
	lastCtxErr  error
	exhaustSeen int
}

func (f *fakePublisher) PublishCouponIssued(ctx context.Context, userID, eventID, couponID string, issuedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCtxErr = ctx.Err()
	if f.issueErr != nil {
		return f.issueErr
	}
	f.records = append(f.records, publishedRecord{kind: "issued", userID: userID, eventID: eventID, couponID: couponID})
	return nil
}

func (f *fakePublisher) PublishCouponRedeemed(ctx context.Context, userID, eventID, couponID string, redeemedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemErr != nil {
		return f.redeemErr
	}
	f.records = append(f.records, publishedRecord{kind: "redeemed", userID: userID, eventID: eventID, couponID: couponID})
	return nil
}

func (f *fakePublisher) PublishStockExhausted(ctx context.Context, eventID string, remaining int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhaustSeen++
	if f.exhaustErr != nil {
		return f.exhaustErr
	}
	f.records = append(f.records, publishedRecord{kind: "exhausted", eventID: eventID})
	return nil
}

// fakeAdminStore is the in-memory store slice the admin service sees
type fakeAdminStore struct {
	seeded       map[string]int64
	remaining    int64
	remainingOK  bool
	participants int64
	invalidated  []string
	initErr      error
	readErr      error
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{seeded: make(map[string]int64)}
}

func (f *fakeAdminStore) InitializeStock(ctx context.Context, eventID string, stock int64, ttl time.Duration) (bool, error) {
	if f.initErr != nil {
		return false, f.initErr
	}
	if _, ok := f.seeded[eventID]; ok {
		return false, nil
	}
	f.seeded[eventID] = stock
	return true, nil
}

func (f *fakeAdminStore) Remaining(ctx context.Context, eventID string) (int64, bool, error) {
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	return f.remaining, f.remainingOK, nil
}

func (f *fakeAdminStore) ParticipantCount(ctx context.Context, eventID string) (int64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.participants, nil
}

func (f *fakeAdminStore) InvalidateEvent(ctx context.Context, eventID string) error {
	f.invalidated = append(f.invalidated, eventID)
	return nil
}

// fakeReconcileStore serves per-event participant counts
type fakeReconcileStore struct {
	counts map[string]int64
	errs   map[string]error
}

func (f *fakeReconcileStore) ParticipantCount(ctx context.Context, eventID string) (int64, error) {
	if err := f.errs[eventID]; err != nil {
		return 0, err
	}
	return f.counts[eventID], nil
}

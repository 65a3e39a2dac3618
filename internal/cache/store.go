package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Issue outcome codes returned by the atomic script
const (
	StatusSuccess             = "SUCCESS"
	StatusAlreadyParticipated = "USER_ALREADY_PARTICIPATED"
	StatusNoStock             = "NO_STOCK_AVAILABLE"
	StatusNotInitialized      = "STOCK_NOT_INITIALIZED"
)

var (
	// ErrStoreUnavailable signals a connection or cluster failure before the
	// script could be evaluated
	ErrStoreUnavailable = errors.New("in-memory store unavailable")

	// ErrScriptReply signals a malformed reply from the atomic script
	ErrScriptReply = errors.New("malformed script reply")
)

// IssueResult is the outcome of one atomic issuance attempt
type IssueResult struct {
	Status    string
	CouponID  string
	Remaining int64
}

// Granted reports whether the attempt debited stock
func (r IssueResult) Granted() bool {
	return r.Status == StatusSuccess
}

// Store is the typed client for the in-memory decision store. All mutations
// on the issuance path go through the atomic scripts; plain commands are used
// only for reads and explicit admin actions (seeding, invalidation).
type Store struct {
	client redis.UniversalClient
}

// NewStore creates a store client over an existing redis client
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewClient builds the underlying redis client from a node list. addrs with
// more than one entry selects a cluster client, matching the hash-tagged key
// layout.
func NewClient(addrs []string, password string, dialTimeout, readTimeout time.Duration, poolSize int) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		Password:    password,
		DialTimeout: dialTimeout,
		ReadTimeout: readTimeout,
		PoolSize:    poolSize,
	})
}

// Key layout. The braces are the cluster hash tag: every key of one event
// hashes to the same slot, which the atomic scripts rely on.
func stockKey(eventID string) string {
	return fmt.Sprintf("coupon:{%s}:stock", eventID)
}

func participantsKey(eventID string) string {
	return fmt.Sprintf("coupon:{%s}:participants", eventID)
}

func userCouponKey(eventID, userID string) string {
	return fmt.Sprintf("coupon:user:{%s}:%s", eventID, userID)
}

// InitializeStock seeds the stock counter for an event. SET NX makes re-runs
// no-ops; returns true when this call created the counter. The TTL bounds the
// counter's life to the participation horizon. The participant set is not
// touched: once the counter has expired a new call re-seeds it, and users
// still in a live participant set stay excluded until that set expires.
func (s *Store) InitializeStock(ctx context.Context, eventID string, stock int64, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, stockKey(eventID), stock, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return created, nil
}

// Issue runs the atomic decision script once. It is never retried here: a
// successful evaluation has already debited stock, so a blind retry could
// double-debit on an ambiguous network failure.
func (s *Store) Issue(ctx context.Context, eventID, userID, couponID string, ttl time.Duration) (IssueResult, error) {
	keys := []string{stockKey(eventID), participantsKey(eventID), userCouponKey(eventID, userID)}
	raw, err := issueScript.Run(ctx, s.client, keys, userID, couponID, int64(ttl.Seconds())).Result()
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseIssueReply(raw)
}

func parseIssueReply(raw interface{}) (IssueResult, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 2 {
		return IssueResult{}, fmt.Errorf("%w: %T", ErrScriptReply, raw)
	}

	flag, ok := reply[0].(int64)
	if !ok {
		return IssueResult{}, fmt.Errorf("%w: flag %T", ErrScriptReply, reply[0])
	}
	status, ok := reply[1].(string)
	if !ok {
		return IssueResult{}, fmt.Errorf("%w: status %T", ErrScriptReply, reply[1])
	}

	if flag != 1 {
		switch status {
		case StatusAlreadyParticipated, StatusNoStock, StatusNotInitialized:
			return IssueResult{Status: status}, nil
		}
		return IssueResult{}, fmt.Errorf("%w: unknown status %q", ErrScriptReply, status)
	}

	if len(reply) < 4 {
		return IssueResult{}, fmt.Errorf("%w: short success reply", ErrScriptReply)
	}
	couponID, ok := reply[2].(string)
	if !ok {
		return IssueResult{}, fmt.Errorf("%w: coupon id %T", ErrScriptReply, reply[2])
	}
	remaining, ok := reply[3].(int64)
	if !ok {
		return IssueResult{}, fmt.Errorf("%w: remaining %T", ErrScriptReply, reply[3])
	}

	return IssueResult{Status: StatusSuccess, CouponID: couponID, Remaining: remaining}, nil
}

// Compensate reverses one issuance after a failed publish. Returns true when
// the user was present and has been rolled back; false means the decision was
// already compensated (or never happened), which callers treat as done.
func (s *Store) Compensate(ctx context.Context, eventID, userID string) (bool, error) {
	keys := []string{stockKey(eventID), participantsKey(eventID), userCouponKey(eventID, userID)}
	n, err := compensateScript.Run(ctx, s.client, keys, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Remaining returns the current stock counter. The second return is false
// when the counter is not initialized (or has expired).
func (s *Store) Remaining(ctx context.Context, eventID string) (int64, bool, error) {
	n, err := s.readInt(ctx, stockKey(eventID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, true, nil
}

// ParticipantCount returns the cardinality of the participant set
func (s *Store) ParticipantCount(ctx context.Context, eventID string) (int64, error) {
	n, err := s.client.SCard(ctx, participantsKey(eventID)).Result()
	if err != nil {
		n, err = s.client.SCard(ctx, participantsKey(eventID)).Result()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// UserCoupon returns the cached coupon id for a user, if any
func (s *Store) UserCoupon(ctx context.Context, eventID, userID string) (string, bool, error) {
	v, err := s.client.Get(ctx, userCouponKey(eventID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		v, err = s.client.Get(ctx, userCouponKey(eventID, userID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return v, true, nil
}

// InvalidateEvent drops the stock counter and participant set for an event.
// Per-user slots are left to expire on their own TTL; scanning the keyspace
// for them is too expensive on a hot cluster.
func (s *Store) InvalidateEvent(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, stockKey(eventID), participantsKey(eventID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping reports store reachability for health checks
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// readInt GETs a key and parses it as int64, retrying once on a transient
// failure. Reads are idempotent, so the retry is safe.
func (s *Store) readInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		n, err = s.client.Get(ctx, key).Int64()
	}
	return n, err
}

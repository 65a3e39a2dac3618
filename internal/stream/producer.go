package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/seongmin-k/coupon-rush/internal/metrics"
)

// ErrPublishFailed signals that a record could not be made durable within the
// producer's retry budget
var ErrPublishFailed = errors.New("failed to publish event")

// messageWriter is the slice of kafka.Writer the producer needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer appends issuance records to the event log. Writes wait for
// acknowledgement from all replicas, so a nil return means the record is
// durable and will reach a consumer at least once.
type Producer struct {
	writer   messageWriter
	brokers  []string
	attempts int
	backoff  time.Duration
}

// NewProducer creates a producer for the given topic. attempts and backoff
// bound the retry budget of a single publish call; the defaults keep the
// whole budget under ~100ms to protect the synchronous response path.
func NewProducer(brokers []string, topic string, attempts int, backoff time.Duration) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1, // retries are owned by publish so the budget stays bounded
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{
		writer:   writer,
		brokers:  brokers,
		attempts: attempts,
		backoff:  backoff,
	}
}

// PublishCouponIssued appends an issuance record and waits for durability
func (p *Producer) PublishCouponIssued(ctx context.Context, userID, eventID, couponID string, issuedAt time.Time) error {
	env := &Envelope{
		RecordID:      uuid.NewString(),
		Type:          TypeCouponIssued,
		SchemaVersion: SchemaVersion,
		Timestamp:     issuedAt,
		CouponIssued: &CouponIssued{
			CouponID: couponID,
			UserID:   userID,
			EventID:  eventID,
			IssuedAt: issuedAt,
		},
	}
	return p.publish(ctx, env)
}

// PublishCouponRedeemed appends a redemption record
func (p *Producer) PublishCouponRedeemed(ctx context.Context, userID, eventID, couponID string, redeemedAt time.Time) error {
	env := &Envelope{
		RecordID:      uuid.NewString(),
		Type:          TypeCouponRedeemed,
		SchemaVersion: SchemaVersion,
		Timestamp:     redeemedAt,
		CouponRedeemed: &CouponRedeemed{
			CouponID:   couponID,
			UserID:     userID,
			EventID:    eventID,
			RedeemedAt: redeemedAt,
		},
	}
	return p.publish(ctx, env)
}

// PublishStockExhausted appends a stock exhaustion marker
func (p *Producer) PublishStockExhausted(ctx context.Context, eventID string, remaining int64, at time.Time) error {
	env := &Envelope{
		RecordID:      uuid.NewString(),
		Type:          TypeStockExhausted,
		SchemaVersion: SchemaVersion,
		Timestamp:     at,
		StockExhausted: &StockExhausted{
			EventID:        eventID,
			RemainingStock: remaining,
			ExhaustedAt:    at,
		},
	}
	return p.publish(ctx, env)
}

// publish writes one record with bounded exponential backoff
func (p *Producer) publish(ctx context.Context, env *Envelope) error {
	value, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", env.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(env.PartitionKey()),
		Value: value,
	}

	backoff := p.backoff
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		lastErr = p.writer.WriteMessages(ctx, msg)
		if lastErr == nil {
			return nil
		}
		metrics.RecordPublishRetry(env.Type)
		if attempt < p.attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// The caller decides whether a post-decision publish may be
				// abandoned; here we only stop burning the budget.
				metrics.RecordPublishFailure(env.Type)
				return fmt.Errorf("%w: %v", ErrPublishFailed, ctx.Err())
			}
			backoff *= 2
		}
	}

	log.Printf("producer: giving up on %s record after %d attempts: %v", env.Type, p.attempts, lastErr)
	metrics.RecordPublishFailure(env.Type)
	return fmt.Errorf("%w: %v", ErrPublishFailed, lastErr)
}

// Ping reports log reachability for health checks
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	return conn.Close()
}

// Close flushes and closes the underlying writer
func (p *Producer) Close() error {
	if w, ok := p.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}

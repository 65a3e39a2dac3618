package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/seongmin-k/coupon-rush/internal/metrics"
)

// HandleResult is the definitive outcome of applying one record
type HandleResult string

const (
	// ResultApplied means the record produced new persistent state
	ResultApplied HandleResult = "applied"
	// ResultDuplicate means the record was already applied (replay)
	ResultDuplicate HandleResult = "duplicate"
	// ResultSkipped means the record is valid to ignore
	ResultSkipped HandleResult = "skipped"
	// ResultFailed accompanies a transient error
	ResultFailed HandleResult = "failed"
)

// Handler applies one decoded record to the persistent store. A returned
// error is treated as transient and retried; definitive outcomes are results.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) (HandleResult, error)
}

// deadLetterer is the slice of kafka.Writer the consumer needs for the DLQ
type deadLetterer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drains the event log and applies each record through the handler.
// Offsets commit only after the database work is done, so a crash in between
// causes at most one replay, absorbed by handler idempotence. A record that
// exhausts its retry budget goes to the dead-letter topic and never blocks
// the partition.
type Consumer struct {
	reader      *kafka.Reader
	dlq         deadLetterer
	handler     Handler
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// ConsumerConfig bundles the consumer wiring
type ConsumerConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DeadLetterTopic string
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

// NewConsumer creates a consumer-group reader and its dead-letter writer
func NewConsumer(cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DeadLetterTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Consumer{
		reader:      reader,
		dlq:         dlq,
		handler:     handler,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
	}
}

// Run drains the log until the context is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		c.processMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// The record is applied; a lost commit means one replay after
			// restart, which the handler absorbs.
			log.Printf("consumer: failed to commit offset %d: %v", msg.Offset, err)
		}
	}
}

// processMessage applies one raw record with bounded retries. It always
// returns: poison records are dead-lettered, not re-fetched.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		log.Printf("consumer: undecodable record at offset %d: %v", msg.Offset, err)
		metrics.RecordConsumerRecord("unknown", string(ResultFailed))
		c.deadLetter(ctx, msg, err.Error())
		return
	}

	backoff := c.backoffBase
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.handler.Handle(ctx, env)
		if err == nil {
			metrics.RecordConsumerRecord(env.Type, string(result))
			return
		}
		lastErr = err
		metrics.ConsumerRetries.Inc()
		log.Printf("consumer: attempt %d/%d for %s record %s failed: %v",
			attempt, c.maxAttempts, env.Type, env.RecordID, err)

		if attempt < c.maxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > c.backoffCap {
				backoff = c.backoffCap
			}
		}
	}

	metrics.RecordConsumerRecord(env.Type, string(ResultFailed))
	c.deadLetter(ctx, msg, lastErr.Error())
}

// deadLetter forwards an unprocessable record with its original key and the
// failure cause. A DLQ write failure is logged and the record dropped from
// the stream; reconciliation reports the resulting gap.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause string) {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "cause", Value: []byte(cause)},
			{Key: "source-topic", Value: []byte(msg.Topic)},
		},
	}
	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		log.Printf("consumer: failed to dead-letter record at offset %d: %v", msg.Offset, err)
		return
	}
	metrics.RecordConsumerRecord("dead_letter", "dead_letter")
}

// Close releases the reader's group membership
func (c *Consumer) Close() error {
	if w, ok := c.dlq.(*kafka.Writer); ok {
		if err := w.Close(); err != nil {
			log.Printf("consumer: failed to close dead-letter writer: %v", err)
		}
	}
	return c.reader.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	defaultHandlerRetries = 3
	defaultRetryDelay     = 500 * time.Millisecond
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          messageReader
	retries    int
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, retries: defaultHandlerRetries, retryDelay: defaultRetryDelay}
}

// WithRetry sets how many times a failed handler call is repeated for the
// same message before Consume gives up.
func (c *Consumer) WithRetry(retries int, delay time.Duration) *Consumer {
	if retries >= 0 {
		c.retries = retries
	}
	if delay >= 0 {
		c.retryDelay = delay
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done or a message keeps failing after all
// retries. The offset of a message is committed only once its handler
// succeeded.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(key, value []byte) error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("kafka handler failed, retrying",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
				"attempt", attempt, "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		if err = handler(msg.Key, msg.Value); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "handle message at offset %d", msg.Offset)
}

// JSONHandler decodes every message into T before calling fn. Messages that
// do not decode are logged and skipped so they never block the partition.
func JSONHandler[T any](fn func(T) error) func(key, value []byte) error {
	return func(key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			slog.Warn("skip malformed kafka message", "key", string(key), "error", err.Error())
			return nil
		}
		return fn(v)
	}
}

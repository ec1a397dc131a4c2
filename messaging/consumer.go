package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// MaxRetries of 0 retries forever.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HandlerFunc processes one message.
// Return an error to retry it; return nil to mark it (success or poison pill).
type HandlerFunc func(ctx context.Context, key, payload []byte) error

type Consumer struct {
	group   sarama.ConsumerGroup
	logger  *slog.Logger
	cfg     ConsumerConfig
	handler HandlerFunc
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, Config{Brokers: cfg.Brokers}.sarama())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return newConsumer(group, cfg, logger, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) *Consumer {
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		group:   group,
		logger:  logger.With("component", "kafka_consumer", "topic", cfg.Topic),
		cfg:     cfg,
		handler: handler,
	}
}

// Start joins the group and consumes until ctx is cancelled or the group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting consumer", "group", c.cfg.GroupID)

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka error", "error", err)
		}
	}()

	for {
		// Consume returns on every rebalance; loop to rejoin.
		err := c.group.Consume(ctx, []string{c.cfg.Topic}, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			return fmt.Errorf("consume %s: %w", c.cfg.Topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles one partition. Messages are processed in order and the
// offset is only marked once the handler is done with a message.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processWithRetry(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error("Message dropped after max retries",
					"error", err,
					"key", string(msg.Key),
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func (c *Consumer) processWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	carrier := propagation.MapCarrier{}
	for _, h := range msg.Headers {
		if h != nil {
			carrier[string(h.Key)] = string(h.Value)
		}
	}
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	attempt := 0
	backoff := c.cfg.InitialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.handler(msgCtx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}

		attempt++
		if c.cfg.MaxRetries > 0 && attempt >= c.cfg.MaxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}

		c.logger.Warn("Transient processing failure, retrying...",
			"attempt", attempt,
			"error", err,
			"next_retry_in", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

func (c *Consumer) Close() error {
	if c.group != nil {
		return c.group.Close()
	}
	return nil
}

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Config struct {
	Brokers  []string `envconfig:"KAFKA_BROKERS" required:"true"`
	ClientID string   `envconfig:"KAFKA_CLIENT_ID" default:"formbricks-auditd"`
}

func (c Config) sarama() *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	return sc
}

type Producer struct {
	client sarama.SyncProducer
	logger *slog.Logger
}

func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	client, err := sarama.NewSyncProducer(cfg.Brokers, cfg.sarama())
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer: %w", err)
	}
	return NewProducerWithClient(client, logger), nil
}

// NewProducerWithClient wraps an existing sync producer.
func NewProducerWithClient(client sarama.SyncProducer, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: client, logger: logger.With("component", "kafka_producer")}
}

// Publish sends a message and blocks until every in-sync replica has it.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish message",
			"topic", topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("kafka publish failed: %w", err)
	}

	p.logger.DebugContext(ctx, "Message published", "topic", topic, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("Closing Kafka Producer...")
	return p.client.Close()
}

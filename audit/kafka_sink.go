package audit

import (
	"context"
	"fmt"
)

const DefaultKafkaTopic = "audit.log.entries"

// Publisher is the transport the Kafka sink needs. messaging.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// KafkaSink publishes emitted lines to a topic keyed by chain ID, so all
// entries of a chain land on one partition. Consumers order by sequence.
type KafkaSink struct {
	pub   Publisher
	topic string
	proc  processInfo
}

func NewKafkaSink(pub Publisher, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{pub: pub, topic: topic, proc: currentProcess()}
}

func (k *KafkaSink) Emit(ctx context.Context, e Entry) error {
	payload, err := k.proc.encode(e)
	if err != nil {
		return fmt.Errorf("audit: marshal failed: %w", err)
	}
	if err := k.pub.Publish(ctx, k.topic, e.ChainID, payload); err != nil {
		return fmt.Errorf("audit: kafka emit: %w", err)
	}
	return nil
}

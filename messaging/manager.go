package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ConsumerManager runs a set of consumers and stops them together.
type ConsumerManager struct {
	logger    *slog.Logger
	consumers []*Consumer
	wg        sync.WaitGroup
	cancel    context.CancelFunc

	mu   sync.Mutex
	errs []error
}

func NewConsumerManager(logger *slog.Logger) *ConsumerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerManager{logger: logger.With("component", "consumer_manager")}
}

func (m *ConsumerManager) Register(c *Consumer) {
	m.consumers = append(m.consumers, c)
}

// Start runs every registered consumer in its own goroutine.
func (m *ConsumerManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, c := range m.consumers {
		m.wg.Add(1)
		go func(consumer *Consumer) {
			defer m.wg.Done()
			if err := consumer.Start(ctx); err != nil {
				m.logger.Error("Consumer stopped with error", "topic", consumer.cfg.Topic, "error", err)
				m.mu.Lock()
				m.errs = append(m.errs, err)
				m.mu.Unlock()
			}
		}(c)
	}
}

// Close cancels the consume loops, leaves every group and waits for the
// in-flight messages to be marked. It returns the errors consumers stopped with.
func (m *ConsumerManager) Close() error {
	m.logger.Info("Stopping all consumers...")
	if m.cancel != nil {
		m.cancel()
	}
	var closeErrs []error
	for _, c := range m.consumers {
		if err := c.Close(); err != nil {
			m.logger.Error("Failed to close consumer", "error", err)
			closeErrs = append(closeErrs, err)
		}
	}
	m.wg.Wait()
	m.logger.Info("All consumers stopped gracefully")

	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(append(m.errs, closeErrs...)...)
}

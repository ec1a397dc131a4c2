package audit

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Enabled is the master switch for the whole subsystem.
	Enabled bool `envconfig:"AUDIT_LOG_ENABLED" default:"false"`

	// EncryptionKey is the secret the integrity key is derived from.
	// Required whenever Enabled is set.
	EncryptionKey string `envconfig:"AUDIT_ENCRYPTION_KEY" validate:"required_if=Enabled true"`

	// HeadBackend selects where chain heads live: redis (default) or postgres.
	HeadBackend  string `envconfig:"AUDIT_HEAD_BACKEND" default:"redis" validate:"oneof=redis postgres memory"`
	HeadStoreURL string `envconfig:"AUDIT_HEAD_STORE_URL" default:"redis://localhost:6379/0"`

	// CaptureIP stores the caller address instead of PlaceholderIP.
	// The policy file can override it at runtime.
	CaptureIP bool `envconfig:"AUDIT_LOG_GET_USER_IP" default:"false"`

	MaxAttempts     int           `envconfig:"AUDIT_MAX_ATTEMPTS" default:"8" validate:"min=1,max=64"`
	AppendTimeout   time.Duration `envconfig:"AUDIT_APPEND_TIMEOUT" default:"5s"`
	SensitiveFields []string      `envconfig:"AUDIT_SENSITIVE_FIELDS"`

	// BufferSize is the size of the async queue.
	BufferSize int `envconfig:"AUDIT_BUFFER_SIZE" default:"1024"`
	Workers    int `envconfig:"AUDIT_WORKERS" default:"4"`
	// BlockOnFull makes enqueueing wait for space instead of dropping.
	BlockOnFull bool `envconfig:"AUDIT_BLOCK_ON_FULL" default:"false"`

	KafkaBrokers []string `envconfig:"AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"AUDIT_KAFKA_TOPIC" default:"audit.log.entries"`
	IngestTopic  string   `envconfig:"AUDIT_INGEST_TOPIC" default:"audit.events"`
	IngestGroup  string   `envconfig:"AUDIT_INGEST_GROUP" default:"audit-recorder"`

	PolicyFile string `envconfig:"AUDIT_POLICY_FILE"`
}

// Check enforces the constraints struct tags cannot express.
func (c Config) Check() error {
	if !c.Enabled {
		return nil
	}
	if len(c.EncryptionKey) < 32 {
		return errors.New("audit: AUDIT_ENCRYPTION_KEY must be at least 32 characters")
	}
	if c.HeadBackend == "redis" && c.HeadStoreURL == "" {
		return fmt.Errorf("audit: AUDIT_HEAD_STORE_URL is required for the %s backend", c.HeadBackend)
	}
	return nil
}

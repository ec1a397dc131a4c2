package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// NewIngestHandler returns a message handler that records "action occurred"
// events published by other services. Its signature matches messaging.HandlerFunc.
//
// Returning an error makes the consumer retry the message, so only failures
// that happened before anything was written are returned. Malformed events
// and entries that already reached the store are acknowledged.
func NewIngestHandler(rec *Recorder, logger *slog.Logger) func(ctx context.Context, key, payload []byte) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit_ingest")

	return func(ctx context.Context, key, payload []byte) error {
		ctx = contextx.WithEntryPoint(ctx, "consumer")

		var e Event
		dec := json.NewDecoder(bytes.NewReader(payload))
		// Unknown fields include caller-supplied timestamps, which are never accepted.
		dec.DisallowUnknownFields()
		if err := dec.Decode(&e); err != nil {
			logger.WarnContext(ctx, "poison pill: undecodable audit event",
				"key", string(key),
				"error", err,
			)
			return nil
		}

		entry, err := rec.Record(ctx, e)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrDisabled):
			return nil
		case errors.Is(err, ErrChainCorruption):
			return nil
		case entry.IntegrityHash != "":
			// Stored but not emitted; a retry would duplicate the entry.
			return nil
		default:
			return err
		}
	}
}

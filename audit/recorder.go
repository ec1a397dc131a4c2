package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

const (
	DefaultMaxAttempts   = 8
	DefaultAppendTimeout = 5 * time.Second
)

// Options wires a Recorder. Heads, Store and Hasher are mandatory.
type Options struct {
	Heads  HeadTracker
	Store  Store
	Sink   Sink
	Hasher *Hasher

	Redactor   *Redactor
	Vocabulary *Vocabulary
	Logger     *slog.Logger
	Metrics    *Metrics

	// MaxAttempts bounds the compare-and-swap loop by count, not wall-clock.
	MaxAttempts int
	// AppendTimeout bounds the store append once the head has advanced.
	AppendTimeout time.Duration
	// CaptureIP decides per call whether the real caller address is kept.
	CaptureIP func(ctx context.Context) bool
	Now       func() time.Time
}

// Recorder turns events into chained entries. It is safe for concurrent use
// by any number of goroutines and process instances sharing the same HeadTracker.
type Recorder struct {
	heads  HeadTracker
	store  Store
	sink   Sink
	hasher *Hasher

	redactor atomic.Pointer[Redactor]
	vocab    *Vocabulary
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *Metrics

	maxAttempts   int
	appendTimeout time.Duration
	captureIP     func(ctx context.Context) bool
	now           func() time.Time
	disabled      bool
}

func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Heads == nil || opts.Store == nil || opts.Hasher == nil {
		return nil, errors.New("audit: recorder needs a head tracker, a store and a hasher")
	}
	if opts.Sink == nil {
		opts.Sink = NoopSink{}
	}
	if opts.Redactor == nil {
		opts.Redactor = NewRedactor()
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = DefaultVocabulary()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = DefaultAppendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Recorder{
		heads:         opts.Heads,
		store:         opts.Store,
		sink:          opts.Sink,
		hasher:        opts.Hasher,
		vocab:         opts.Vocabulary,
		validate:      validator.New(),
		logger:        opts.Logger.With("component", "audit_recorder"),
		metrics:       opts.Metrics,
		maxAttempts:   opts.MaxAttempts,
		appendTimeout: opts.AppendTimeout,
		captureIP:     opts.CaptureIP,
		now:           opts.Now,
	}
	r.redactor.Store(opts.Redactor)
	return r, nil
}

// NewDisabledRecorder returns a Recorder that accepts nothing. Record returns
// ErrDisabled and Log is a no-op.
func NewDisabledRecorder() *Recorder {
	return &Recorder{disabled: true, logger: slog.Default()}
}

// SetRedactor swaps the active redaction set. Entries already recorded are unaffected.
func (r *Recorder) SetRedactor(red *Redactor) {
	if red != nil {
		r.redactor.Store(red)
	}
}

func (r *Recorder) Redactor() *Redactor {
	return r.redactor.Load()
}

// Log is the fire-and-forget surface for business code. Failures are logged
// and counted by the Recorder and never reach the caller.
func (r *Recorder) Log(ctx context.Context, e Event) {
	_, _ = r.Record(ctx, e)
}

// Record validates, stamps, redacts and chains the event, appends it to the
// store and emits it to the sink.
//
// Errors:
//   - ErrInvalidEvent: rejected before touching the chain.
//   - ErrChainConflict: the head kept moving for MaxAttempts attempts.
//   - ErrRecordDelivery: ctx ended or the head store failed before the head
//     moved, or the sink failed after the entry was stored.
//   - ErrChainCorruption: the head moved but the store append failed.
func (r *Recorder) Record(ctx context.Context, e Event) (Entry, error) {
	if r.disabled {
		return Entry{}, ErrDisabled
	}

	chainID := ChainFor(e)
	entry, err := r.prepare(ctx, e)
	if err != nil {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrInvalidEvent, ChainID: chainID, Err: err})
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: chainID, Attempts: attempt - 1, Err: err})
		}

		head, err := r.heads.CurrentHead(ctx, chainID)
		if err != nil {
			return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: chainID, Attempts: attempt, Err: fmt.Errorf("read head: %w", err)})
		}

		entry.PreviousHash = head.Hash
		entry.Sequence = head.Sequence + 1
		entry.ChainStart = head.IsEmpty()
		if entry.IntegrityHash, err = r.hasher.Hash(entry); err != nil {
			return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrInvalidEvent, ChainID: chainID, Attempts: attempt, Err: err})
		}

		err = r.heads.Advance(ctx, chainID, head, HeadOf(entry))
		switch {
		case err == nil:
			return r.persist(ctx, entry, attempt)
		case errors.Is(err, ErrChainConflict):
			r.metrics.conflict()
			r.logger.DebugContext(ctx, "chain head moved, retrying",
				"chain_id", chainID,
				"attempt", attempt,
				"stale_sequence", head.Sequence,
			)
		default:
			if r.advanced(ctx, chainID, HeadOf(entry)) {
				return r.persist(ctx, entry, attempt)
			}
			return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: chainID, Attempts: attempt, Err: fmt.Errorf("advance head: %w", err)})
		}
	}

	return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrChainConflict, ChainID: chainID, Attempts: r.maxAttempts})
}

// prepare performs steps that happen once per call: validation, timestamp,
// request metadata and redaction.
func (r *Recorder) prepare(ctx context.Context, e Event) (Entry, error) {
	if err := r.validate.StructCtx(ctx, e); err != nil {
		return Entry{}, err
	}
	if !r.vocab.Contains(e.Action) {
		return Entry{}, fmt.Errorf("unknown action %q", e.Action)
	}
	if e.Action == ActionChainReset {
		return Entry{}, errors.New("chain resets are recorded through ResetChain")
	}
	if e.EventID != "" && e.Status != StatusFailure {
		return Entry{}, errors.New("eventId is only allowed on failure events")
	}

	changes, err := e.Changes.normalize()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ChainID:        ChainFor(e),
		Timestamp:      r.stamp(),
		Actor:          e.Actor,
		Action:         e.Action,
		OrganizationID: e.OrganizationID,
		Status:         e.Status,
		Changes:        r.Redactor().Redact(changes),
		IPAddress:      r.clientIP(ctx, e.IPAddress),
		APIURL:         e.APIURL,
		EventID:        e.EventID,
	}
	if e.Target != nil {
		t := *e.Target
		entry.Target = &t
	}
	if entry.APIURL == "" {
		entry.APIURL = contextx.GetAPIURL(ctx)
	}
	return entry, nil
}

// stamp truncates to microseconds so the value survives a round trip
// through the store unchanged.
func (r *Recorder) stamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func (r *Recorder) clientIP(ctx context.Context, supplied string) string {
	if r.captureIP == nil || !r.captureIP(ctx) {
		return PlaceholderIP
	}
	if supplied != "" {
		return supplied
	}
	if ip := contextx.GetClientIP(ctx); ip != "" {
		return ip
	}
	return PlaceholderIP
}

// advanced resolves an ambiguous Advance failure (e.g. a timeout after the
// store applied the swap) by re-reading the head outside the caller's context.
func (r *Recorder) advanced(ctx context.Context, chainID string, next Head) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.appendTimeout)
	defer cancel()

	head, err := r.heads.CurrentHead(cctx, chainID)
	return err == nil && head == next
}

// persist appends and emits an entry whose head has already advanced.
// Caller cancellation no longer applies: abandoning the append here would
// leave the head pointing at an entry that does not exist.
func (r *Recorder) persist(ctx context.Context, entry Entry, attempts int) (Entry, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.appendTimeout)
	defer cancel()

	if err := r.store.Append(pctx, entry); err != nil {
		return entry, r.escalate(ctx, &RecordError{Kind: ErrChainCorruption, ChainID: entry.ChainID, Attempts: attempts, Err: err})
	}
	r.metrics.recordedEntry(entry.Status, attempts)

	if err := r.sink.Emit(pctx, entry); err != nil {
		return entry, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: entry.ChainID, Attempts: attempts, Err: fmt.Errorf("emit: %w", err)})
	}
	return entry, nil
}

// escalate writes the failure to the operational log and metrics.
// Audit entries never go through this channel.
func (r *Recorder) escalate(ctx context.Context, err *RecordError) error {
	r.metrics.failure(err.Kind)

	attrs := []any{
		"chain_id", err.ChainID,
		"attempts", err.Attempts,
		"reason", reason(err.Kind),
		"error", err,
	}
	switch {
	case errors.Is(err.Kind, ErrInvalidEvent):
		r.logger.WarnContext(ctx, "audit event rejected", attrs...)
	case errors.Is(err.Kind, ErrChainCorruption):
		r.logger.ErrorContext(ctx, "CRITICAL: audit chain head advanced but entry was not stored", attrs...)
	case errors.Is(err.Kind, ErrChainConflict):
		r.logger.ErrorContext(ctx, "audit chain contention exceeded retry bound", attrs...)
	default:
		r.logger.ErrorContext(ctx, "audit record delivery failed", attrs...)
	}
	return err
}

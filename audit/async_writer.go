package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type job struct {
	ctx   context.Context
	event Event
}

// AsyncRecorder puts a buffered queue in front of a Recorder for callers that
// must never wait on the chain head. Failures are handled by the Recorder's
// escalation path; this type only adds the queueing policy.
type AsyncRecorder struct {
	recorder  *Recorder
	jobs      chan job
	wg        sync.WaitGroup
	logger    *slog.Logger
	metrics   *Metrics
	mu        sync.RWMutex // guards closed against sends on a closed channel
	closed    bool

	blockOnFull bool

	dropCount   uint64
	lastLogTime time.Time
	dropMu      sync.Mutex
}

func NewAsyncRecorder(rec *Recorder, bufferSize, workers int, blockOnFull bool, logger *slog.Logger, metrics *Metrics) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &AsyncRecorder{
		recorder:    rec,
		jobs:        make(chan job, bufferSize),
		logger:      logger.With("component", "audit_async"),
		metrics:     metrics,
		blockOnFull: blockOnFull,
		lastLogTime: time.Now(),
	}

	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	return a
}

// Log enqueues the event. The request context's values (client IP, API URL)
// are kept; its cancellation is not, since the job outlives the request.
func (a *AsyncRecorder) Log(ctx context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.handleDrop(e.Action, "closed")
		return
	}

	j := job{ctx: context.WithoutCancel(ctx), event: e}

	if a.blockOnFull {
		// Guaranteed enqueue; only the caller's deadline can abort it.
		select {
		case a.jobs <- j:
		case <-ctx.Done():
			a.handleDrop(e.Action, "ctx_cancelled")
		}
		return
	}

	select {
	case a.jobs <- j:
	default:
		a.handleDrop(e.Action, "buffer_full")
	}
}

// handleDrop counts drops and logs at most one warning every 5 seconds.
func (a *AsyncRecorder) handleDrop(action Action, cause string) {
	a.metrics.drop()
	currentDrops := atomic.AddUint64(&a.dropCount, 1)

	a.dropMu.Lock()
	defer a.dropMu.Unlock()

	if time.Since(a.lastLogTime) < 5*time.Second {
		return
	}
	a.logger.Warn("CRITICAL: audit events dropped",
		"cause", cause,
		"total_dropped", currentDrops,
		"sample_action", action,
	)
	atomic.StoreUint64(&a.dropCount, 0)
	a.lastLogTime = time.Now()
}

func (a *AsyncRecorder) worker() {
	defer a.wg.Done()
	for j := range a.jobs {
		a.recorder.Log(j.ctx, j.event)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (a *AsyncRecorder) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

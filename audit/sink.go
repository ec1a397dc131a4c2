package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// LevelAudit is the constant level marker that separates audit lines from
// operational log lines sharing the same stream.
const LevelAudit = "audit"

// line is the emitted JSON Lines record.
type line struct {
	Level string `json:"level"`
	Entry
	Host string `json:"host"`
	PID  int    `json:"pid"`
}

type processInfo struct {
	host string
	pid  int
}

func currentProcess() processInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return processInfo{host: host, pid: os.Getpid()}
}

func (p processInfo) encode(e Entry) ([]byte, error) {
	return json.Marshal(line{Level: LevelAudit, Entry: e, Host: p.host, PID: p.pid})
}

// JSONLinesSink writes one JSON object per entry, newline terminated.
type JSONLinesSink struct {
	mu   sync.Mutex
	w    io.Writer
	proc processInfo
}

// NewJSONLinesSink writes to w, or to stdout when w is nil.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLinesSink{w: w, proc: currentProcess()}
}

func (s *JSONLinesSink) Emit(_ context.Context, e Entry) error {
	b, err := s.proc.encode(e)
	if err != nil {
		return fmt.Errorf("audit: encode line: %w", err)
	}
	b = append(b, '\n')

	// One Write per line keeps lines whole when the writer is shared.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("audit: write line: %w", err)
	}
	return nil
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

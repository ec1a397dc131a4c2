package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maskedValue = "********"

// OTelHandler stamps trace and span ids on every record and copies WARN and
// ERROR records onto the active span.
type OTelHandler struct {
	slog.Handler
	sensitive func(key string) bool
}

type Option func(*OTelHandler)

// WithSensitive masks attribute values whose key matches before they are
// copied onto a span. Span exporters sit outside the audit redaction path.
func WithSensitive(match func(key string) bool) Option {
	return func(h *OTelHandler) { h.sensitive = match }
}

func NewOTelHandler(h slog.Handler, opts ...Option) *OTelHandler {
	out := &OTelHandler{Handler: h}
	for _, o := range opts {
		o(out)
	}
	return out
}

func (h *OTelHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()

	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	if span.IsRecording() && r.Level >= slog.LevelWarn {
		h.enrichSpan(span, r)
	}

	return h.Handler.Handle(ctx, r)
}

func (h *OTelHandler) enrichSpan(span trace.Span, r slog.Record) {
	attrs := make([]attribute.KeyValue, 0, r.NumAttrs())
	var errFound error

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "error" {
			if e, ok := a.Value.Any().(error); ok {
				errFound = e
			}
		}
		attrs = append(attrs, h.attribute(a))
		return true
	})

	if r.Level >= slog.LevelError {
		if errFound == nil {
			errFound = errors.New(r.Message)
		}
		span.RecordError(errFound, trace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, r.Message)
		return
	}
	span.AddEvent("log_warning", trace.WithAttributes(
		append(attrs, attribute.String("message", r.Message))...,
	))
}

func (h *OTelHandler) attribute(a slog.Attr) attribute.KeyValue {
	if h.sensitive != nil && h.sensitive(a.Key) {
		return attribute.String(a.Key, maskedValue)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return attribute.String(a.Key, v.String())
	case slog.KindInt64:
		return attribute.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		return attribute.Int64(a.Key, int64(v.Uint64()))
	case slog.KindFloat64:
		return attribute.Float64(a.Key, v.Float64())
	case slog.KindBool:
		return attribute.Bool(a.Key, v.Bool())
	default:
		return attribute.String(a.Key, v.String())
	}
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithAttrs(attrs), sensitive: h.sensitive}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithGroup(name), sensitive: h.sensitive}
}

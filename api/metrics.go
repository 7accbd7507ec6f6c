package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestLogMessage = "board.request"
	tracerName        = "kanban-api/api"
)

// requestMetrics collects per-request timings and emits one structured log
// entry plus a server span when the request completes.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	authenticated bool
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "http "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration, ok bool) {
	m.authenticated = ok
	if duration > 0 {
		m.authDuration = duration
	}
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	fields := log.Fields{
		"route":         m.route,
		"status":        status,
		"total_ms":      durationToMillis(time.Since(m.start)),
		"authenticated": m.authenticated,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Bool("kanban.authenticated", m.authenticated),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("kanban.error_stage", m.errorStage))
		}
		if status >= http.StatusInternalServerError || (status == 0 && err != nil) {
			msg := http.StatusText(status)
			if err != nil {
				msg = err.Error()
				m.span.RecordError(err)
			}
			m.span.SetStatus(codes.Error, msg)
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error(requestLogMessage)
	case status >= http.StatusBadRequest:
		entry.Warn(requestLogMessage)
	default:
		entry.Info(requestLogMessage)
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

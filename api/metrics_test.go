package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestRequestMetricsLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/api/create-board")
	metrics.start = metrics.start.Add(-40 * time.Millisecond)
	metrics.ObserveAuth(5*time.Millisecond, true)
	metrics.ObserveStore(10 * time.Millisecond)
	metrics.ObserveStore(2 * time.Millisecond)
	metrics.Log(http.StatusCreated, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != requestLogMessage || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Data["authenticated"] != true || entry.Data["auth_ms"] != 5.0 || entry.Data["store_ms"] != 12.0 {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
	if total, ok := entry.Data["total_ms"].(float64); !ok || total < 40 {
		t.Fatalf("expected total_ms >= 40, got %v", entry.Data["total_ms"])
	}
	if _, ok := entry.Data["error_stage"]; ok {
		t.Fatal("unexpected error stage")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "http /api/create-board" {
		t.Fatalf("unexpected span name %s", span.Name)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "/api/create-board" || attrs["http.response.status_code"] != int64(http.StatusCreated) {
		t.Fatalf("unexpected span attributes %v", attrs)
	}
	if span.Status.Code == codes.Error {
		t.Fatal("unexpected error status")
	}
}

func TestRequestMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/api/create-board")
	metrics.SetErrorStage("storage")
	boom := errors.New("storage failure")
	metrics.Log(http.StatusInternalServerError, boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel || entry.Data["error"] != boom.Error() {
		t.Fatalf("unexpected entry %+v", entry)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error || span.Status.Description != boom.Error() {
		t.Fatalf("unexpected status %+v", span.Status)
	}
	if attributesToMap(span.Attributes)["kanban.error_stage"] != "storage" {
		t.Fatal("expected error stage attribute")
	}
}

func TestDurationToMillis(t *testing.T) {
	if got := durationToMillis(1500 * time.Microsecond); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
	if got := durationToMillis(-time.Second); got != 0 {
		t.Fatalf("expected 0 for negative durations, got %v", got)
	}
}

package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSessionSpanRecordsAttributesForSuccess(t *testing.T) {
	spanRecorder := installSpanRecorder(t)

	_, span := StartSession(context.Background(), []string{"sh", "-c", "echo hello"}, "/tmp/work")
	span.Opened("s-1", 4242)
	if span.TraceID() == "" || span.SpanID() == "" {
		t.Fatal("expected sampled span ids")
	}
	span.End(SessionResult{ExitCode: 0, Lines: 1, Tail: "hello"})

	got := findSessionSpan(t, spanRecorder.Ended())
	if got.Status().Code != codes.Ok {
		t.Fatalf("status code = %v, want %v", got.Status().Code, codes.Ok)
	}
	if v := getStringAttr(got.Attributes(), "argv_redacted"); v != "sh -c echo hello" {
		t.Fatalf("argv_redacted = %q", v)
	}
	if v := getStringAttr(got.Attributes(), "cwd"); v != "/tmp/work" {
		t.Fatalf("cwd = %q", v)
	}
	if v := getIntAttr(got.Attributes(), "pid"); v != 4242 {
		t.Fatalf("pid = %d, want 4242", v)
	}
	if v := getIntAttr(got.Attributes(), "lines"); v != 1 {
		t.Fatalf("lines = %d, want 1", v)
	}
	findEvent(t, got.Events(), "session.output_tail")
}

func TestSessionSpanMarksFailures(t *testing.T) {
	tests := []struct {
		name   string
		result SessionResult
		want   codes.Code
	}{
		{name: "exit code", result: SessionResult{ExitCode: 2}, want: codes.Error},
		{name: "signal", result: SessionResult{ExitCode: -1, Signal: "SIGKILL"}, want: codes.Error},
		{name: "error", result: SessionResult{Err: errors.New("spawn sh: boom")}, want: codes.Error},
		{name: "cancelled", result: SessionResult{ExitCode: -1, Signal: "SIGTERM", Cancelled: true}, want: codes.Ok},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spanRecorder := installSpanRecorder(t)
			_, span := StartSession(context.Background(), []string{"sh"}, ".")
			span.End(tt.result)

			got := findSessionSpan(t, spanRecorder.Ended())
			if got.Status().Code != tt.want {
				t.Fatalf("status code = %v, want %v", got.Status().Code, tt.want)
			}
		})
	}
}

func TestSessionSpanTruncatesTail(t *testing.T) {
	spanRecorder := installSpanRecorder(t)

	_, span := StartSession(context.Background(), []string{"yes"}, ".")
	span.End(SessionResult{Tail: strings.Repeat("a", 1500) + "END"})

	event := findEvent(t, findSessionSpan(t, spanRecorder.Ended()).Events(), "session.output_tail")
	output := getStringAttr(event.Attributes, "output")
	if len(output) > maxOutputEventBytes {
		t.Fatalf("tail length = %d, want <= %d", len(output), maxOutputEventBytes)
	}
	if !strings.HasPrefix(output, "[truncated]") || !strings.HasSuffix(output, "END") {
		t.Fatalf("tail = %q..., want marker and most recent output", output[:20])
	}
}

func TestRedactArgs(t *testing.T) {
	t.Parallel()

	got := redactArgs([]string{"curl", "--token", "abc", "API_KEY=1", "PASSWORD=hunter2", "plain"})
	want := "curl --token <redacted> API_KEY=1 PASSWORD=<redacted> plain"
	if FormatCommand(got) != want {
		t.Fatalf("redactArgs = %q, want %q", FormatCommand(got), want)
	}
}

func TestNilSessionSpanIsSafe(t *testing.T) {
	t.Parallel()

	var span *SessionSpan
	span.Opened("s", 1)
	span.End(SessionResult{})
	if span.TraceID() != "" || span.SpanID() != "" {
		t.Fatal("nil span returned ids")
	}
}

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(previous)
	})

	return spanRecorder
}

func findSessionSpan(t *testing.T, spans []sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range spans {
		if span.Name() == spanName {
			return span
		}
	}
	t.Fatalf("%s span not found in %d spans", spanName, len(spans))
	return nil
}

func getStringAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func getIntAttr(attrs []attribute.KeyValue, key string) int {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return int(attr.Value.AsInt64())
		}
	}
	return 0
}

func findEvent(t *testing.T, events []sdktrace.Event, name string) sdktrace.Event {
	t.Helper()
	for _, event := range events {
		if event.Name == name {
			return event
		}
	}
	t.Fatalf("event %q not found in %d events", name, len(events))
	return sdktrace.Event{}
}

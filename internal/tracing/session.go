package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "livesh/tracing/session"
	spanName            = "shell.session"
	maxOutputEventBytes = 1024
)

// SessionResult is what a finished session reports to its span.
type SessionResult struct {
	ExitCode  int
	Signal    string
	Cancelled bool
	Lines     int
	Tail      string
	Err       error
}

// SessionSpan tracks one shell session from spawn to exit.
type SessionSpan struct {
	span    trace.Span
	started time.Time
}

// StartSession opens a shell.session span. Secrets in argv are redacted.
func StartSession(ctx context.Context, argv []string, cwd string) (context.Context, *SessionSpan) {
	spanCtx, span := otel.Tracer(tracerName).Start(
		ctx,
		spanName,
		trace.WithAttributes(
			attribute.String("argv_redacted", FormatCommand(redactArgs(argv))),
			attribute.String("cwd", strings.TrimSpace(cwd)),
		),
	)
	return spanCtx, &SessionSpan{span: span, started: time.Now()}
}

// Opened records the spawned process identity.
func (s *SessionSpan) Opened(sessionID string, pid int) {
	if s == nil {
		return
	}
	s.span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("pid", pid),
	)
}

// TraceID returns the hex trace id, or "" when the span is not sampled.
func (s *SessionSpan) TraceID() string {
	if s == nil || !s.span.SpanContext().HasTraceID() {
		return ""
	}
	return s.span.SpanContext().TraceID().String()
}

// SpanID returns the hex span id, or "".
func (s *SessionSpan) SpanID() string {
	if s == nil || !s.span.SpanContext().HasSpanID() {
		return ""
	}
	return s.span.SpanContext().SpanID().String()
}

// End records the outcome and ends the span.
func (s *SessionSpan) End(result SessionResult) {
	if s == nil {
		return
	}
	defer s.span.End()

	s.span.SetAttributes(
		attribute.Int("exit_code", result.ExitCode),
		attribute.String("signal", result.Signal),
		attribute.Bool("cancelled", result.Cancelled),
		attribute.Int("lines", result.Lines),
		attribute.Int64("duration_ms", time.Since(s.started).Milliseconds()),
	)
	if tail := strings.TrimSpace(result.Tail); tail != "" {
		s.span.AddEvent(
			"session.output_tail",
			trace.WithAttributes(attribute.String("output", truncateOutput(tail, maxOutputEventBytes))),
		)
	}

	switch {
	case result.Err != nil:
		s.span.RecordError(result.Err)
		s.span.SetStatus(codes.Error, result.Err.Error())
	case result.Cancelled:
		s.span.SetStatus(codes.Ok, "session cancelled")
	case result.Signal != "":
		s.span.SetStatus(codes.Error, "terminated by signal "+result.Signal)
	case result.ExitCode != 0:
		s.span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", result.ExitCode))
	default:
		s.span.SetStatus(codes.Ok, "session completed")
	}
}

// truncateOutput keeps the end of value, which holds the most recent output.
func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "[truncated]..."
	if limit <= len(marker) {
		return value[len(value)-limit:]
	}
	return marker + value[len(value)-(limit-len(marker)):]
}

func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if key, _, ok := strings.Cut(trimmed, "="); ok && isSensitiveToken(strings.ToLower(key)) {
			redacted = append(redacted, key+"=<redacted>")
			continue
		}
		if isSensitiveToken(strings.ToLower(trimmed)) {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}

	return redacted
}

func isSensitiveToken(value string) bool {
	for _, candidate := range []string{"token", "password", "passwd", "secret", "api-key", "apikey", "auth", "bearer"} {
		if strings.Contains(value, candidate) {
			return true
		}
	}
	return false
}

// FormatCommand joins the non-empty parts of argv for traces and logs.
func FormatCommand(argv []string) string {
	out := make([]string, 0, len(argv))
	for _, part := range argv {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, " ")
}

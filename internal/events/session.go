package events

import (
	"fmt"
	"time"
)

// EntitySession is the entity type of every session event; the entity ID is
// the session ID.
const EntitySession = "session"

const (
	EventTypeSessionOpened    = "SessionOpened"
	EventTypeStdinSent        = "StdinSent"
	EventTypeStdinFailed      = "StdinFailed"
	EventTypeSessionExited    = "SessionExited"
	EventTypeSessionCancelled = "SessionCancelled"
	EventTypePageSealed       = "PageSealed"
)

// SessionOpenedPayload describes a freshly spawned process.
type SessionOpenedPayload struct {
	Command string
	PID     int
	Dir     string
}

// StdinPayload carries the size of a relayed line and any write error.
type StdinPayload struct {
	Bytes int
	Err   string
}

// SessionExitedPayload summarizes how a session ended.
type SessionExitedPayload struct {
	Code     int
	Signal   string
	Lines    int
	Duration time.Duration
}

// PageSealedPayload reports a page that filled up.
type PageSealedPayload struct {
	Index int
	Lines int
}

// SessionEvent builds an event for sessionID.
func SessionEvent(eventType, sessionID string, payload any) Event {
	severity := SeverityInfo
	switch eventType {
	case EventTypeStdinFailed, EventTypeSessionCancelled:
		severity = SeverityWarn
	}
	return Event{
		Type:       eventType,
		EntityType: EntitySession,
		EntityID:   sessionID,
		Payload:    payload,
		Severity:   severity,
	}
}

// Summary renders a one-line description suitable for a status bar.
func Summary(event Event) string {
	if event.Type == EventTypeSessionCancelled {
		return "cancelled"
	}
	switch payload := event.Payload.(type) {
	case SessionOpenedPayload:
		return fmt.Sprintf("started pid %d", payload.PID)
	case StdinPayload:
		if payload.Err != "" {
			return "stdin failed: " + payload.Err
		}
		return fmt.Sprintf("sent %d bytes", payload.Bytes)
	case SessionExitedPayload:
		if payload.Signal != "" {
			return "terminated by " + payload.Signal
		}
		return fmt.Sprintf("exited with code %d", payload.Code)
	case PageSealedPayload:
		return fmt.Sprintf("page %d full", payload.Index+1)
	}
	return event.Type
}

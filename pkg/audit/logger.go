package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NoOpLogger discards events
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NoOpLogger) Close() error                                { return nil }

// prepare fills the ID and timestamp of an event
func prepare(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}
}

// LogrusLogger writes events as structured log lines
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates a logrus-backed audit sink
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes the event at info level, or warn level for failures and denials
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	prepare(event)

	fields := logrus.Fields{
		"audit":      true,
		"event_id":   event.ID,
		"event_type": event.EventType,
		"status":     event.Status,
	}
	for k, v := range map[string]string{
		"tenant_id":    event.TenantID,
		"actor_id":     event.ActorID,
		"request_id":   event.RequestID,
		"role_id":      event.RoleID,
		"resource_id":  event.ResourceID,
		"principal_id": event.PrincipalID,
		"error_kind":   event.ErrorKind,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if event.Before != nil {
		fields["before"] = event.Before
	}
	if event.After != nil {
		fields["after"] = event.After
	}

	entry := l.logger.WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}

// ErrQueryUnsupported is returned when no sink can read events back
var ErrQueryUnsupported = errors.New("audit sink does not support queries")

// Querier is implemented by sinks that can read events back
type Querier interface {
	Query(ctx context.Context, tenantID string, filter Filter) ([]StoredEvent, error)
}

// MultiLogger logs to several sinks in order. A failing sink does not stop
// the others; the errors are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out logger, skipping nil sinks
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends event to every sink
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	prepare(event)

	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Query reads from the first sink that supports queries
func (m *MultiLogger) Query(ctx context.Context, tenantID string, filter Filter) ([]StoredEvent, error) {
	for _, l := range m.loggers {
		if q, ok := l.(Querier); ok {
			return q.Query(ctx, tenantID, filter)
		}
	}
	return nil, ErrQueryUnsupported
}

// Close closes every sink
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// DBLogger persists audit events to the rbac_audit_log table. The table is
// created by the sqlstore migrations.
type DBLogger struct {
	db     *sql.DB
	reader *sql.DB
}

// NewDBLogger creates a database-backed audit sink
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db, reader: db}
}

// WithReader routes Query to a read replica. A nil db keeps the primary.
func (l *DBLogger) WithReader(db *sql.DB) *DBLogger {
	if db != nil {
		l.reader = db
	}
	return l
}

// Log inserts the event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	prepare(event)

	before, err := marshalState(event.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	after, err := marshalState(event.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}

	query := `
		INSERT INTO rbac_audit_log (
			id, occurred_at, event_type, status,
			tenant_id, actor_id, request_id,
			role_id, resource_id, principal_id,
			error_kind, message, ip_address,
			before_state, after_state
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15
		)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		event.TenantID, event.ActorID, event.RequestID,
		event.RoleID, event.ResourceID, event.PrincipalID,
		event.ErrorKind, event.Message, event.IPAddress,
		before, after,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Query returns events matching filter, newest first
func (l *DBLogger) Query(ctx context.Context, tenantID string, filter Filter) ([]StoredEvent, error) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if filter.RoleID != "" {
		add("role_id = $%d", filter.RoleID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= $%d", filter.Since)
	}
	args = append(args, filter.limit())

	query := fmt.Sprintf(`
		SELECT id, occurred_at, event_type, status,
			tenant_id, actor_id, request_id,
			role_id, resource_id, principal_id,
			error_kind, message, ip_address,
			before_state, after_state
		FROM rbac_audit_log
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT $%d
	`, strings.Join(conditions, " AND "), len(args))

	rows, err := l.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			e             StoredEvent
			eventType     string
			status        string
			before, after sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &status,
			&e.TenantID, &e.ActorID, &e.RequestID,
			&e.RoleID, &e.ResourceID, &e.PrincipalID,
			&e.ErrorKind, &e.Message, &e.IPAddress,
			&before, &after,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		if before.Valid {
			e.BeforeJSON = json.RawMessage(before.String)
		}
		if after.Valid {
			e.AfterJSON = json.RawMessage(after.String)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return events, nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func marshalState(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

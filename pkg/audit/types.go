package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role events
	EventTypeRoleCreate   EventType = "role.create"
	EventTypeRoleUpdate   EventType = "role.update"
	EventTypeRoleDelete   EventType = "role.delete"
	EventTypeRoleAssign   EventType = "role.assign"
	EventTypeRoleUnassign EventType = "role.unassign"

	// Grant events
	EventTypeGrantCapability EventType = "grant.capability"
	EventTypeGrantScope      EventType = "grant.scope"
	EventTypeGrantBulk       EventType = "grant.bulk"

	// Reporting line events
	EventTypeReportingSet   EventType = "reporting.set"
	EventTypeReportingClear EventType = "reporting.clear"

	// Analytics preset events
	EventTypePresetCreate EventType = "preset.create"
	EventTypePresetDelete EventType = "preset.delete"

	// System events
	EventTypeCatalogApply EventType = "catalog.apply"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is one audit record
type Event struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	EventType   EventType   `json:"event_type"`
	Status      EventStatus `json:"status"`
	TenantID    string      `json:"tenant_id,omitempty"`
	ActorID     string      `json:"actor_id,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	RoleID      string      `json:"role_id,omitempty"`
	ResourceID  string      `json:"resource_id,omitempty"`
	PrincipalID string      `json:"principal_id,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	IPAddress   string      `json:"ip_address,omitempty"`

	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// StoredEvent is an Event read back from storage with raw snapshots
type StoredEvent struct {
	Event
	BeforeJSON json.RawMessage `json:"before,omitempty"`
	AfterJSON  json.RawMessage `json:"after,omitempty"`
}

// Filter narrows an audit query
type Filter struct {
	EventType EventType
	RoleID    string
	ActorID   string
	Since     time.Time
	Limit     int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		return maxQueryLimit
	}
	return f.Limit
}

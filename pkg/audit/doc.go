// Package audit records administrative changes to roles, grants, reporting
// lines and presets for compliance and forensics.
//
// # Events
//
// Every mutation made through the admin API produces one Event carrying the
// actor, the affected role/resource/principal, the outcome and, where
// relevant, a before/after snapshot.
//
// # Sinks
//
//	LogrusLogger - writes events as structured log lines
//	DBLogger     - persists events to the rbac_audit_log table and serves queries
//	MultiLogger  - fans events out to several sinks
//
// # Usage Example
//
//	logger := audit.NewMultiLogger(audit.NewLogrusLogger(log), audit.NewDBLogger(db))
//	logger.Log(ctx, &audit.Event{
//		EventType: audit.EventTypeRoleUpdate,
//		Status:    audit.EventStatusSuccess,
//		ActorID:   principalID,
//		RoleID:    roleID,
//		Before:    before,
//		After:     after,
//	})
package audit

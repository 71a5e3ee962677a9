// Package queue defines message payloads exchanged over the message broker.
package queue

// AuditQueueName is the durable queue carrying the picking audit trail for
// operator consumers.
const AuditQueueName = "picking.audit"

// AuditTrailEvent mirrors an audit event onto the broker.  It carries
// enough information for downstream consumers to log, alert or feed
// dashboards without querying the primary database.
type AuditTrailEvent struct {
	SessionID  string `json:"session_id"`
	EventType  string `json:"event_type"`
	Status     string `json:"status"`
	Actor      string `json:"actor"`
	Details    string `json:"details"`
	RecordedAt string `json:"recorded_at"`
}

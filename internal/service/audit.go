package service

import (
	"context"
	"log"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// Auditor records audit events.  Writes are best-effort by contract: a
// failure to persist or publish an event must never roll back the business
// mutation it describes, but is itself logged so the gap is visible.
type Auditor struct {
	store     AuditStore
	publisher TrailPublisher // optional operator stream
}

// NewAuditor returns an Auditor over the given store.  publisher may be
// nil when no broker is configured.
func NewAuditor(store AuditStore, publisher TrailPublisher) *Auditor {
	return &Auditor{store: store, publisher: publisher}
}

// Record appends one event to the trail and mirrors it onto the operator
// stream when one is configured.
func (a *Auditor) Record(ctx context.Context, sessionID, eventType, status, actor, details string) {
	ev := model.AuditEvent{
		SessionID: sessionID,
		EventType: eventType,
		Status:    status,
		Actor:     actor,
		Details:   details,
	}
	if err := a.store.Append(ctx, &ev); err != nil {
		log.Printf("audit: append %s for session %s failed: %v", eventType, sessionID, err)
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, ev); err != nil {
			log.Printf("audit: publish %s for session %s failed: %v", eventType, sessionID, err)
		}
	}
}

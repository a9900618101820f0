package domain

import (
	"context"
	"time"
)

// EventType names a lifecycle event emitted after a successful commit.
type EventType string

// Lifecycle events.
const (
	EventAuditCreated       EventType = "audit.created"
	EventAuditTransitioned  EventType = "audit.transitioned"
	EventAuditReopened      EventType = "audit.reopened"
	EventResponseStored     EventType = "response.stored"
	EventFindingsSynced     EventType = "findings.synchronized"
	EventFindingCreated     EventType = "finding.created"
	EventFindingDeleted     EventType = "finding.deleted"
	EventActionPlanChanged  EventType = "action_plan.changed"
	EventActionPlanReopened EventType = "action_plan.reopened"
)

// Event describes a committed change for downstream consumers such as
// notification delivery or dashboards.
type Event struct {
	Type       EventType      `json:"type"`
	AuditID    string         `json:"audit_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// EventPublisher delivers events. Delivery is best effort: callers log
// failures and never roll back the owning transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

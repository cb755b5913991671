package domain

import "time"

const (
	EventDisputeRuled     = "dispute.ruled"
	EventRequestRouted    = "request.routed"
	EventRequestDispatch  = "request.dispatched"
	EventRequestCompleted = "request.completed"
)

type AuditLog struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	ActorID    string            `json:"actor_id,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func PartitionKeyForEvent(eventType, entityID string) string {
	if entityID == "" {
		return eventType
	}
	return entityID
}

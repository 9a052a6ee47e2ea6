package commands

import (
	"encoding/json"
	"time"

	"atlas/contexts/project-tracking/approval-workflow/ports"
)

const eventTypeRequestResolved = "approval_request.resolved"

func newApprovalEnvelope(
	eventID string,
	eventType string,
	requestID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Command-side events are partitioned by request so the external action
	// executor observes each request's events in order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "approval-workflow",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "request_id",
		PartitionKey:     requestID,
		Data:             payload,
	}, nil
}

func marshalEnvelope(envelope ports.EventEnvelope) ([]byte, error) {
	return json.Marshal(envelope)
}

package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "atlas/contexts/project-tracking/approval-workflow/application"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

// OutboxRelay publishes persisted resolution events to the event bus. The
// external action executor consumes them to run whatever the request's
// action_key describes.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch of pending outbox rows and marks each row
// sent only after the publish succeeds. It stops on the first failure so the
// retry loop can reprocess remaining rows safely.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("approval outbox list failed",
			"event", "approval_outbox_list_failed",
			"module", "project-tracking/approval-workflow",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		logger.Debug("approval outbox relay found no pending rows",
			"event", "approval_outbox_relay_noop",
			"module", "project-tracking/approval-workflow",
			"layer", "worker",
			"batch_size", limit,
		)
		return nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("approval outbox decode failed",
				"event", "approval_outbox_decode_failed",
				"module", "project-tracking/approval-workflow",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("approval outbox publish failed",
				"event", "approval_outbox_publish_failed",
				"module", "project-tracking/approval-workflow",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxSent(ctx, row.OutboxID, now); err != nil {
			logger.Error("approval outbox mark sent failed",
				"event", "approval_outbox_mark_sent_failed",
				"module", "project-tracking/approval-workflow",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("approval outbox relay cycle completed",
		"event", "approval_outbox_relay_completed",
		"module", "project-tracking/approval-workflow",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}

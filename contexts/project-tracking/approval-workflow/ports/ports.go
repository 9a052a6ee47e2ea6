package ports

import (
	"context"
	"time"

	contractsv1 "atlas/contracts/gen/events/v1"
	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
)

// RequestWithDecisions is a request together with its full roster ledger,
// read from one consistent snapshot.
type RequestWithDecisions struct {
	Request   entities.ApprovalRequest
	Decisions []entities.RecipientDecision
}

// VoteMutation is the write set one decision cast produces against a locked
// request: the roster row transitioning from undecided to decided, the
// terminal transition when this vote completes a majority, and any events to
// append in the same transaction.
type VoteMutation struct {
	Decision   entities.RecipientDecision
	Resolution *Resolution
	Outbox     []OutboxMessage
}

type Resolution struct {
	Decision   entities.Decision
	ResolvedAt time.Time
}

// VoteFunc inspects the request state under the repository's exclusive
// per-request transaction and returns the mutation to persist. It must be
// side-effect free: the caller may invoke it again after a storage conflict.
type VoteFunc func(request entities.ApprovalRequest, decisions []entities.RecipientDecision) (VoteMutation, error)

// ApprovalRepository persists requests and their frozen rosters. Creation is
// a single atomic unit (request plus all roster rows, or nothing), and
// CastDecision runs its VoteFunc plus the resulting writes as one
// serialized transaction per request id, so two racing voters can never both
// perform the resolving transition.
type ApprovalRepository interface {
	CreateRequestWithRecipients(ctx context.Context, request entities.ApprovalRequest, decisions []entities.RecipientDecision) error
	GetRequestWithDecisions(ctx context.Context, requestID string) (RequestWithDecisions, error)
	ListRequestsForUser(ctx context.Context, userID int64) ([]RequestWithDecisions, error)
	CastDecision(ctx context.Context, requestID string, apply VoteFunc) (RequestWithDecisions, error)
}

// OutboxMessage is a row ready to relay from the module outbox.
type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

// OutboxRepository models worker-side outbox polling/acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher publishes canonical envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// EventSubscriber registers a topic consumer callback.
type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

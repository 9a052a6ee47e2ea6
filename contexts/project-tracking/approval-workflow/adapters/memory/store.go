package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	"atlas/contexts/project-tracking/approval-workflow/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message ports.OutboxMessage
	sent    bool
	seq     int
}

// Store is the in-memory adapter used by unit suites and local wiring. One
// store-wide mutex serializes every decision transaction, which satisfies the
// exactly-once resolution guarantee the repository contract requires.
type Store struct {
	mu sync.RWMutex

	requests  map[string]entities.ApprovalRequest
	decisions map[string][]entities.RecipientDecision
	outbox    map[string]outboxRecord
	outboxSeq int
}

func NewStore() *Store {
	return &Store{
		requests:  make(map[string]entities.ApprovalRequest),
		decisions: make(map[string][]entities.RecipientDecision),
		outbox:    make(map[string]outboxRecord),
	}
}

func (s *Store) CreateRequestWithRecipients(
	_ context.Context,
	request entities.ApprovalRequest,
	decisions []entities.RecipientDecision,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.RequestID]; exists {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	s.requests[request.RequestID] = request
	s.decisions[request.RequestID] = copyDecisions(decisions)
	return nil
}

func (s *Store) GetRequestWithDecisions(_ context.Context, requestID string) (ports.RequestWithDecisions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(requestID)
}

func (s *Store) ListRequestsForUser(_ context.Context, userID int64) ([]ports.RequestWithDecisions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var relevant []ports.RequestWithDecisions
	for requestID, request := range s.requests {
		if request.RequestedBy == userID || s.isRecipientLocked(requestID, userID) {
			snapshot, err := s.snapshotLocked(requestID)
			if err != nil {
				return nil, err
			}
			relevant = append(relevant, snapshot)
		}
	}
	sort.Slice(relevant, func(i, j int) bool {
		if relevant[i].Request.CreatedAt.Equal(relevant[j].Request.CreatedAt) {
			return relevant[i].Request.RequestID > relevant[j].Request.RequestID
		}
		return relevant[i].Request.CreatedAt.After(relevant[j].Request.CreatedAt)
	})
	return relevant, nil
}

func (s *Store) CastDecision(_ context.Context, requestID string, apply ports.VoteFunc) (ports.RequestWithDecisions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.snapshotLocked(requestID)
	if err != nil {
		return ports.RequestWithDecisions{}, err
	}

	mutation, err := apply(snapshot.Request, snapshot.Decisions)
	if err != nil {
		return ports.RequestWithDecisions{}, err
	}

	stored := s.decisions[requestID]
	slot := -1
	for i, decision := range stored {
		if decision.UserID == mutation.Decision.UserID {
			slot = i
			break
		}
	}
	if slot < 0 || stored[slot].Decided() {
		return ports.RequestWithDecisions{}, domainerrors.ErrRepositoryInvariantBroke
	}
	stored[slot] = mutation.Decision

	request := s.requests[requestID]
	if mutation.Resolution != nil {
		if request.Status.Terminal() {
			return ports.RequestWithDecisions{}, domainerrors.ErrRepositoryInvariantBroke
		}
		decision := mutation.Resolution.Decision
		resolvedAt := mutation.Resolution.ResolvedAt
		request.Status = decision.TerminalStatus()
		request.ResolvedDecision = &decision
		request.ResolvedAt = &resolvedAt
		request.UpdatedAt = resolvedAt
	} else if mutation.Decision.DecisionAt != nil {
		request.UpdatedAt = *mutation.Decision.DecisionAt
	}
	s.requests[requestID] = request

	for _, message := range mutation.Outbox {
		s.outboxSeq++
		s.outbox[message.OutboxID] = outboxRecord{message: message, seq: s.outboxSeq}
	}

	return s.snapshotLocked(requestID)
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []outboxRecord
	for _, record := range s.outbox {
		if !record.sent {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].seq < records[j].seq
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	messages := make([]ports.OutboxMessage, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.message)
	}
	return messages, nil
}

func (s *Store) MarkOutboxSent(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	record.sent = true
	s.outbox[outboxID] = record
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) snapshotLocked(requestID string) (ports.RequestWithDecisions, error) {
	request, ok := s.requests[requestID]
	if !ok {
		return ports.RequestWithDecisions{}, domainerrors.ErrRequestNotFound
	}
	return ports.RequestWithDecisions{
		Request:   request,
		Decisions: copyDecisions(s.decisions[requestID]),
	}, nil
}

func (s *Store) isRecipientLocked(requestID string, userID int64) bool {
	for _, decision := range s.decisions[requestID] {
		if decision.UserID == userID {
			return true
		}
	}
	return false
}

func copyDecisions(decisions []entities.RecipientDecision) []entities.RecipientDecision {
	copied := make([]entities.RecipientDecision, len(decisions))
	copy(copied, decisions)
	return copied
}

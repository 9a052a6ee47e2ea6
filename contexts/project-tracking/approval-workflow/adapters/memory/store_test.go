package memory

import (
	"context"
	"testing"
	"time"

	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

func seedRequest(t *testing.T, store *Store, requestID string, requestedBy int64, recipientIDs ...int64) {
	t.Helper()
	now := time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
	request := entities.ApprovalRequest{
		RequestID:   requestID,
		Title:       "archive repository",
		ActionKey:   "repository.archive",
		RequestedBy: requestedBy,
		Status:      entities.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	decisions := make([]entities.RecipientDecision, 0, len(recipientIDs))
	for _, userID := range recipientIDs {
		decisions = append(decisions, entities.RecipientDecision{
			RequestID: requestID,
			UserID:    userID,
		})
	}
	if err := store.CreateRequestWithRecipients(context.Background(), request, decisions); err != nil {
		t.Fatalf("seed request failed: %v", err)
	}
}

func approveVote(userID int64) ports.VoteFunc {
	return func(request entities.ApprovalRequest, decisions []entities.RecipientDecision) (ports.VoteMutation, error) {
		if request.Resolved() {
			return ports.VoteMutation{}, domainerrors.ErrRequestResolved
		}
		for _, decision := range decisions {
			if decision.UserID != userID {
				continue
			}
			if decision.Decided() {
				return ports.VoteMutation{}, domainerrors.ErrAlreadyDecided
			}
			now := time.Now().UTC()
			value := entities.DecisionApproved
			updated := decision
			updated.Decision = &value
			updated.DecisionAt = &now
			mutation := ports.VoteMutation{Decision: updated}

			ledger := make([]entities.RecipientDecision, len(decisions))
			copy(ledger, decisions)
			for i := range ledger {
				if ledger[i].UserID == userID {
					ledger[i] = updated
				}
			}
			if outcome, resolved := entities.TallyDecisions(ledger).Outcome(); resolved {
				mutation.Resolution = &ports.Resolution{Decision: outcome, ResolvedAt: now}
			}
			return mutation, nil
		}
		return ports.VoteMutation{}, domainerrors.ErrNotRecipient
	}
}

func TestCreateAndGetKeepsRosterFrozen(t *testing.T) {
	store := NewStore()
	seedRequest(t, store, "req-1", 7, 1, 2, 3)

	stored, err := store.GetRequestWithDecisions(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(stored.Decisions) != 3 {
		t.Fatalf("expected roster of 3, got %d", len(stored.Decisions))
	}

	// Mutating the returned snapshot must not leak into the store.
	value := entities.DecisionRejected
	stored.Decisions[0].Decision = &value
	refetched, err := store.GetRequestWithDecisions(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if refetched.Decisions[0].Decided() {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}

func TestGetUnknownRequestReturnsNotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.GetRequestWithDecisions(context.Background(), "missing"); err != domainerrors.ErrRequestNotFound {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestCastDecisionAppliesMutationAndResolution(t *testing.T) {
	store := NewStore()
	seedRequest(t, store, "req-1", 7, 1, 2, 3)

	first, err := store.CastDecision(context.Background(), "req-1", approveVote(1))
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if first.Request.Status != entities.StatusPending {
		t.Fatalf("one approval of three must stay pending, got %s", first.Request.Status)
	}

	second, err := store.CastDecision(context.Background(), "req-1", approveVote(2))
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if second.Request.Status != entities.StatusApproved {
		t.Fatalf("two approvals of three must resolve, got %s", second.Request.Status)
	}
	if second.Request.ResolvedDecision == nil || *second.Request.ResolvedDecision != entities.DecisionApproved {
		t.Fatalf("resolved_decision must mirror the winning decision")
	}
	if second.Request.ResolvedAt == nil {
		t.Fatalf("resolved_at must be set on resolution")
	}
}

func TestListRequestsForUserFiltersAndOrders(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
	for i, seed := range []struct {
		id          string
		requestedBy int64
		recipients  []int64
	}{
		{id: "req-a", requestedBy: 9, recipients: []int64{1, 2}},
		{id: "req-b", requestedBy: 1, recipients: []int64{2, 3}},
		{id: "req-c", requestedBy: 9, recipients: []int64{3, 4}},
	} {
		request := entities.ApprovalRequest{
			RequestID:   seed.id,
			Title:       "request " + seed.id,
			ActionKey:   "noop",
			RequestedBy: seed.requestedBy,
			Status:      entities.StatusPending,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   now.Add(time.Duration(i) * time.Minute),
		}
		var decisions []entities.RecipientDecision
		for _, userID := range seed.recipients {
			decisions = append(decisions, entities.RecipientDecision{RequestID: seed.id, UserID: userID})
		}
		if err := store.CreateRequestWithRecipients(context.Background(), request, decisions); err != nil {
			t.Fatalf("seed %s failed: %v", seed.id, err)
		}
	}

	relevant, err := store.ListRequestsForUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(relevant) != 2 {
		t.Fatalf("expected 2 relevant requests, got %d", len(relevant))
	}
	if relevant[0].Request.RequestID != "req-b" || relevant[1].Request.RequestID != "req-a" {
		t.Fatalf("expected newest-first [req-b req-a], got [%s %s]",
			relevant[0].Request.RequestID, relevant[1].Request.RequestID)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := NewStore()
	seedRequest(t, store, "req-1", 7, 1)

	if _, err := store.CastDecision(context.Background(), "req-1", func(request entities.ApprovalRequest, decisions []entities.RecipientDecision) (ports.VoteMutation, error) {
		now := time.Now().UTC()
		value := entities.DecisionApproved
		updated := decisions[0]
		updated.Decision = &value
		updated.DecisionAt = &now
		return ports.VoteMutation{
			Decision:   updated,
			Resolution: &ports.Resolution{Decision: value, ResolvedAt: now},
			Outbox: []ports.OutboxMessage{{
				OutboxID:  "evt-1",
				EventType: "approval_request.resolved",
				Payload:   []byte(`{}`),
				CreatedAt: now,
			}},
		}, nil
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].OutboxID != "evt-1" {
		t.Fatalf("expected pending [evt-1], got %+v", pending)
	}

	if err := store.MarkOutboxSent(context.Background(), "evt-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, err = store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox after mark failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox after mark, got %d rows", len(pending))
	}
}

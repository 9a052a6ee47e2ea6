package unit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	approvalworkflow "atlas/contexts/project-tracking/approval-workflow"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	httptransport "atlas/contexts/project-tracking/approval-workflow/transport/http"
)

func TestApprovalConcurrentVotesResolveExactlyOnce(t *testing.T) {
	module := approvalworkflow.NewInMemoryModule(nil)

	const rosterSize = 9
	recipients := make([]int64, 0, rosterSize)
	for i := int64(1); i <= rosterSize; i++ {
		recipients = append(recipients, i)
	}
	created, err := module.Handler.CreateRequestHandler(context.Background(), 100, httptransport.CreateApprovalRequest{
		Title:         "rotate signing keys",
		ActionKey:     "security.rotate_keys",
		ActionPayload: json.RawMessage(`{"keyset":"primary"}`),
		RecipientIDs:  recipients,
	})
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, rosterSize)
	for i, voterID := range recipients {
		wg.Add(1)
		go func(slot int, voterID int64) {
			defer wg.Done()
			_, errs[slot] = module.Handler.CastDecisionHandler(context.Background(), created.ID, voterID, httptransport.CastDecisionRequest{
				Decision: "approved",
			})
		}(i, voterID)
	}
	wg.Wait()

	accepted := 0
	for slot, voteErr := range errs {
		switch {
		case voteErr == nil:
			accepted++
		case errors.Is(voteErr, domainerrors.ErrRequestResolved):
			// Votes arriving after the majority landed are refused.
		default:
			t.Fatalf("voter %d failed unexpectedly: %v", recipients[slot], voteErr)
		}
	}
	if accepted < rosterSize/2+1 {
		t.Fatalf("at least a strict majority of votes must be accepted, got %d", accepted)
	}

	view, err := module.Handler.GetRequestHandler(context.Background(), created.ID, 0)
	if err != nil {
		t.Fatalf("get after concurrent votes failed: %v", err)
	}
	if view.Status != "approved" {
		t.Fatalf("unanimous approvals must resolve the request, got %s", view.Status)
	}
	if view.ResolvedDecision == nil || *view.ResolvedDecision != "approved" {
		t.Fatalf("resolved_decision must be approved")
	}
	if view.ResolvedAt == nil {
		t.Fatalf("resolved_at must be set")
	}

	decided := 0
	for _, recipient := range view.Recipients {
		if recipient.Decision != nil {
			if *recipient.Decision != "approved" {
				t.Fatalf("unexpected decision value %q", *recipient.Decision)
			}
			decided++
		}
	}
	if decided != accepted {
		t.Fatalf("recorded decisions (%d) must match accepted votes (%d)", decided, accepted)
	}

	// Exactly one resolution event regardless of how the race played out.
	pending, err := module.Store.ListPendingOutbox(context.Background(), 50)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one resolution event, got %d", len(pending))
	}
	if pending[0].EventType != "approval_request.resolved" {
		t.Fatalf("unexpected event type %q", pending[0].EventType)
	}
}

// Readers racing a resolving vote must always see the request row and its
// ledger from one committed state: a majority-complete ledger paired with a
// still-pending status is a mid-transition view that no snapshot may expose.
func TestReadersNeverObserveMidTransitionState(t *testing.T) {
	module := approvalworkflow.NewInMemoryModule(nil)

	const rosterSize = 5
	recipients := make([]int64, 0, rosterSize)
	for i := int64(1); i <= rosterSize; i++ {
		recipients = append(recipients, i)
	}
	created, err := module.Handler.CreateRequestHandler(context.Background(), 100, httptransport.CreateApprovalRequest{
		Title:        "archive completed project",
		ActionKey:    "project.archive",
		RecipientIDs: recipients,
	})
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	done := make(chan struct{})
	violation := make(chan string, 1)
	go func() {
		defer close(done)
		for {
			view, err := module.Handler.GetRequestHandler(context.Background(), created.ID, 0)
			if err != nil {
				violation <- "get failed: " + err.Error()
				return
			}
			approved := 0
			for _, recipient := range view.Recipients {
				if recipient.Decision != nil && *recipient.Decision == "approved" {
					approved++
				}
			}
			if view.Status == "pending" && approved*2 > rosterSize {
				violation <- "observed majority-complete ledger with pending status"
				return
			}
			if view.Status == "approved" && (view.ResolvedDecision == nil || view.ResolvedAt == nil) {
				violation <- "observed terminal status without resolution fields"
				return
			}
			if view.Status == "approved" {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for _, voterID := range recipients {
		wg.Add(1)
		go func(voterID int64) {
			defer wg.Done()
			_, voteErr := module.Handler.CastDecisionHandler(context.Background(), created.ID, voterID, httptransport.CastDecisionRequest{
				Decision: "approved",
			})
			if voteErr != nil && !errors.Is(voteErr, domainerrors.ErrRequestResolved) {
				t.Errorf("voter %d failed unexpectedly: %v", voterID, voteErr)
			}
		}(voterID)
	}
	wg.Wait()
	<-done

	select {
	case msg := <-violation:
		t.Fatalf("inconsistent read: %s", msg)
	default:
	}
}

func TestApprovalConcurrentDoubleVoteSingleRecipient(t *testing.T) {
	module := approvalworkflow.NewInMemoryModule(nil)
	created, err := module.Handler.CreateRequestHandler(context.Background(), 100, httptransport.CreateApprovalRequest{
		Title:        "grant repository access",
		ActionKey:    "access.grant",
		RecipientIDs: []int64{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = module.Handler.CastDecisionHandler(context.Background(), created.ID, 1, httptransport.CastDecisionRequest{
				Decision: "approved",
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, voteErr := range errs {
		switch {
		case voteErr == nil:
			accepted++
		case errors.Is(voteErr, domainerrors.ErrAlreadyDecided):
		default:
			t.Fatalf("unexpected error: %v", voteErr)
		}
	}
	if accepted != 1 {
		t.Fatalf("exactly one of the racing votes must land, got %d", accepted)
	}

	view, err := module.Handler.GetRequestHandler(context.Background(), created.ID, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if view.Status != "pending" {
		t.Fatalf("one vote of three must stay pending, got %s", view.Status)
	}
	if view.Recipients[0].Decision == nil || *view.Recipients[0].Decision != "approved" {
		t.Fatalf("recipient's single decision must be recorded")
	}
}

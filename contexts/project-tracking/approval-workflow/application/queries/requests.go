package queries

import (
	"context"
	"sort"

	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

// RequestQueries are pure read projections over persisted approval state.
// They mutate nothing and see only committed transactions.
type RequestQueries struct {
	Requests ports.ApprovalRepository
}

// RequestView is a request plus the viewer-relative pending marker.
// PendingDecision is nil when the viewer is anonymous or not on the roster.
type RequestView struct {
	Request         entities.ApprovalRequest
	Decisions       []entities.RecipientDecision
	PendingDecision *bool
}

// GetRequest returns one request with its full ledger. A viewerID of zero is
// treated as anonymous.
func (uc RequestQueries) GetRequest(ctx context.Context, requestID string, viewerID int64) (RequestView, error) {
	stored, err := uc.Requests.GetRequestWithDecisions(ctx, requestID)
	if err != nil {
		return RequestView{}, err
	}
	return newRequestView(stored, viewerID), nil
}

// ListRelevantRequests returns every request where the user is the requester
// or a roster member, newest first.
func (uc RequestQueries) ListRelevantRequests(ctx context.Context, userID int64) ([]RequestView, error) {
	stored, err := uc.Requests.ListRequestsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]RequestView, 0, len(stored))
	for _, item := range stored {
		views = append(views, newRequestView(item, userID))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Request.CreatedAt.Equal(views[j].Request.CreatedAt) {
			return views[i].Request.RequestID > views[j].Request.RequestID
		}
		return views[i].Request.CreatedAt.After(views[j].Request.CreatedAt)
	})
	return views, nil
}

func newRequestView(stored ports.RequestWithDecisions, viewerID int64) RequestView {
	view := RequestView{
		Request:   stored.Request,
		Decisions: stored.Decisions,
	}
	if viewerID <= 0 {
		return view
	}
	for _, decision := range stored.Decisions {
		if decision.UserID == viewerID {
			pending := !decision.Decided()
			view.PendingDecision = &pending
			break
		}
	}
	return view
}

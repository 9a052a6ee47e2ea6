package httpadapter

import (
	"context"
	"log/slog"

	"atlas/contexts/project-tracking/approval-workflow/application/commands"
	"atlas/contexts/project-tracking/approval-workflow/application/queries"
	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	"atlas/contexts/project-tracking/approval-workflow/ports"
	httptransport "atlas/contexts/project-tracking/approval-workflow/transport/http"
)

type Handler struct {
	Approvals commands.ApprovalUseCase
	Queries   queries.RequestQueries
	Logger    *slog.Logger
}

func (h Handler) CreateRequestHandler(
	ctx context.Context,
	requesterID int64,
	req httptransport.CreateApprovalRequest,
) (httptransport.ApprovalRequestResponse, error) {
	result, err := h.Approvals.SubmitRequest(ctx, commands.SubmitRequestCommand{
		RequesterID:   requesterID,
		Title:         req.Title,
		Description:   req.Description,
		ActionKey:     req.ActionKey,
		ActionPayload: req.ActionPayload,
		RecipientIDs:  req.RecipientIDs,
	})
	if err != nil {
		return httptransport.ApprovalRequestResponse{}, err
	}
	return mapRequestResponse(result, nil), nil
}

func (h Handler) CastDecisionHandler(
	ctx context.Context,
	requestID string,
	voterID int64,
	req httptransport.CastDecisionRequest,
) (httptransport.ApprovalRequestResponse, error) {
	result, err := h.Approvals.CastDecision(ctx, commands.CastDecisionCommand{
		RequestID: requestID,
		VoterID:   voterID,
		Decision:  entities.Decision(req.Decision),
	})
	if err != nil {
		return httptransport.ApprovalRequestResponse{}, err
	}
	return mapRequestResponse(result, pendingFor(result.Decisions, voterID)), nil
}

func (h Handler) GetRequestHandler(
	ctx context.Context,
	requestID string,
	viewerID int64,
) (httptransport.ApprovalRequestResponse, error) {
	view, err := h.Queries.GetRequest(ctx, requestID, viewerID)
	if err != nil {
		return httptransport.ApprovalRequestResponse{}, err
	}
	return mapRequestResponse(ports.RequestWithDecisions{
		Request:   view.Request,
		Decisions: view.Decisions,
	}, view.PendingDecision), nil
}

func (h Handler) ListRequestsHandler(ctx context.Context, userID int64) (httptransport.ApprovalRequestListResponse, error) {
	views, err := h.Queries.ListRelevantRequests(ctx, userID)
	if err != nil {
		return httptransport.ApprovalRequestListResponse{}, err
	}
	items := make([]httptransport.ApprovalRequestResponse, 0, len(views))
	for _, view := range views {
		items = append(items, mapRequestResponse(ports.RequestWithDecisions{
			Request:   view.Request,
			Decisions: view.Decisions,
		}, view.PendingDecision))
	}
	return httptransport.ApprovalRequestListResponse{Items: items}, nil
}

func mapRequestResponse(result ports.RequestWithDecisions, pendingDecision *bool) httptransport.ApprovalRequestResponse {
	recipients := make([]httptransport.RecipientResponse, 0, len(result.Decisions))
	for _, decision := range result.Decisions {
		recipient := httptransport.RecipientResponse{
			UserID:     decision.UserID,
			DecisionAt: decision.DecisionAt,
		}
		if decision.Decision != nil {
			value := string(*decision.Decision)
			recipient.Decision = &value
		}
		recipients = append(recipients, recipient)
	}

	response := httptransport.ApprovalRequestResponse{
		ID:              result.Request.RequestID,
		Title:           result.Request.Title,
		Description:     result.Request.Description,
		Status:          string(result.Request.Status),
		ResolvedAt:      result.Request.ResolvedAt,
		ActionKey:       result.Request.ActionKey,
		ActionPayload:   result.Request.ActionPayload,
		RequestedBy:     result.Request.RequestedBy,
		Recipients:      recipients,
		PendingDecision: pendingDecision,
		CreatedAt:       result.Request.CreatedAt,
		UpdatedAt:       result.Request.UpdatedAt,
	}
	if result.Request.ResolvedDecision != nil {
		value := string(*result.Request.ResolvedDecision)
		response.ResolvedDecision = &value
	}
	return response
}

func pendingFor(decisions []entities.RecipientDecision, userID int64) *bool {
	for _, decision := range decisions {
		if decision.UserID == userID {
			pending := !decision.Decided()
			return &pending
		}
	}
	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "atlas/contexts/project-tracking/approval-workflow/application"
	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

// SubmitRequestCommand is the write-model input for approval request creation.
// RecipientIDs may contain duplicates; the roster is deduplicated before it
// is frozen.
type SubmitRequestCommand struct {
	RequesterID   int64
	Title         string
	Description   string
	ActionKey     string
	ActionPayload json.RawMessage
	RecipientIDs  []int64
}

// ApprovalUseCase orchestrates the approval request lifecycle: roster-frozen
// creation and race-free decision casting with majority resolution.
type ApprovalUseCase struct {
	Requests     ports.ApprovalRepository
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	VoteAttempts int
	Logger       *slog.Logger
}

// SubmitRequest creates a pending request with its roster in one atomic unit.
// The roster is populated here and never mutated afterward.
func (uc ApprovalUseCase) SubmitRequest(ctx context.Context, cmd SubmitRequestCommand) (ports.RequestWithDecisions, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("approval request submit started",
		"event", "approval_submit_started",
		"module", "project-tracking/approval-workflow",
		"layer", "application",
		"requested_by", cmd.RequesterID,
		"recipient_count", len(cmd.RecipientIDs),
	)

	if cmd.RequesterID <= 0 {
		return ports.RequestWithDecisions{}, domainerrors.ErrInvalidUserID
	}
	if strings.TrimSpace(cmd.Title) == "" || strings.TrimSpace(cmd.ActionKey) == "" {
		logger.Warn("approval request submit validation failed",
			"event", "approval_submit_validation_failed",
			"module", "project-tracking/approval-workflow",
			"layer", "application",
			"requested_by", cmd.RequesterID,
		)
		return ports.RequestWithDecisions{}, domainerrors.ErrInvalidSubmitInput
	}

	recipients := dedupRecipientIDs(cmd.RecipientIDs)
	if len(recipients) == 0 {
		logger.Warn("approval request submit has empty roster",
			"event", "approval_submit_empty_roster",
			"module", "project-tracking/approval-workflow",
			"layer", "application",
			"requested_by", cmd.RequesterID,
		)
		return ports.RequestWithDecisions{}, domainerrors.ErrEmptyRecipientList
	}
	for _, userID := range recipients {
		if userID <= 0 {
			return ports.RequestWithDecisions{}, domainerrors.ErrInvalidUserID
		}
	}

	requestID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ports.RequestWithDecisions{}, err
	}
	now := uc.now()
	request := entities.ApprovalRequest{
		RequestID:     requestID,
		Title:         strings.TrimSpace(cmd.Title),
		Description:   strings.TrimSpace(cmd.Description),
		ActionKey:     strings.TrimSpace(cmd.ActionKey),
		ActionPayload: cmd.ActionPayload,
		RequestedBy:   cmd.RequesterID,
		Status:        entities.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	decisions := make([]entities.RecipientDecision, 0, len(recipients))
	for _, userID := range recipients {
		decisions = append(decisions, entities.RecipientDecision{
			RequestID: requestID,
			UserID:    userID,
		})
	}

	if err := uc.Requests.CreateRequestWithRecipients(ctx, request, decisions); err != nil {
		logger.Error("approval request create failed",
			"event", "approval_submit_create_failed",
			"module", "project-tracking/approval-workflow",
			"layer", "application",
			"request_id", requestID,
			"requested_by", cmd.RequesterID,
			"error", err.Error(),
		)
		return ports.RequestWithDecisions{}, err
	}

	logger.Info("approval request created",
		"event", "approval_request_created",
		"module", "project-tracking/approval-workflow",
		"layer", "application",
		"request_id", requestID,
		"requested_by", cmd.RequesterID,
		"roster_size", len(decisions),
	)
	return ports.RequestWithDecisions{Request: request, Decisions: decisions}, nil
}

func (uc ApprovalUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

// dedupRecipientIDs drops repeated ids while preserving first-seen order, so
// the persisted roster matches the caller's ordering.
func dedupRecipientIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	deduped := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	return deduped
}

package commands

import (
	"context"
	"errors"

	application "atlas/contexts/project-tracking/approval-workflow/application"
	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

const defaultVoteAttempts = 3

// CastDecisionCommand records one recipient's decision on a pending request.
type CastDecisionCommand struct {
	RequestID string
	VoterID   int64
	Decision  entities.Decision
}

// CastDecision validates the voter against the frozen roster, records the
// decision, and resolves the request in the same transaction when the vote
// completes a strict roster majority. Preconditions are checked in a fixed
// order so each failure mode surfaces distinctly: unknown request, request
// already resolved, non-recipient, duplicate vote.
//
// The whole unit runs under the repository's per-request serialization;
// storage conflicts are retried a bounded number of times so a qualifying
// vote is never silently dropped.
func (uc ApprovalUseCase) CastDecision(ctx context.Context, cmd CastDecisionCommand) (ports.RequestWithDecisions, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("decision cast started",
		"event", "approval_decision_started",
		"module", "project-tracking/approval-workflow",
		"layer", "application",
		"request_id", cmd.RequestID,
		"voter_id", cmd.VoterID,
		"decision", string(cmd.Decision),
	)

	if !cmd.Decision.Valid() {
		logger.Warn("decision cast validation failed",
			"event", "approval_decision_validation_failed",
			"module", "project-tracking/approval-workflow",
			"layer", "application",
			"request_id", cmd.RequestID,
			"voter_id", cmd.VoterID,
			"decision", string(cmd.Decision),
		)
		return ports.RequestWithDecisions{}, domainerrors.ErrInvalidDecision
	}
	if cmd.VoterID <= 0 {
		return ports.RequestWithDecisions{}, domainerrors.ErrInvalidUserID
	}

	attempts := uc.VoteAttempts
	if attempts <= 0 {
		attempts = defaultVoteAttempts
	}

	var (
		result ports.RequestWithDecisions
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = uc.Requests.CastDecision(ctx, cmd.RequestID, uc.voteFunc(ctx, cmd))
		if err == nil || !errors.Is(err, domainerrors.ErrStorageConflict) {
			break
		}
		logger.Warn("decision transaction conflicted, retrying",
			"event", "approval_decision_storage_conflict",
			"module", "project-tracking/approval-workflow",
			"layer", "application",
			"request_id", cmd.RequestID,
			"voter_id", cmd.VoterID,
			"attempt", attempt,
		)
	}
	if err != nil {
		// Conflict outcomes are expected under concurrent voting and are
		// reported, not logged as errors.
		if errors.Is(err, domainerrors.ErrRequestResolved) || errors.Is(err, domainerrors.ErrAlreadyDecided) {
			logger.Info("decision cast rejected as conflict",
				"event", "approval_decision_conflict",
				"module", "project-tracking/approval-workflow",
				"layer", "application",
				"request_id", cmd.RequestID,
				"voter_id", cmd.VoterID,
			)
		}
		return ports.RequestWithDecisions{}, err
	}

	logger.Info("decision cast recorded",
		"event", "approval_decision_recorded",
		"module", "project-tracking/approval-workflow",
		"layer", "application",
		"request_id", cmd.RequestID,
		"voter_id", cmd.VoterID,
		"decision", string(cmd.Decision),
		"status", string(result.Request.Status),
	)
	return result, nil
}

// voteFunc builds the pure mutation function the repository runs inside its
// exclusive transaction. It may run more than once on retry.
func (uc ApprovalUseCase) voteFunc(ctx context.Context, cmd CastDecisionCommand) ports.VoteFunc {
	return func(request entities.ApprovalRequest, decisions []entities.RecipientDecision) (ports.VoteMutation, error) {
		if request.Resolved() {
			return ports.VoteMutation{}, domainerrors.ErrRequestResolved
		}

		slot := -1
		for i, decision := range decisions {
			if decision.UserID == cmd.VoterID {
				slot = i
				break
			}
		}
		if slot < 0 {
			return ports.VoteMutation{}, domainerrors.ErrNotRecipient
		}
		if decisions[slot].Decided() {
			return ports.VoteMutation{}, domainerrors.ErrAlreadyDecided
		}

		now := uc.now()
		decision := cmd.Decision
		updated := decisions[slot]
		updated.Decision = &decision
		updated.DecisionAt = &now
		mutation := ports.VoteMutation{Decision: updated}

		// Evaluate the majority rule against the refreshed full ledger,
		// including the vote being cast.
		ledger := make([]entities.RecipientDecision, len(decisions))
		copy(ledger, decisions)
		ledger[slot] = updated
		tally := entities.TallyDecisions(ledger)
		outcome, resolved := tally.Outcome()
		if !resolved {
			return mutation, nil
		}

		mutation.Resolution = &ports.Resolution{Decision: outcome, ResolvedAt: now}
		eventID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return ports.VoteMutation{}, err
		}
		envelope, err := newApprovalEnvelope(eventID, eventTypeRequestResolved, request.RequestID, now, map[string]any{
			"request_id":        request.RequestID,
			"title":             request.Title,
			"requested_by":      request.RequestedBy,
			"action_key":        request.ActionKey,
			"action_payload":    request.ActionPayload,
			"resolved_decision": string(outcome),
			"roster_size":       tally.Roster,
			"approved_count":    tally.Approved,
			"rejected_count":    tally.Rejected,
		})
		if err != nil {
			return ports.VoteMutation{}, err
		}
		payload, err := marshalEnvelope(envelope)
		if err != nil {
			return ports.VoteMutation{}, err
		}
		mutation.Outbox = append(mutation.Outbox, ports.OutboxMessage{
			OutboxID:     eventID,
			EventType:    eventTypeRequestResolved,
			PartitionKey: request.RequestID,
			Payload:      payload,
			CreatedAt:    now,
		})
		return mutation, nil
	}
}

package http

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateApprovalRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	ActionKey     string          `json:"action_key"`
	ActionPayload json.RawMessage `json:"action_payload,omitempty"`
	RecipientIDs  []int64         `json:"recipient_ids"`
}

type CastDecisionRequest struct {
	Decision string `json:"decision"`
}

type RecipientResponse struct {
	UserID     int64      `json:"user_id"`
	Decision   *string    `json:"decision"`
	DecisionAt *time.Time `json:"decision_at"`
}

type ApprovalRequestResponse struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Status           string              `json:"status"`
	ResolvedDecision *string             `json:"resolved_decision"`
	ResolvedAt       *time.Time          `json:"resolved_at"`
	ActionKey        string              `json:"action_key"`
	ActionPayload    json.RawMessage     `json:"action_payload,omitempty"`
	RequestedBy      int64               `json:"requested_by"`
	Recipients       []RecipientResponse `json:"recipients"`
	PendingDecision  *bool               `json:"pending_decision,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type ApprovalRequestListResponse struct {
	Items []ApprovalRequestResponse `json:"items"`
}

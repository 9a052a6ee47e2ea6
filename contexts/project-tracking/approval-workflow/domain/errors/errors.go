package errors

import "errors"

var (
	ErrInvalidSubmitInput       = errors.New("invalid approval request input")
	ErrEmptyRecipientList       = errors.New("recipient list is empty")
	ErrInvalidDecision          = errors.New("invalid decision value")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrRequestNotFound          = errors.New("approval request not found")
	ErrNotRecipient             = errors.New("user is not a recipient of this request")
	ErrRequestResolved          = errors.New("approval request is already resolved")
	ErrAlreadyDecided           = errors.New("recipient has already cast a decision")
	ErrStorageConflict          = errors.New("storage conflict during decision transaction")
	ErrRepositoryInvariantBroke = errors.New("approval repository invariant violated")
)

package entities

import (
	"encoding/json"
	"time"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// TerminalStatus maps a winning decision onto the request status it produces.
func (d Decision) TerminalStatus() RequestStatus {
	if d == DecisionRejected {
		return StatusRejected
	}
	return StatusApproved
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ApprovalRequest is a multi-approver decision request. Title, description,
// action fields and requester are immutable after creation; status moves from
// pending to a terminal value at most once.
type ApprovalRequest struct {
	RequestID        string
	Title            string
	Description      string
	ActionKey        string
	ActionPayload    json.RawMessage
	RequestedBy      int64
	Status           RequestStatus
	ResolvedDecision *Decision
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r ApprovalRequest) Resolved() bool {
	return r.Status.Terminal()
}

// RecipientDecision is one roster slot: a recipient entitled to cast exactly
// one decision on one request. A nil Decision means undecided.
type RecipientDecision struct {
	RequestID  string
	UserID     int64
	Decision   *Decision
	DecisionAt *time.Time
}

func (d RecipientDecision) Decided() bool {
	return d.Decision != nil
}

// Tally is the vote count snapshot for one request's full roster.
type Tally struct {
	Roster    int
	Approved  int
	Rejected  int
	Undecided int
}

func TallyDecisions(decisions []RecipientDecision) Tally {
	tally := Tally{Roster: len(decisions)}
	for _, decision := range decisions {
		switch {
		case decision.Decision == nil:
			tally.Undecided++
		case *decision.Decision == DecisionApproved:
			tally.Approved++
		case *decision.Decision == DecisionRejected:
			tally.Rejected++
		}
	}
	return tally
}

// Outcome applies the resolution rule: a request resolves the instant either
// decision holds a strict majority of the total roster, not of votes cast.
// A roster of 3 resolves at 2 matching votes, a roster of 4 needs 3; even
// splits never resolve, no matter how many votes are outstanding. Counting
// against the full roster makes the outcome irrevocable: the remaining
// undecided recipients can never overturn it.
func (t Tally) Outcome() (Decision, bool) {
	if t.Approved*2 > t.Roster {
		return DecisionApproved, true
	}
	if t.Rejected*2 > t.Roster {
		return DecisionRejected, true
	}
	return "", false
}

package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/validation"
)

// Action is an approval workflow command.
type Action string

const (
	ActionRequestApproval Action = "request_approval"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionMarkSent        Action = "mark_sent"
)

// Actions lists every approval action.
var Actions = []Action{ActionRequestApproval, ActionApprove, ActionReject, ActionMarkSent}

type guard int

const (
	guardOwner guard = iota
	guardAdmin
)

type edge struct {
	from   ApprovalStatus
	action Action
}

type target struct {
	to    ApprovalStatus
	guard guard
}

// transitions is the complete approval table. Pairs not listed are invalid.
var transitions = map[edge]target{
	{ApprovalDraft, ActionRequestApproval}:   {ApprovalPendingApproval, guardOwner},
	{ApprovalPendingApproval, ActionApprove}: {ApprovalApproved, guardAdmin},
	{ApprovalPendingApproval, ActionReject}:  {ApprovalRejected, guardAdmin},
	{ApprovalApproved, ActionMarkSent}:       {ApprovalSent, guardOwner},
}

// TransitionError reports an action that is not allowed from a state.
type TransitionError struct {
	From   ApprovalStatus
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an invoice in %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NextApproval returns the state reached by applying action in from.
func NextApproval(from ApprovalStatus, action Action) (ApprovalStatus, error) {
	t, ok := transitions[edge{from, action}]
	if !ok {
		return "", &TransitionError{From: from, Action: action}
	}
	return t.to, nil
}

// applyTransition checks the edge, its guard and the rejection reason, then
// mutates inv. Checks run in that order.
func applyTransition(inv *Invoice, caller auth.Principal, action Action, reason string, now time.Time) error {
	t, ok := transitions[edge{inv.ApprovalStatus, action}]
	if !ok {
		return &TransitionError{From: inv.ApprovalStatus, Action: action}
	}

	switch t.guard {
	case guardOwner:
		if !caller.Owns(inv.OwnerID) {
			return fmt.Errorf("%w: only the invoice owner may %s", ErrForbidden, action)
		}
	case guardAdmin:
		if !caller.Admin {
			return fmt.Errorf("%w: %s requires the admin capability", ErrForbidden, action)
		}
	}

	reason = strings.TrimSpace(reason)
	if action == ActionReject && reason == "" {
		return validation.NewError("reason", "is required when rejecting")
	}

	inv.ApprovalStatus = t.to
	switch action {
	case ActionRequestApproval:
		inv.RejectionReason = ""
	case ActionApprove:
		inv.ApprovedBy = caller.AccountID
		inv.ApprovedAt = &now
	case ActionReject:
		inv.RejectionReason = reason
	case ActionMarkSent:
		inv.SentAt = &now
	}
	inv.UpdatedAt = now
	return nil
}

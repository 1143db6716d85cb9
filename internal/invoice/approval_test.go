package invoice

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/notify"
	"github.com/mbd888/billflow/internal/validation"
)

var approvalStates = []ApprovalStatus{
	ApprovalDraft, ApprovalPendingApproval, ApprovalApproved, ApprovalRejected, ApprovalSent,
}

// callerFor returns a principal that satisfies the guard of action.
func callerFor(action Action) auth.Principal {
	if action == ActionApprove || action == ActionReject {
		return admin
	}
	return owner
}

func TestTransition_FullGrid(t *testing.T) {
	allowed := map[string]ApprovalStatus{
		"draft/request_approval":   ApprovalPendingApproval,
		"pending_approval/approve": ApprovalApproved,
		"pending_approval/reject":  ApprovalRejected,
		"approved/mark_sent":       ApprovalSent,
	}

	for _, from := range approvalStates {
		for _, action := range Actions {
			key := fmt.Sprintf("%s/%s", from, action)
			t.Run(key, func(t *testing.T) {
				f := newFixture()
				inv := f.create(t, "100")
				f.force(t, inv.ID, func(inv *Invoice) { inv.ApprovalStatus = from })

				got, err := f.svc.Transition(context.Background(), callerFor(action), inv.ID, action, "needs work")

				want, ok := allowed[key]
				if !ok {
					require.ErrorIs(t, err, ErrInvalidTransition)
					var te *TransitionError
					require.ErrorAs(t, err, &te)
					assert.Equal(t, from, te.From)
					assert.Equal(t, action, te.Action)

					stored, _ := f.store.Get(context.Background(), inv.ID)
					assert.Equal(t, from, stored.ApprovalStatus, "rejected transition must not change state")
					return
				}
				require.NoError(t, err)
				assert.Equal(t, want, got.ApprovalStatus)
			})
		}
	}
}

func TestNextApproval(t *testing.T) {
	next, err := NextApproval(ApprovalDraft, ActionRequestApproval)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPendingApproval, next)

	_, err = NextApproval(ApprovalRejected, ActionRequestApproval)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_Guards(t *testing.T) {
	ownerAdmin := auth.Principal{AccountID: owner.AccountID, Admin: true}

	tests := []struct {
		name    string
		from    ApprovalStatus
		action  Action
		caller  auth.Principal
		reason  string
		wantErr error
	}{
		{"owner cannot approve", ApprovalPendingApproval, ActionApprove, owner, "", ErrForbidden},
		{"owner cannot reject", ApprovalPendingApproval, ActionReject, owner, "no", ErrForbidden},
		{"admin cannot request approval for another account", ApprovalDraft, ActionRequestApproval, admin, "", ErrForbidden},
		{"admin cannot mark another account's invoice sent", ApprovalApproved, ActionMarkSent, admin, "", ErrForbidden},
		{"stranger sees not found", ApprovalDraft, ActionRequestApproval, stranger, "", ErrNotFound},
		{"invalid edge reported before guard", ApprovalSent, ActionApprove, owner, "", ErrInvalidTransition},
		{"owner with admin capability may approve", ApprovalPendingApproval, ActionApprove, ownerAdmin, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			inv := f.create(t, "100")
			f.force(t, inv.ID, func(inv *Invoice) { inv.ApprovalStatus = tt.from })

			_, err := f.svc.Transition(context.Background(), tt.caller, inv.ID, tt.action, tt.reason)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReject_RequiresReason(t *testing.T) {
	f := newFixture()
	inv := f.create(t, "100")
	_, err := f.svc.RequestApproval(context.Background(), owner, inv.ID)
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), admin, inv.ID, "   ")
	require.Error(t, err)
	assert.True(t, validation.IsValidationError(err))

	// Guard is checked before the reason.
	_, err = f.svc.Reject(context.Background(), owner, inv.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	rejected, err := f.svc.Reject(context.Background(), admin, inv.ID, "wrong rate")
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, rejected.ApprovalStatus)
	assert.Equal(t, "wrong rate", rejected.RejectionReason)

	// Rejected is terminal.
	_, err = f.svc.RequestApproval(context.Background(), owner, inv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApprovalHappyPath(t *testing.T) {
	f := newFixture()
	inv := f.create(t, "100")
	triggered := f.trigger.count()

	_, err := f.svc.RequestApproval(context.Background(), owner, inv.ID)
	require.NoError(t, err)

	approved, err := f.svc.Approve(context.Background(), admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, admin.AccountID, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, f.clock.Now(), *approved.ApprovedAt)

	sent, err := f.svc.MarkSent(context.Background(), owner, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalSent, sent.ApprovalStatus)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, PaymentPending, sent.PaymentStatus, "approval is orthogonal to payment status")

	assert.Equal(t, triggered+1, f.trigger.count(), "mark_sent triggers link generation")

	events := f.recorder.Sent()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventInvoiceSent, events[0].Event)
}

func TestApproval_IndependentOfPayment(t *testing.T) {
	f := newFixture()
	inv := f.create(t, "100")
	_, _, err := f.svc.RecordPayment(context.Background(), owner, inv.ID, RecordPaymentRequest{Amount: d("100")})
	require.NoError(t, err)

	pending, err := f.svc.RequestApproval(context.Background(), owner, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, pending.PaymentStatus)
	assert.Equal(t, ApprovalPendingApproval, pending.ApprovalStatus)
}

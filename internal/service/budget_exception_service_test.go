package service

import (
	"context"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// millionRequest is assigned to buyer-1 with a total of exactly 1,000,000.
func (s *LifecycleSuite) millionRequest() *repository.PurchaseRequest {
	pr, err := s.requests.CreateDraft(context.Background(), &CreateDraftRequest{
		Actor:    requestor,
		Type:     repository.PRTypeCommercial,
		Currency: "VND",
		Items:    []repository.ItemInput{{Description: "Server rack", Quantity: dec("1"), UnitPrice: dec("1000000")}},
	})
	s.Require().NoError(err)
	s.Require().True(dec("1000000").Equal(pr.TotalAmount))
	return s.inRFQ(s.assignedFrom(pr))
}

func (s *LifecycleSuite) raise(pr *repository.PurchaseRequest, quoted string) *repository.PurchaseRequest {
	pr, err := s.exceptions.Raise(context.Background(), RaiseExceptionCommand{
		PRID: pr.ID, Actor: buyer1, QuotedAmount: dec(quoted), Comment: "supplier price increase",
	})
	s.Require().NoError(err)
	return pr
}

func (s *LifecycleSuite) TestBudgetExceptionApproved() {
	ctx := context.Background()
	pr := s.raise(s.millionRequest(), "1200000")

	s.Equal(workflow.StatusBudgetException, pr.Status)
	s.Equal(workflow.RoleBranchManager, pr.OwnerRole())
	be := pr.BudgetException
	s.Require().NotNil(be)
	s.Equal(repository.ResolutionPending, be.Resolution)
	s.True(dec("1000000").Equal(be.RequestedAmount))
	s.True(dec("1200000").Equal(be.QuotedAmount))
	s.True(dec("200000").Equal(be.Variance))
	s.Equal(buyer1.UserID, be.RaisedBy)

	ev := s.lastEvent()
	s.Equal(client.EventBudgetException, ev.EventType)
	s.Equal([]string{"bm-1"}, ev.Recipients)

	_, err := s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1300000")})
	s.assertCode(err, errors.ErrCodeBlocked)

	_, err = s.exceptions.Approve(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: buyerLeader})
	s.assertCode(err, errors.ErrCodeForbidden)
	_, err = s.exceptions.Approve(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "bm-2", Role: workflow.RoleBranchManager}})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)

	pr, err = s.exceptions.Approve(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager, Comment: "approved at board"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusBudgetApproved, pr.Status)
	s.Equal(repository.ResolutionApproved, pr.BudgetException.Resolution)
	s.Equal(branchManager.UserID, *pr.BudgetException.ResolvedBy)
	s.Equal(s.now, *pr.BudgetException.ResolvedAt)
	s.Equal(workflow.RoleBuyer, pr.OwnerRole())
	s.Equal(client.EventExceptionApproved, s.lastEvent().EventType)
	s.Contains(s.lastEvent().Recipients, buyer1.UserID)

	// One exception per request.
	_, err = s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1300000")})
	s.assertCode(err, errors.ErrCodeInvalidTransition)

	pr, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusSupplierSelected})
	s.Require().NoError(err)
	s.assertConsistent(pr)
}

func (s *LifecycleSuite) TestBudgetExceptionRejected() {
	ctx := context.Background()
	pr := s.raise(s.millionRequest(), "1200000")

	_, err := s.exceptions.Reject(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager})
	s.assertCode(err, errors.ErrCodeValidation)
	s.assertUnchanged(pr)

	pr, err = s.exceptions.Reject(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager, Comment: "too expensive"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusBudgetRejected, pr.Status)
	s.True(pr.Status.IsTerminal())
	s.Equal(repository.ResolutionRejected, pr.BudgetException.Resolution)
	s.Equal("too expensive", *pr.BudgetException.Comment)

	ev := s.lastEvent()
	s.Equal(client.EventExceptionRejected, ev.EventType)
	s.ElementsMatch([]string{buyer1.UserID, requestor.UserID}, ev.Recipients)
	s.Contains(s.moves, [2]string{buyer1.UserID, ""})

	_, err = s.exceptions.Approve(ctx, ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager})
	s.assertCode(err, errors.ErrCodeInvalidTransition)

	sla, err := s.sla.GetSLAStatus(ctx, pr.ID)
	s.Require().NoError(err)
	s.Equal(workflow.SLACompleted, sla.Classification)
	s.assertConsistent(pr)
}

func (s *LifecycleSuite) TestRaiseExceptionPreconditions() {
	ctx := context.Background()
	pr := s.millionRequest()

	_, err := s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1000000")})
	s.assertCode(err, errors.ErrCodeValidation)

	_, err = s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("-5")})
	s.assertCode(err, errors.ErrCodeValidation)

	_, err = s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer2, QuotedAmount: dec("1200000")})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)

	submitted := s.submitted()
	_, err = s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: submitted.ID, Actor: buyer1, QuotedAmount: dec("99999")})
	s.assertCode(err, errors.ErrCodeInvalidTransition)
}

func (s *LifecycleSuite) TestResolveWithoutPendingException() {
	pr := s.assigned()

	_, err := s.exceptions.Approve(context.Background(), ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager})
	s.assertCode(err, errors.ErrCodeInvalidTransition)
}

func (s *LifecycleSuite) TestRetriedExceptionDecisionIsStale() {
	ctx := context.Background()
	pr := s.raise(s.millionRequest(), "1200000")

	cmd := ResolveExceptionCommand{PRID: pr.ID, Actor: branchManager, Comment: "approved at board"}
	pr, err := s.exceptions.Approve(ctx, cmd)
	s.Require().NoError(err)

	_, err = s.exceptions.Approve(ctx, cmd)
	s.assertCode(err, errors.ErrCodeStaleState)
	s.assertUnchanged(pr)
}

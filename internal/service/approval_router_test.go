package service

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

func (s *LifecycleSuite) TestApprovalChainReachesBuyer() {
	pr := s.assigned()

	s.Require().NotNil(pr.AssignedBuyerID)
	s.Equal(buyer1.UserID, *pr.AssignedBuyerID)
	s.Equal(workflow.RoleBuyer, pr.OwnerRole())
	s.assertConsistent(pr)

	var actions []workflow.Action
	for _, e := range pr.Timeline {
		actions = append(actions, e.Action)
	}
	s.Equal([]workflow.Action{
		workflow.ActionCreate, workflow.ActionSubmit, workflow.ActionRoute,
		workflow.ActionApprove, workflow.ActionApprove, workflow.ActionApprove,
	}, actions)

	ev := s.lastEvent()
	s.Equal(client.EventAssigned, ev.EventType)
	s.Contains(ev.Recipients, buyer1.UserID)
	s.Contains(ev.Recipients, requestor.UserID)
	s.Equal([][2]string{{"", buyer1.UserID}}, s.moves)
}

func (s *LifecycleSuite) TestApproveNotifiesNextApprover() {
	pr := s.submitted()

	pr, err := s.router.Approve(context.Background(), ApprovalCommand{PRID: pr.ID, Actor: manager, Comment: "ok"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusBranchManagerPending, pr.Status)

	ev := s.lastEvent()
	s.Equal(client.EventApprovalRequired, ev.EventType)
	s.Equal(string(workflow.RoleBranchManager), ev.RecipientRole)
	s.Equal([]string{"bm-1"}, ev.Recipients)
	s.True(ev.IsActionable)
}

func (s *LifecycleSuite) TestApproveRequiresOwningRole() {
	ctx := context.Background()
	pr := s.submitted()

	_, err := s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: branchManager})
	s.assertCode(err, errors.ErrCodeForbidden)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: otherManager})
	s.assertCode(err, errors.ErrCodeForbidden)

	// mgr-1 does not hold the branch manager role.
	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "mgr-1", Role: workflow.RoleBranchManager}})
	s.assertCode(err, errors.ErrCodeForbidden)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "ghost", Role: workflow.RoleManager}})
	s.assertCode(err, errors.ErrCodeForbidden)

	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestBranchManagerScopedToBranch() {
	ctx := context.Background()
	pr := s.submitted()
	pr, err := s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.Require().NoError(err)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "bm-2", Role: workflow.RoleBranchManager}})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestRejectAndReturnRequireComment() {
	ctx := context.Background()
	pr := s.submitted()

	_, err := s.router.Reject(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager, Comment: "  "})
	s.assertCode(err, errors.ErrCodeValidation)

	_, err = s.router.Return(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.assertCode(err, errors.ErrCodeValidation)

	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestRejectIsTerminal() {
	ctx := context.Background()
	pr := s.submitted()

	pr, err := s.router.Reject(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager, Comment: "not budgeted"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusManagerRejected, pr.Status)
	s.True(pr.Status.IsTerminal())
	s.Equal(workflow.RoleNone, pr.OwnerRole())
	s.Equal("not budgeted", *pr.LastEntry().Comment)
	s.Equal(client.EventRejected, s.lastEvent().EventType)
	s.Contains(s.lastEvent().Recipients, requestor.UserID)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.assertCode(err, errors.ErrCodeInvalidTransition)
	s.assertConsistent(pr)
}

func (s *LifecycleSuite) TestInvalidTransitionLeavesRequestUnchanged() {
	pr := s.draft()

	_, err := s.router.Approve(context.Background(), ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.assertCode(err, errors.ErrCodeInvalidTransition)

	var appErr *errors.Error
	s.Require().True(errors.As(err, &appErr))
	s.Equal(string(workflow.StatusDraft), appErr.Details["current_status"])
	s.Equal(string(workflow.ActionApprove), appErr.Details["action"])
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestReturnThenResubmit() {
	ctx := context.Background()
	pr := s.submitted()

	pr, err := s.router.Return(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager, Comment: "split the dock order"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusManagerReturned, pr.Status)
	s.Equal(workflow.RoleRequestor, pr.OwnerRole())
	s.Equal(client.EventReturned, s.lastEvent().EventType)
	s.Equal([]string{requestor.UserID}, s.lastEvent().Recipients)

	pr, err = s.requests.UpdateDraft(ctx, &UpdateDraftRequest{
		PRID:  pr.ID,
		Actor: requestor,
		Items: []repository.ItemInput{{Description: "Laptop", Quantity: dec("2"), UnitPrice: dec("500")}},
	})
	s.Require().NoError(err)
	s.True(dec("1100").Equal(pr.TotalAmount), pr.TotalAmount.String())

	pr, err = s.requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: requestor})
	s.Require().NoError(err)
	s.Equal(workflow.StatusManagerPending, pr.Status)
	s.assertConsistent(pr)
}

func (s *LifecycleSuite) TestBuyerLeaderAssignment() {
	ctx := context.Background()
	pr := s.submitted()
	pr, err := s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.Require().NoError(err)
	pr, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: branchManager})
	s.Require().NoError(err)
	s.Require().Equal(workflow.StatusBuyerLeaderPending, pr.Status)

	for _, assignee := range []string{"", "nobody", "buyer-3", "buyer-off", "mgr-1"} {
		_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: buyerLeader, AssigneeID: assignee})
		s.assertCode(err, errors.ErrCodeValidation)
	}
	s.assertUnchanged(pr)

	// The buyer leader may ask for more information but not reject.
	_, err = s.router.Reject(ctx, ApprovalCommand{PRID: pr.ID, Actor: buyerLeader, Comment: "no"})
	s.assertCode(err, errors.ErrCodeInvalidTransition)

	pr, err = s.router.Return(ctx, ApprovalCommand{PRID: pr.ID, Actor: buyerLeader, Comment: "which model?"})
	s.Require().NoError(err)
	s.Equal(workflow.StatusNeedMoreInfo, pr.Status)
	s.True(pr.Status.IsRecoverable())
}

func (s *LifecycleSuite) TestExpectedStatusMismatchIsStale() {
	ctx := context.Background()
	pr := s.submitted()

	_, err := s.router.Approve(ctx, ApprovalCommand{
		PRID: pr.ID, Actor: manager,
		Expected: Expectation{Status: workflow.StatusBranchManagerPending},
	})
	s.assertCode(err, errors.ErrCodeStaleState)

	_, err = s.router.Approve(ctx, ApprovalCommand{
		PRID: pr.ID, Actor: manager,
		Expected: Expectation{Version: pr.Version - 1},
	})
	s.assertCode(err, errors.ErrCodeStaleState)
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestConcurrentApprovesExactlyOneWins() {
	pr := s.submitted()
	snapshot := Expectation{Status: pr.Status, Version: pr.Version}

	const callers = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.router.Approve(context.Background(), ApprovalCommand{
				PRID: pr.ID, Actor: manager, Expected: snapshot,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.HasCode(err, errors.ErrCodeStaleState):
			stale++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(1, stale)

	stored, err := s.store.Get(context.Background(), pr.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StatusBranchManagerPending, stored.Status)
	s.Len(stored.Timeline, len(pr.Timeline)+1)
}

func (s *LifecycleSuite) TestRouterBlockedByPendingException() {
	ctx := context.Background()
	pr := s.inRFQ(s.assigned())
	pr, err := s.exceptions.Raise(ctx, RaiseExceptionCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("2000")})
	s.Require().NoError(err)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: branchManager})
	s.assertCode(err, errors.ErrCodeBlocked)
	_, err = s.router.Reject(ctx, ApprovalCommand{PRID: pr.ID, Actor: branchManager, Comment: "no"})
	s.assertCode(err, errors.ErrCodeBlocked)
	_, err = s.router.Return(ctx, ApprovalCommand{PRID: pr.ID, Actor: branchManager, Comment: "why"})
	s.assertCode(err, errors.ErrCodeBlocked)
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestRetriedActionsAreStale() {
	cases := []struct {
		name  string
		act   func(context.Context, ApprovalCommand) (*repository.PurchaseRequest, error)
		cmd   ApprovalCommand
		after workflow.Status
	}{
		{"approve", s.router.Approve, ApprovalCommand{Actor: manager}, workflow.StatusBranchManagerPending},
		{"reject", s.router.Reject, ApprovalCommand{Actor: manager, Comment: "not budgeted"}, workflow.StatusManagerRejected},
		{"return", s.router.Return, ApprovalCommand{Actor: manager, Comment: "add specs"}, workflow.StatusManagerReturned},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			pr := s.submitted()
			cmd := tc.cmd
			cmd.PRID = pr.ID

			pr, err := tc.act(context.Background(), cmd)
			s.Require().NoError(err)
			s.Equal(tc.after, pr.Status)

			_, err = tc.act(context.Background(), cmd)
			s.assertCode(err, errors.ErrCodeStaleState)

			var appErr *errors.Error
			s.Require().True(errors.As(err, &appErr))
			s.Equal(string(tc.after), appErr.Details["current_status"])
			s.assertUnchanged(pr)
			s.assertConsistent(pr)
		})
	}
}

func (s *LifecycleSuite) TestSecondApproverAfterCommitIsStale() {
	ctx := context.Background()
	pr := s.submitted()
	s.directory.Put(&repository.DirectoryUser{
		ID: "mgr-3", Roles: []workflow.Role{workflow.RoleManager}, Department: "IT", Branch: "HCM", Active: true,
	})

	pr, err := s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.Require().NoError(err)

	_, err = s.router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "mgr-3", Role: workflow.RoleManager}})
	s.assertCode(err, errors.ErrCodeStaleState)

	// A different action from the same role is still a plain refusal.
	_, err = s.router.Reject(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager, Comment: "late"})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestConcurrentApprovesWithoutExpectation() {
	pr := s.submitted()

	const callers = 4
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.router.Approve(context.Background(), ApprovalCommand{PRID: pr.ID, Actor: manager})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		s.assertCode(err, errors.ErrCodeStaleState)
	}
	s.Equal(1, ok)

	stored, err := s.store.Get(context.Background(), pr.ID)
	s.Require().NoError(err)
	s.Len(stored.Timeline, len(pr.Timeline)+1)
}

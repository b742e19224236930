package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

func (s *LifecycleSuite) TestCreateDraft() {
	pr := s.draft()

	s.Equal("PR-IT-00001", pr.Number)
	s.Equal("IT", pr.Department)
	s.Equal("HCM", pr.Branch)
	s.Equal("USD", pr.Currency)
	s.Equal(workflow.StatusDraft, pr.Status)
	s.Equal(int64(1), pr.Version)
	s.True(dec("1430").Equal(pr.TotalAmount), pr.TotalAmount.String())
	s.Require().Len(pr.Timeline, 1)
	s.Equal(workflow.ActionCreate, pr.Timeline[0].Action)

	second := s.draft()
	s.Equal("PR-IT-00002", second.Number)
}

func (s *LifecycleSuite) TestCreateDraftValidation() {
	ctx := context.Background()
	items := []repository.ItemInput{{Description: "Chair", Quantity: dec("1"), UnitPrice: dec("80")}}
	past := s.now.Add(-72 * time.Hour)

	cases := []struct {
		name string
		req  CreateDraftRequest
		code errors.Code
	}{
		{"bad currency", CreateDraftRequest{Actor: requestor, Type: repository.PRTypeCommercial, Currency: "US", Items: items}, errors.ErrCodeValidation},
		{"bad type", CreateDraftRequest{Actor: requestor, Type: "services", Currency: "USD", Items: items}, errors.ErrCodeValidation},
		{"tax above 100", CreateDraftRequest{Actor: requestor, Type: repository.PRTypeCommercial, Currency: "USD", TaxRate: dec("101"), Items: items}, errors.ErrCodeValidation},
		{"no items", CreateDraftRequest{Actor: requestor, Type: repository.PRTypeCommercial, Currency: "USD"}, errors.ErrCodeValidation},
		{"required date in past", CreateDraftRequest{Actor: requestor, Type: repository.PRTypeCommercial, Currency: "USD", RequiredDate: &past, Items: items}, errors.ErrCodeValidation},
		{"not a requestor", CreateDraftRequest{Actor: manager, Type: repository.PRTypeCommercial, Currency: "USD", Items: items}, errors.ErrCodeForbidden},
		{"anonymous", CreateDraftRequest{Actor: workflow.Actor{Role: workflow.RoleRequestor}, Type: repository.PRTypeCommercial, Currency: "USD", Items: items}, errors.ErrCodeUnauthorized},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := tc.req
			_, err := s.requests.CreateDraft(ctx, &req)
			s.assertCode(err, tc.code)
		})
	}

	_, total, err := s.requests.List(ctx, repository.ListFilter{})
	s.Require().NoError(err)
	s.Zero(total)
}

func (s *LifecycleSuite) TestSubmitRoutesToManager() {
	pr := s.submitted()

	s.Equal(workflow.StatusManagerPending, pr.Status)
	s.Require().Len(pr.Timeline, 3)
	s.Equal(workflow.StatusSubmitted, pr.Timeline[1].Status)
	s.Equal(workflow.ActionRoute, pr.Timeline[2].Action)
	s.Equal(workflow.RoleSystem, pr.Timeline[2].ActorRole)
	s.assertConsistent(pr)

	ev := s.lastEvent()
	s.Equal(client.EventSubmitted, ev.EventType)
	s.Equal(pr.ID, ev.ResourceID)
	s.Equal(pr.Number, ev.ResourceRef)
	s.Equal(string(workflow.RoleManager), ev.RecipientRole)
	s.Equal([]string{"mgr-1"}, ev.Recipients)
}

func (s *LifecycleSuite) TestSubmitOnlyByOwnRequestor() {
	ctx := context.Background()
	pr := s.draft()
	s.directory.Put(&repository.DirectoryUser{ID: "req-2", Roles: []workflow.Role{workflow.RoleRequestor}, Department: "IT", Branch: "HCM", Active: true})

	_, err := s.requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: workflow.Actor{UserID: "req-2", Role: workflow.RoleRequestor}})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)

	_, err = s.requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: requestor})
	s.Require().NoError(err)

	_, err = s.requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: requestor})
	s.assertCode(err, errors.ErrCodeInvalidTransition)
}

func (s *LifecycleSuite) TestUpdateDraftOnlyWhileEditable() {
	ctx := context.Background()
	pr := s.draft()
	purpose := "Replacement laptops"
	tax := dec("0")

	pr, err := s.requests.UpdateDraft(ctx, &UpdateDraftRequest{PRID: pr.ID, Actor: requestor, Purpose: &purpose, TaxRate: &tax})
	s.Require().NoError(err)
	s.Equal(purpose, pr.Purpose)
	s.True(dec("1300").Equal(pr.TotalAmount))
	s.Equal(int64(2), pr.Version)
	s.Len(pr.Timeline, 1)

	pr, err = s.requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: requestor})
	s.Require().NoError(err)

	_, err = s.requests.UpdateDraft(ctx, &UpdateDraftRequest{PRID: pr.ID, Actor: requestor, Purpose: &purpose})
	s.assertCode(err, errors.ErrCodeInvalidTransition)
}

func (s *LifecycleSuite) TestGetUnknownRequest() {
	_, err := s.requests.Get(context.Background(), "missing")
	s.assertCode(err, errors.ErrCodeNotFound)

	_, err = s.requests.Get(context.Background(), "")
	s.assertCode(err, errors.ErrCodeValidation)
}

func (s *LifecycleSuite) TestTimelineIsOrdered() {
	pr := s.assigned()

	timeline, err := s.requests.Timeline(context.Background(), pr.ID)
	s.Require().NoError(err)
	for i, e := range timeline {
		s.Equal(i+1, e.Sequence)
	}
	s.Equal(pr.Status, timeline[len(timeline)-1].Status)
}

func (s *LifecycleSuite) TestPendingFor() {
	ctx := context.Background()
	s.submitted()
	s.draft()

	prs, total, err := s.requests.PendingFor(ctx, manager, 1, 20)
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(workflow.StatusManagerPending, prs[0].Status)

	_, total, err = s.requests.PendingFor(ctx, otherManager, 1, 20)
	s.Require().NoError(err)
	s.Zero(total)

	_, total, err = s.requests.PendingFor(ctx, requestor, 1, 20)
	s.Require().NoError(err)
	s.Equal(1, total)
}

func (s *LifecycleSuite) TestAdvanceToPayment() {
	ctx := context.Background()
	pr := s.inRFQ(s.assigned())

	pr, raised, err := s.requests.RecordQuotation(ctx, QuotationCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1400")})
	s.Require().NoError(err)
	s.False(raised)
	s.Equal(workflow.StatusQuotationReceived, pr.Status)
	s.Contains(*pr.LastEntry().Comment, "1400.00 USD")

	pr, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusSupplierSelected})
	s.Require().NoError(err)
	pr, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusPaymentDone})
	s.Require().NoError(err)
	s.Equal(workflow.StatusPaymentDone, pr.Status)
	s.Equal(100.0, pr.Status.CompletionPercent())
	s.assertConsistent(pr)
	s.Contains(s.moves, [2]string{buyer1.UserID, ""})
}

func (s *LifecycleSuite) TestAdvanceRules() {
	ctx := context.Background()
	pr := s.assigned()

	_, err := s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusBudgetApproved})
	s.assertCode(err, errors.ErrCodeValidation)

	_, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusSupplierSelected})
	s.assertCode(err, errors.ErrCodeInvalidTransition)

	_, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer2, Target: workflow.StatusReadyForRFQ})
	s.assertCode(err, errors.ErrCodeForbidden)
	s.assertUnchanged(pr)

	pr, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusReadyForRFQ})
	s.Require().NoError(err)
	s.Equal(workflow.StatusReadyForRFQ, pr.Status)
}

func (s *LifecycleSuite) TestRecordQuotationOverBudgetRaisesException() {
	ctx := context.Background()
	pr := s.inRFQ(s.assigned())

	pr, raised, err := s.requests.RecordQuotation(ctx, QuotationCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1500")})
	s.Require().NoError(err)
	s.True(raised)
	s.Equal(workflow.StatusBudgetException, pr.Status)
	s.Require().NotNil(pr.BudgetException)
	s.True(dec("70").Equal(pr.BudgetException.Variance))
	s.Equal(client.EventBudgetException, s.lastEvent().EventType)

	_, _, err = s.requests.RecordQuotation(ctx, QuotationCommand{PRID: pr.ID, Actor: buyer1, QuotedAmount: dec("1500")})
	s.assertCode(err, errors.ErrCodeBlocked)
}

func (s *LifecycleSuite) TestOperationsWithoutOptionalCollaborators() {
	deps := Dependencies{Store: s.store, Identity: s.directory}
	requests := NewPurchaseRequestService(deps)
	router := NewApprovalRouter(deps)
	ctx := context.Background()

	pr := s.draft()
	pr, err := requests.Submit(ctx, SubmitCommand{PRID: pr.ID, Actor: requestor})
	s.Require().NoError(err)
	pr, err = router.Approve(ctx, ApprovalCommand{PRID: pr.ID, Actor: manager})
	s.Require().NoError(err)
	s.Equal(workflow.StatusBranchManagerPending, pr.Status)
}

func (s *LifecycleSuite) TestRetriedAdvanceIsStale() {
	ctx := context.Background()
	pr := s.assigned()

	cmd := AdvanceCommand{PRID: pr.ID, Actor: buyer1, Target: workflow.StatusReadyForRFQ}
	pr, err := s.requests.Advance(ctx, cmd)
	s.Require().NoError(err)

	_, err = s.requests.Advance(ctx, cmd)
	s.assertCode(err, errors.ErrCodeStaleState)
	s.assertUnchanged(pr)
}

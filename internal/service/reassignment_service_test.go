package service

import (
	"context"
	"errors"

	"go.uber.org/mock/gomock"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	apperrors "github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

func (s *LifecycleSuite) TestReassignWholeRequest() {
	ctx := context.Background()
	pr := s.assigned()
	cmd := ReassignCommand{
		PRID: pr.ID, Actor: buyerLeader,
		FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID, Reason: "annual leave",
	}

	pr, err := s.reassign.Reassign(ctx, cmd)
	s.Require().NoError(err)
	s.Equal(workflow.StatusAssignedToBuyer, pr.Status)
	s.Equal(buyer2.UserID, *pr.AssignedBuyerID)
	s.Require().Len(pr.Reassignments, 1)
	s.Equal("annual leave", pr.Reassignments[0].Reason)
	s.Equal(buyerLeader.UserID, pr.Reassignments[0].ActorID)

	last := pr.LastEntry()
	s.Equal(repository.EntryReassigned, last.Type)
	s.Equal(workflow.StatusAssignedToBuyer, last.FromStatus)
	s.Equal(workflow.StatusAssignedToBuyer, last.Status)
	s.assertConsistent(pr)

	ev := s.lastEvent()
	s.Equal(client.EventReassigned, ev.EventType)
	s.ElementsMatch([]string{buyer1.UserID, buyer2.UserID}, ev.Recipients)
	s.Contains(s.moves, [2]string{buyer1.UserID, buyer2.UserID})

	_, err = s.reassign.Reassign(ctx, cmd)
	s.Equal(apperrors.ErrCodeInvalidReassignment, apperrors.CodeOf(err))
	s.assertUnchanged(pr)
}

func (s *LifecycleSuite) TestReassignItems() {
	ctx := context.Background()
	pr := s.assigned()
	laptop, dock := pr.Items[0].ID, pr.Items[1].ID

	pr, err := s.reassign.Reassign(ctx, ReassignCommand{
		PRID: pr.ID, Actor: branchManager, FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID,
		Reason: "dock supplier handled by buyer-2", ItemIDs: []string{dock},
	})
	s.Require().NoError(err)
	s.Equal(buyer1.UserID, *pr.AssignedBuyerID)
	s.Equal(buyer2.UserID, *pr.ItemByID(dock).AssigneeID)
	s.Nil(pr.ItemByID(laptop).AssigneeID)
	s.Equal([]string{dock}, pr.Reassignments[0].ItemIDs)

	// buyer-2 now works the dock line and may act on the request.
	_, err = s.requests.Advance(ctx, AdvanceCommand{PRID: pr.ID, Actor: buyer2, Target: workflow.StatusReadyForRFQ})
	s.Require().NoError(err)

	pr, err = s.reassign.Reassign(ctx, ReassignCommand{
		PRID: pr.ID, Actor: buyerLeader, FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID,
		Reason: "consolidate", ItemIDs: []string{laptop},
	})
	s.Require().NoError(err)
	s.Equal(buyer2.UserID, *pr.AssignedBuyerID)
	for _, it := range pr.Items {
		s.Nil(it.AssigneeID)
	}
	s.Len(pr.Reassignments, 2)
	s.assertConsistent(pr)
}

func (s *LifecycleSuite) TestReassignPreconditions() {
	ctx := context.Background()
	pr := s.assigned()
	base := ReassignCommand{PRID: pr.ID, Actor: buyerLeader, FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID, Reason: "leave"}

	cases := []struct {
		name   string
		mutate func(*ReassignCommand)
		code   apperrors.Code
	}{
		{"blank reason", func(c *ReassignCommand) { c.Reason = " " }, apperrors.ErrCodeValidation},
		{"same buyer", func(c *ReassignCommand) { c.ToBuyerID = buyer1.UserID }, apperrors.ErrCodeInvalidReassignment},
		{"requestor acting", func(c *ReassignCommand) { c.Actor = requestor }, apperrors.ErrCodeForbidden},
		{"buyer acting", func(c *ReassignCommand) { c.Actor = buyer1 }, apperrors.ErrCodeForbidden},
		{"wrong current buyer", func(c *ReassignCommand) { c.FromBuyerID = "buyer-3" }, apperrors.ErrCodeInvalidReassignment},
		{"unknown target", func(c *ReassignCommand) { c.ToBuyerID = "nobody" }, apperrors.ErrCodeInvalidReassignment},
		{"target wrong category", func(c *ReassignCommand) { c.ToBuyerID = "buyer-3" }, apperrors.ErrCodeInvalidReassignment},
		{"inactive target", func(c *ReassignCommand) { c.ToBuyerID = "buyer-off" }, apperrors.ErrCodeInvalidReassignment},
		{"unknown item", func(c *ReassignCommand) { c.ItemIDs = []string{"nope"} }, apperrors.ErrCodeInvalidReassignment},
		{"other branch", func(c *ReassignCommand) {
			c.Actor = workflow.Actor{UserID: "bm-2", Role: workflow.RoleBranchManager}
		}, apperrors.ErrCodeForbidden},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			cmd := base
			tc.mutate(&cmd)
			_, err := s.reassign.Reassign(ctx, cmd)
			s.Equal(tc.code, apperrors.CodeOf(err), "%v", err)
		})
	}
	s.assertUnchanged(pr)

	pending := s.submitted()
	_, err := s.reassign.Reassign(ctx, ReassignCommand{
		PRID: pending.ID, Actor: buyerLeader, FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID, Reason: "leave",
	})
	s.Equal(apperrors.ErrCodeInvalidReassignment, apperrors.CodeOf(err))
}

func (s *LifecycleSuite) TestRecomputeWorkload() {
	ctx := context.Background()
	s.assigned()
	second := s.assigned()
	_, err := s.reassign.Reassign(ctx, ReassignCommand{
		PRID: second.ID, Actor: buyerLeader, FromBuyerID: buyer1.UserID, ToBuyerID: buyer2.UserID,
		Reason: "split", ItemIDs: []string{second.Items[0].ID},
	})
	s.Require().NoError(err)
	s.submitted()

	var replaced map[string]int64
	s.workload.EXPECT().Replace(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, counts map[string]int64) error {
			replaced = counts
			return nil
		})

	counts, err := s.reassign.RecomputeWorkload(ctx)
	s.Require().NoError(err)
	s.Equal(map[string]int64{buyer1.UserID: 2, buyer2.UserID: 1}, counts)
	s.Equal(counts, replaced)
}

func (s *LifecycleSuite) TestRecomputeWorkloadReplaceFailure() {
	s.assigned()
	s.workload.EXPECT().Replace(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	_, err := s.reassign.RecomputeWorkload(context.Background())
	s.Equal(apperrors.ErrCodeInternal, apperrors.CodeOf(err))
}

func (s *LifecycleSuite) TestBuyerWorkloadFromCounters() {
	ctx := context.Background()
	s.workload.EXPECT().Counts(gomock.Any()).
		Return(map[string]int64{buyer1.UserID: 2, "buyer-gone": 1, "buyer-idle": 0}, nil)

	loads, err := s.reassign.BuyerWorkload(ctx, buyerLeader)
	s.Require().NoError(err)
	s.Equal([]BuyerLoad{
		{BuyerID: "buyer-1", OpenRequests: 2},
		{BuyerID: "buyer-2", OpenRequests: 0},
		{BuyerID: "buyer-3", OpenRequests: 0},
		{BuyerID: "buyer-gone", OpenRequests: 1},
	}, loads)

	_, err = s.reassign.BuyerWorkload(ctx, buyer1)
	s.Equal(apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
}

func (s *LifecycleSuite) TestBuyerWorkloadWithoutCounters() {
	s.assigned()
	svc := NewReassignmentService(Dependencies{Store: s.store, Identity: s.directory})

	loads, err := svc.BuyerWorkload(context.Background(), branchManager)
	s.Require().NoError(err)
	s.Contains(loads, BuyerLoad{BuyerID: buyer1.UserID, OpenRequests: 1})
	s.Len(loads, 3)
}

func (s *LifecycleSuite) TestBuyerWorkloadCounterFailure() {
	s.workload.EXPECT().Counts(gomock.Any()).Return(nil, errors.New("redis down"))

	_, err := s.reassign.BuyerWorkload(context.Background(), buyerLeader)
	s.Equal(apperrors.ErrCodeInternal, apperrors.CodeOf(err))
}

package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

var (
	t0        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requestor = workflow.Actor{UserID: "req-1", Role: workflow.RoleRequestor}
	manager   = workflow.Actor{UserID: "mgr-1", Role: workflow.RoleManager}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newDraft(t *testing.T) *PurchaseRequest {
	t.Helper()
	items, err := BuildItems([]ItemInput{
		{Description: "Laptop", Quantity: d("2"), UnitPrice: d("500")},
		{Description: "Dock", Quantity: d("1"), UnitPrice: d("300")},
	})
	require.NoError(t, err)

	pr := &PurchaseRequest{
		ID:          "pr-1",
		Number:      FormatNumber("it", 1),
		Department:  "IT",
		Branch:      "HCM",
		Type:        PRTypeCommercial,
		Currency:    "USD",
		TaxRate:     d("10"),
		RequestorID: requestor.UserID,
		Items:       items,
	}
	pr.RecomputeTotal()
	pr.Start(requestor, t0)
	return pr
}

func TestRecomputeTotal(t *testing.T) {
	pr := newDraft(t)
	assert.True(t, d("1430").Equal(pr.TotalAmount), pr.TotalAmount.String())
	assert.True(t, d("1000").Equal(pr.Items[0].Amount))
	assert.True(t, d("300").Equal(pr.Items[1].Amount))

	pr.TaxRate = decimal.Zero
	pr.RecomputeTotal()
	assert.True(t, d("1300").Equal(pr.TotalAmount))
}

func TestRecomputeTotalRoundsOnlyTheTotal(t *testing.T) {
	pr := &PurchaseRequest{
		TaxRate: decimal.Zero,
		Items: []PRItem{
			{Quantity: d("3"), UnitPrice: d("0.335")},
			{Quantity: d("3"), UnitPrice: d("0.335")},
		},
	}
	pr.RecomputeTotal()

	assert.True(t, d("1.01").Equal(pr.Items[0].Amount), pr.Items[0].Amount.String())
	assert.True(t, d("2.01").Equal(pr.TotalAmount), pr.TotalAmount.String())
}

func TestBuildItemsValidation(t *testing.T) {
	_, err := BuildItems(nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = BuildItems([]ItemInput{{Description: "x", Quantity: d("0"), UnitPrice: d("1")}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = BuildItems([]ItemInput{{Description: "x", Quantity: d("1"), UnitPrice: d("-1")}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = BuildItems([]ItemInput{{Description: " ", Quantity: d("1"), UnitPrice: d("1")}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	items, err := BuildItems([]ItemInput{{Description: "Free sample", Quantity: d("3"), UnitPrice: decimal.Zero}})
	require.NoError(t, err)
	assert.Equal(t, 1, items[0].LineNumber)
}

func TestValidateTaxRate(t *testing.T) {
	assert.NoError(t, ValidateTaxRate(d("0")))
	assert.NoError(t, ValidateTaxRate(d("100")))
	assert.Error(t, ValidateTaxRate(d("100.01")))
	assert.Error(t, ValidateTaxRate(d("-1")))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "PR-IT-00042", FormatNumber("it", 42))
}

func TestTransitionAppendsOneEntry(t *testing.T) {
	pr := newDraft(t)
	require.NoError(t, pr.Transition(workflow.StatusSubmitted, workflow.ActionSubmit, requestor, "", t0.Add(time.Hour)))

	require.Len(t, pr.Timeline, 2)
	last := pr.LastEntry()
	assert.Equal(t, workflow.StatusSubmitted, pr.Status)
	assert.Equal(t, pr.Status, last.Status)
	assert.Equal(t, workflow.StatusDraft, last.FromStatus)
	assert.Equal(t, 2, last.Sequence)
	assert.Nil(t, last.Comment)
	assert.Equal(t, t0.Add(time.Hour), pr.StatusChangedAt)
}

func TestTransitionRejectsNonAdjacentMove(t *testing.T) {
	pr := newDraft(t)
	before := pr.Clone()

	err := pr.Transition(workflow.StatusPaymentDone, workflow.ActionAdvance, requestor, "", t0)
	require.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition))
	assert.Equal(t, before, pr)
}

func TestReplayStatus(t *testing.T) {
	pr := newDraft(t)
	require.NoError(t, pr.Transition(workflow.StatusSubmitted, workflow.ActionSubmit, requestor, "", t0))
	require.NoError(t, pr.Transition(workflow.StatusManagerPending, workflow.ActionRoute, workflow.SystemActor, "", t0))
	require.NoError(t, pr.Transition(workflow.StatusManagerReturned, workflow.ActionReturn, manager, "need quotes", t0))
	require.NoError(t, pr.Transition(workflow.StatusSubmitted, workflow.ActionSubmit, requestor, "", t0))

	got, err := ReplayStatus(pr.Timeline)
	require.NoError(t, err)
	assert.Equal(t, pr.Status, got)

	again, err := ReplayStatus(pr.Timeline)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestReplayStatusDetectsCorruption(t *testing.T) {
	pr := newDraft(t)
	require.NoError(t, pr.Transition(workflow.StatusSubmitted, workflow.ActionSubmit, requestor, "", t0))
	pr.Timeline[1].Status = workflow.StatusPaymentDone

	_, err := ReplayStatus(pr.Timeline)
	assert.Error(t, err)

	_, err = ReplayStatus(nil)
	assert.Error(t, err)
}

func TestRecordReassignmentKeepsStatus(t *testing.T) {
	pr := newDraft(t)
	pr.RecordReassignment(ReassignmentRecord{
		ID: "r-1", FromBuyerID: "b-1", ToBuyerID: "b-2", Reason: "leave", ActorID: "lead-1", Timestamp: t0,
	}, workflow.Actor{UserID: "lead-1", Role: workflow.RoleBuyerLeader})

	last := pr.LastEntry()
	assert.Equal(t, EntryReassigned, last.Type)
	assert.Equal(t, workflow.StatusDraft, last.Status)
	assert.Equal(t, workflow.StatusDraft, pr.Status)
	assert.Len(t, pr.Reassignments, 1)

	got, err := ReplayStatus(pr.Timeline)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDraft, got)
}

func TestCloneIsDeep(t *testing.T) {
	pr := newDraft(t)
	buyer := "b-1"
	pr.AssignedBuyerID = &buyer
	pr.Items[0].AssigneeID = &buyer
	pr.BudgetException = &BudgetException{Resolution: ResolutionPending}

	c := pr.Clone()
	*c.AssignedBuyerID = "b-2"
	*c.Items[0].AssigneeID = "b-2"
	c.Timeline[0].ActorID = "someone"
	c.BudgetException.Resolution = ResolutionApproved

	assert.Equal(t, "b-1", *pr.AssignedBuyerID)
	assert.Equal(t, "b-1", *pr.Items[0].AssigneeID)
	assert.Equal(t, requestor.UserID, pr.Timeline[0].ActorID)
	assert.Equal(t, ResolutionPending, pr.BudgetException.Resolution)
}

func TestListFilterOwnerRole(t *testing.T) {
	f := ListFilter{OwnerRole: workflow.RoleRequestor}.Normalize()
	assert.ElementsMatch(t, []workflow.Status{
		workflow.StatusDraft,
		workflow.StatusManagerReturned,
		workflow.StatusBranchManagerReturned,
		workflow.StatusNeedMoreInfo,
	}, f.Statuses)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 50, f.PageSize)

	none := ListFilter{OwnerRole: workflow.RoleManager, Statuses: []workflow.Status{workflow.StatusDraft}}.Normalize()
	assert.False(t, none.Matches(newDraft(t)))
}

func TestEffectiveAssignee(t *testing.T) {
	pr := newDraft(t)
	assert.Equal(t, "", pr.EffectiveAssignee(pr.Items[0]))

	b1, b2 := "b-1", "b-2"
	pr.AssignedBuyerID = &b1
	pr.Items[1].AssigneeID = &b2
	assert.Equal(t, "b-1", pr.EffectiveAssignee(pr.Items[0]))
	assert.Equal(t, "b-2", pr.EffectiveAssignee(pr.Items[1]))
}

func TestDirectoryUserCanBuy(t *testing.T) {
	u := &DirectoryUser{ID: "b-1", Roles: []workflow.Role{workflow.RoleBuyer}, BuyerCategories: []string{"commercial"}, Active: true}
	assert.True(t, u.CanBuy(PRTypeCommercial))
	assert.False(t, u.CanBuy(PRTypeProduction))

	u.Active = false
	assert.False(t, u.CanBuy(PRTypeCommercial))
}

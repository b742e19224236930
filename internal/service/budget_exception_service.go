package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// RaiseExceptionCommand raises a budget exception for an over-budget quote.
type RaiseExceptionCommand struct {
	PRID         string
	Actor        workflow.Actor
	QuotedAmount decimal.Decimal
	Comment      string
	Expected     Expectation
}

// ResolveExceptionCommand approves or rejects a pending budget exception.
type ResolveExceptionCommand struct {
	PRID     string
	Actor    workflow.Actor
	Comment  string
	Expected Expectation
}

// BudgetExceptionService runs the budget exception sub-flow. While an exception
// is pending the approval chain is frozen and only the branch manager may act.
type BudgetExceptionService struct {
	*engine
}

// NewBudgetExceptionService creates a new BudgetExceptionService.
func NewBudgetExceptionService(d Dependencies) *BudgetExceptionService {
	return &BudgetExceptionService{engine: newEngine(d)}
}

// Raise records a quotation above the requested total and hands the request to
// the branch manager. A request carries at most one exception.
func (s *BudgetExceptionService) Raise(ctx context.Context, cmd RaiseExceptionCommand) (pr *repository.PurchaseRequest, err error) {
	action := workflow.ActionRaiseException
	ctx, finish := s.begin(ctx, string(action), cmd.PRID)
	defer func() { finish(err) }()

	if !cmd.QuotedAmount.IsPositive() {
		return nil, errors.InvalidInput("quoted_amount", "quoted amount must be greater than zero")
	}
	if _, err := s.authenticate(ctx, cmd.Actor); err != nil {
		return nil, err
	}
	snapshot, err := s.load(ctx, cmd.PRID)
	if err != nil {
		return nil, err
	}
	if err := blocked(snapshot, action); err != nil {
		return nil, err
	}
	if err := cmd.Expected.check(snapshot, action); err != nil {
		return nil, err
	}
	if snapshot.BudgetException != nil {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(action)).
			WithDetail("resolution", string(snapshot.BudgetException.Resolution))
	}
	if !snapshot.Status.IsBuyerOwned() || !workflow.CanTransition(snapshot.Status, workflow.StatusBudgetException) {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(action))
	}
	if err := requireBuyer(snapshot, cmd.Actor); err != nil {
		return nil, err
	}
	if !cmd.QuotedAmount.GreaterThan(snapshot.TotalAmount) {
		return nil, errors.InvalidInput("quoted_amount", "quoted amount does not exceed the requested total").
			WithDetail("requested_amount", snapshot.TotalAmount.StringFixed(2)).
			WithDetail("quoted_amount", cmd.QuotedAmount.StringFixed(2))
	}

	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, action); err != nil {
			return err
		}
		return openException(p, cmd.QuotedAmount, cmd.Actor, cmd.Comment, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.committed(pr, action, cmd.Actor)
	s.Log.Warn().
		Str("pr_id", pr.ID).
		Str("requested_amount", pr.BudgetException.RequestedAmount.StringFixed(2)).
		Str("quoted_amount", pr.BudgetException.QuotedAmount.StringFixed(2)).
		Msg("Budget exception raised")
	s.notify(ctx, pr, client.EventBudgetException, cmd.Actor)
	return pr, nil
}

// Approve accepts the higher quote; the buyer chain resumes from BUDGET_APPROVED.
func (s *BudgetExceptionService) Approve(ctx context.Context, cmd ResolveExceptionCommand) (*repository.PurchaseRequest, error) {
	return s.resolve(ctx, workflow.ActionApproveException, cmd)
}

// Reject ends the request at BUDGET_REJECTED. A comment is required.
func (s *BudgetExceptionService) Reject(ctx context.Context, cmd ResolveExceptionCommand) (*repository.PurchaseRequest, error) {
	return s.resolve(ctx, workflow.ActionRejectException, cmd)
}

func (s *BudgetExceptionService) resolve(ctx context.Context, action workflow.Action, cmd ResolveExceptionCommand) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := s.begin(ctx, string(action), cmd.PRID)
	defer func() { finish(err) }()

	target, resolution := workflow.StatusBudgetApproved, repository.ResolutionApproved
	if action == workflow.ActionRejectException {
		target, resolution = workflow.StatusBudgetRejected, repository.ResolutionRejected
		if strings.TrimSpace(cmd.Comment) == "" {
			return nil, errors.InvalidInput("comment", "a comment is required to reject a budget exception")
		}
	}

	user, err := s.authenticate(ctx, cmd.Actor)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.load(ctx, cmd.PRID)
	if err != nil {
		return nil, err
	}
	if err := cmd.Expected.check(snapshot, action); err != nil {
		return nil, err
	}
	if snapshot.Status != workflow.StatusBudgetException || !snapshot.HasPendingException() {
		if replayed(snapshot, cmd.Actor, action) {
			return nil, stale(snapshot, action)
		}
		return nil, errors.InvalidTransition(string(snapshot.Status), string(action))
	}
	if cmd.Actor.Role != workflow.RoleBranchManager {
		return nil, errors.Forbidden("only a branch manager may decide a budget exception").
			WithDetail("acting_role", string(cmd.Actor.Role))
	}
	if err := authorizeScope(user, cmd.Actor.Role, snapshot); err != nil {
		return nil, err
	}

	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, action); err != nil {
			return err
		}
		now := s.now()
		if err := p.Transition(target, action, cmd.Actor, cmd.Comment, now); err != nil {
			return err
		}
		be := p.BudgetException
		resolvedBy := cmd.Actor.UserID
		be.Resolution = resolution
		be.ResolvedBy = &resolvedBy
		be.ResolvedAt = &now
		if c := strings.TrimSpace(cmd.Comment); c != "" {
			be.Comment = &c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(pr, action, cmd.Actor)
	if resolution == repository.ResolutionApproved {
		s.notify(ctx, pr, client.EventExceptionApproved, cmd.Actor, assignees(pr)...)
		return pr, nil
	}
	for _, buyer := range assignees(pr) {
		s.moveWorkload(ctx, buyer, "")
	}
	s.notify(ctx, pr, client.EventExceptionRejected, cmd.Actor, append(assignees(pr), pr.RequestorID)...)
	return pr, nil
}

// openException attaches a pending exception to p and moves it to
// BUDGET_EXCEPTION. It runs inside Store.Update.
func openException(p *repository.PurchaseRequest, quoted decimal.Decimal, actor workflow.Actor, comment string, at time.Time) error {
	if p.BudgetException != nil {
		return errors.InvalidTransition(string(p.Status), string(workflow.ActionRaiseException))
	}
	if err := p.Transition(workflow.StatusBudgetException, workflow.ActionRaiseException, actor, comment, at); err != nil {
		return err
	}
	be := &repository.BudgetException{
		RequestedAmount: p.TotalAmount,
		QuotedAmount:    quoted,
		Variance:        quoted.Sub(p.TotalAmount),
		Resolution:      repository.ResolutionPending,
		RaisedBy:        actor.UserID,
		RaisedAt:        at,
	}
	if c := strings.TrimSpace(comment); c != "" {
		be.Comment = &c
	}
	p.BudgetException = be
	return nil
}

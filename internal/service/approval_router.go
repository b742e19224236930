package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// ApprovalCommand is the input of approve, reject and return.
type ApprovalCommand struct {
	PRID     string
	Actor    workflow.Actor
	Comment  string
	Expected Expectation

	// AssigneeID is the buyer the buyer leader hands the request to. Required
	// when approving at the buyer leader stage, ignored otherwise.
	AssigneeID string
}

// ApprovalRouter moves a purchase request along the approval chain:
// requestor, manager, branch manager, buyer leader, buyer.
type ApprovalRouter struct {
	*engine
}

// NewApprovalRouter creates a new ApprovalRouter.
func NewApprovalRouter(d Dependencies) *ApprovalRouter {
	return &ApprovalRouter{engine: newEngine(d)}
}

// Approve advances a pending request to the next approver, or to the assigned
// buyer at the buyer leader stage.
func (r *ApprovalRouter) Approve(ctx context.Context, cmd ApprovalCommand) (*repository.PurchaseRequest, error) {
	return r.route(ctx, workflow.ActionApprove, cmd)
}

// Reject ends the request at the current approval stage. A comment is required.
func (r *ApprovalRouter) Reject(ctx context.Context, cmd ApprovalCommand) (*repository.PurchaseRequest, error) {
	return r.route(ctx, workflow.ActionReject, cmd)
}

// Return sends the request back to the requestor for changes. A comment is required.
func (r *ApprovalRouter) Return(ctx context.Context, cmd ApprovalCommand) (*repository.PurchaseRequest, error) {
	return r.route(ctx, workflow.ActionReturn, cmd)
}

func (r *ApprovalRouter) route(ctx context.Context, action workflow.Action, cmd ApprovalCommand) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := r.begin(ctx, string(action), cmd.PRID)
	defer func() { finish(err) }()

	if strings.TrimSpace(cmd.PRID) == "" {
		return nil, errors.InvalidInput("pr_id", "purchase request id is required")
	}
	if action != workflow.ActionApprove && strings.TrimSpace(cmd.Comment) == "" {
		return nil, errors.InvalidInput("comment", "a comment is required to "+string(action)+" a purchase request")
	}

	user, err := r.authenticate(ctx, cmd.Actor)
	if err != nil {
		return nil, err
	}

	snapshot, err := r.load(ctx, cmd.PRID)
	if err != nil {
		return nil, err
	}
	if err := blocked(snapshot, action); err != nil {
		return nil, err
	}
	if err := cmd.Expected.check(snapshot, action); err != nil {
		return nil, err
	}

	target, ok := workflow.RouterTarget(snapshot.Status, action)
	owner := snapshot.OwnerRole()
	if (!ok || cmd.Actor.Role != owner) && replayed(snapshot, cmd.Actor, action) {
		return nil, stale(snapshot, action)
	}
	if !ok {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(action))
	}

	if cmd.Actor.Role != owner {
		return nil, errors.Forbidden("acting role does not own the current status").
			WithDetail("current_status", string(snapshot.Status)).
			WithDetail("owner_role", string(owner)).
			WithDetail("acting_role", string(cmd.Actor.Role))
	}
	if err := authorizeScope(user, cmd.Actor.Role, snapshot); err != nil {
		return nil, err
	}

	var assignee string
	if action == workflow.ActionApprove && target == workflow.StatusAssignedToBuyer {
		if assignee, err = r.eligibleBuyer(ctx, snapshot, cmd.AssigneeID); err != nil {
			return nil, err
		}
	}

	pr, err = r.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, action); err != nil {
			return err
		}
		if err := p.Transition(target, action, cmd.Actor, cmd.Comment, r.now()); err != nil {
			return err
		}
		if assignee != "" {
			p.AssignedBuyerID = &assignee
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.committed(pr, action, cmd.Actor)
	switch {
	case assignee != "":
		r.moveWorkload(ctx, "", assignee)
		r.notify(ctx, pr, client.EventAssigned, cmd.Actor, pr.RequestorID)
	case action == workflow.ActionApprove:
		r.notify(ctx, pr, client.EventApprovalRequired, cmd.Actor)
	case action == workflow.ActionReject:
		r.notify(ctx, pr, client.EventRejected, cmd.Actor, pr.RequestorID)
	default:
		r.notify(ctx, pr, client.EventReturned, cmd.Actor)
	}
	return pr, nil
}

// eligibleBuyer validates the buyer chosen at the buyer leader stage.
func (r *ApprovalRouter) eligibleBuyer(ctx context.Context, pr *repository.PurchaseRequest, buyerID string) (string, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return "", errors.InvalidInput("assignee_id", "a buyer must be assigned when the buyer leader approves")
	}
	buyer, err := r.Identity.ResolveUser(ctx, buyerID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return "", errors.InvalidInput("assignee_id", "assigned buyer does not exist")
		}
		return "", errors.Wrap(err, errors.ErrCodeInternal, "resolve assigned buyer")
	}
	if !buyer.CanBuy(pr.Type) {
		return "", errors.InvalidInput("assignee_id", "user is not an active buyer for "+string(pr.Type)+" requests")
	}
	return buyer.ID, nil
}

package handler

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/auth"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/service"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// Services bundles the lifecycle services exposed by the transports.
type Services struct {
	Requests      *service.PurchaseRequestService
	Router        *service.ApprovalRouter
	Exceptions    *service.BudgetExceptionService
	Reassignments *service.ReassignmentService
	SLA           *service.SLAService
}

// call is one transport-neutral invocation. decode fills a body struct from
// whatever payload the transport received.
type call struct {
	Actor  workflow.Actor
	PRID   string
	decode func(v any) error
}

type operation func(ctx context.Context, c call) (any, error)

// actorFrom reads the authenticated caller placed in ctx by the auth layer.
func actorFrom(ctx context.Context) (workflow.Actor, error) {
	uc, err := auth.GetUserContext(ctx)
	if err != nil {
		return workflow.Actor{}, err
	}
	role, ok := workflow.ParseRole(uc.Role)
	if !ok {
		return workflow.Actor{}, errors.Forbidden("unknown role").WithDetail("role", uc.Role)
	}
	return workflow.Actor{UserID: uc.UserID, Role: role}, nil
}

// expectation is embedded by every mutating body.
type expectation struct {
	ExpectedStatus  string `json:"expected_status,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

func (e expectation) parse() (service.Expectation, error) {
	x := service.Expectation{Version: e.ExpectedVersion}
	if e.ExpectedStatus == "" {
		return x, nil
	}
	st, err := workflow.ParseStatus(e.ExpectedStatus)
	if err != nil {
		return x, errors.InvalidInput("expected_status", err.Error())
	}
	x.Status = st
	return x, nil
}

type createDraftBody struct {
	Department   string                 `json:"department"`
	Branch       string                 `json:"branch"`
	Type         repository.PRType      `json:"type"`
	Currency     string                 `json:"currency"`
	TaxRate      decimal.Decimal        `json:"tax_rate"`
	RequiredDate *time.Time             `json:"required_date"`
	Purpose      string                 `json:"purpose"`
	Notes        *string                `json:"notes"`
	Items        []repository.ItemInput `json:"items"`
}

type updateDraftBody struct {
	expectation
	Branch       *string                `json:"branch"`
	Type         *repository.PRType     `json:"type"`
	Currency     *string                `json:"currency"`
	TaxRate      *decimal.Decimal       `json:"tax_rate"`
	RequiredDate *time.Time             `json:"required_date"`
	Purpose      *string                `json:"purpose"`
	Notes        *string                `json:"notes"`
	Items        []repository.ItemInput `json:"items"`
}

type transitionBody struct {
	expectation
	Comment    string `json:"comment"`
	AssigneeID string `json:"assignee_id"`
}

type advanceBody struct {
	expectation
	Target  string `json:"target"`
	Comment string `json:"comment"`
}

type quotationBody struct {
	expectation
	QuotedAmount decimal.Decimal `json:"quoted_amount"`
	Comment      string          `json:"comment"`
}

type reassignBody struct {
	expectation
	FromBuyerID string   `json:"from_buyer_id"`
	ToBuyerID   string   `json:"to_buyer_id"`
	Reason      string   `json:"reason"`
	ItemIDs     []string `json:"item_ids"`
}

type listBody struct {
	Statuses    []string `json:"statuses"`
	OwnerRole   string   `json:"owner_role"`
	Department  string   `json:"department"`
	Branch      string   `json:"branch"`
	RequestorID string   `json:"requestor_id"`
	AssigneeID  string   `json:"assignee_id"`
	Page        int      `json:"page"`
	PageSize    int      `json:"page_size"`
}

func (b listBody) filter() (repository.ListFilter, error) {
	f := repository.ListFilter{
		Department:  b.Department,
		Branch:      b.Branch,
		RequestorID: b.RequestorID,
		AssigneeID:  b.AssigneeID,
		Page:        b.Page,
		PageSize:    b.PageSize,
	}
	for _, raw := range b.Statuses {
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			st, err := workflow.ParseStatus(name)
			if err != nil {
				return f, errors.InvalidInput("status", err.Error())
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if b.OwnerRole != "" {
		role, ok := workflow.ParseRole(b.OwnerRole)
		if !ok {
			return f, errors.InvalidInput("owner_role", "unknown role")
		}
		f.OwnerRole = role
	}
	return f, nil
}

type listResponse struct {
	PurchaseRequests []*repository.PurchaseRequest `json:"purchase_requests"`
	Total            int                           `json:"total"`
	Page             int                           `json:"page"`
	PageSize         int                           `json:"page_size"`
}

type quotationResponse struct {
	PurchaseRequest       *repository.PurchaseRequest `json:"purchase_request"`
	BudgetExceptionRaised bool                        `json:"budget_exception_raised"`
}

type timelineResponse struct {
	PRID     string                     `json:"pr_id"`
	Timeline []repository.TimelineEntry `json:"timeline"`
}

type statusView struct {
	Status            workflow.Status   `json:"status"`
	Label             string            `json:"label"`
	OwnerRole         workflow.Role     `json:"owner_role"`
	Stage             int               `json:"stage"`
	Kind              workflow.Kind     `json:"kind"`
	Color             string            `json:"color"`
	CompletionPercent float64           `json:"completion_percent"`
	Next              []workflow.Status `json:"next"`
}

// operations adapts decoded bodies to service calls. Both transports share it.
type operations struct {
	svc Services
}

func (o *operations) createDraft(ctx context.Context, c call) (any, error) {
	var b createDraftBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	return o.svc.Requests.CreateDraft(ctx, &service.CreateDraftRequest{
		Actor:        c.Actor,
		Department:   b.Department,
		Branch:       b.Branch,
		Type:         b.Type,
		Currency:     b.Currency,
		TaxRate:      b.TaxRate,
		RequiredDate: b.RequiredDate,
		Purpose:      b.Purpose,
		Notes:        b.Notes,
		Items:        b.Items,
	})
}

func (o *operations) updateDraft(ctx context.Context, c call) (any, error) {
	var b updateDraftBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	return o.svc.Requests.UpdateDraft(ctx, &service.UpdateDraftRequest{
		PRID:         c.PRID,
		Actor:        c.Actor,
		Expected:     x,
		Branch:       b.Branch,
		Type:         b.Type,
		Currency:     b.Currency,
		TaxRate:      b.TaxRate,
		RequiredDate: b.RequiredDate,
		Purpose:      b.Purpose,
		Notes:        b.Notes,
		Items:        b.Items,
	})
}

func (o *operations) get(ctx context.Context, c call) (any, error) {
	return o.svc.Requests.Get(ctx, c.PRID)
}

func (o *operations) timeline(ctx context.Context, c call) (any, error) {
	entries, err := o.svc.Requests.Timeline(ctx, c.PRID)
	if err != nil {
		return nil, err
	}
	return timelineResponse{PRID: c.PRID, Timeline: entries}, nil
}

func (o *operations) list(ctx context.Context, c call) (any, error) {
	var b listBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	f, err := b.filter()
	if err != nil {
		return nil, err
	}
	f = f.Normalize()
	prs, total, err := o.svc.Requests.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return listResponse{PurchaseRequests: prs, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (o *operations) pending(ctx context.Context, c call) (any, error) {
	var b listBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	prs, total, err := o.svc.Requests.PendingFor(ctx, c.Actor, b.Page, b.PageSize)
	if err != nil {
		return nil, err
	}
	f := repository.ListFilter{Page: b.Page, PageSize: b.PageSize}.Normalize()
	return listResponse{PurchaseRequests: prs, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (o *operations) submit(ctx context.Context, c call) (any, error) {
	var b transitionBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	return o.svc.Requests.Submit(ctx, service.SubmitCommand{PRID: c.PRID, Actor: c.Actor, Comment: b.Comment, Expected: x})
}

func (o *operations) routed(fn func(context.Context, service.ApprovalCommand) (*repository.PurchaseRequest, error)) operation {
	return func(ctx context.Context, c call) (any, error) {
		var b transitionBody
		if err := c.decode(&b); err != nil {
			return nil, err
		}
		x, err := b.parse()
		if err != nil {
			return nil, err
		}
		return fn(ctx, service.ApprovalCommand{
			PRID:       c.PRID,
			Actor:      c.Actor,
			Comment:    b.Comment,
			Expected:   x,
			AssigneeID: b.AssigneeID,
		})
	}
}

func (o *operations) advance(ctx context.Context, c call) (any, error) {
	var b advanceBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	target, err := workflow.ParseStatus(b.Target)
	if err != nil {
		return nil, errors.InvalidInput("target", err.Error())
	}
	return o.svc.Requests.Advance(ctx, service.AdvanceCommand{
		PRID: c.PRID, Actor: c.Actor, Target: target, Comment: b.Comment, Expected: x,
	})
}

func (o *operations) recordQuotation(ctx context.Context, c call) (any, error) {
	var b quotationBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	pr, raised, err := o.svc.Requests.RecordQuotation(ctx, service.QuotationCommand{
		PRID: c.PRID, Actor: c.Actor, QuotedAmount: b.QuotedAmount, Comment: b.Comment, Expected: x,
	})
	if err != nil {
		return nil, err
	}
	return quotationResponse{PurchaseRequest: pr, BudgetExceptionRaised: raised}, nil
}

func (o *operations) raiseException(ctx context.Context, c call) (any, error) {
	var b quotationBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	return o.svc.Exceptions.Raise(ctx, service.RaiseExceptionCommand{
		PRID: c.PRID, Actor: c.Actor, QuotedAmount: b.QuotedAmount, Comment: b.Comment, Expected: x,
	})
}

func (o *operations) resolved(fn func(context.Context, service.ResolveExceptionCommand) (*repository.PurchaseRequest, error)) operation {
	return func(ctx context.Context, c call) (any, error) {
		var b transitionBody
		if err := c.decode(&b); err != nil {
			return nil, err
		}
		x, err := b.parse()
		if err != nil {
			return nil, err
		}
		return fn(ctx, service.ResolveExceptionCommand{PRID: c.PRID, Actor: c.Actor, Comment: b.Comment, Expected: x})
	}
}

func (o *operations) reassign(ctx context.Context, c call) (any, error) {
	var b reassignBody
	if err := c.decode(&b); err != nil {
		return nil, err
	}
	x, err := b.parse()
	if err != nil {
		return nil, err
	}
	return o.svc.Reassignments.Reassign(ctx, service.ReassignCommand{
		PRID:        c.PRID,
		Actor:       c.Actor,
		FromBuyerID: b.FromBuyerID,
		ToBuyerID:   b.ToBuyerID,
		Reason:      b.Reason,
		ItemIDs:     b.ItemIDs,
		Expected:    x,
	})
}

func (o *operations) sla(ctx context.Context, c call) (any, error) {
	return o.svc.SLA.GetSLAStatus(ctx, c.PRID)
}

func (o *operations) buyerWorkload(ctx context.Context, c call) (any, error) {
	loads, err := o.svc.Reassignments.BuyerWorkload(ctx, c.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]any{"buyers": loads}, nil
}

func (o *operations) statuses(context.Context, call) (any, error) {
	all := workflow.All()
	out := make([]statusView, 0, len(all))
	for _, s := range all {
		md, _ := workflow.Describe(s)
		out = append(out, statusView{
			Status:            s,
			Label:             md.Label,
			OwnerRole:         md.Owner,
			Stage:             md.Stage,
			Kind:              md.Kind,
			Color:             md.Color,
			CompletionPercent: s.CompletionPercent(),
			Next:              workflow.AllowedTransitions(s),
		})
	}
	return map[string]any{"statuses": out}, nil
}

// table maps RPC method names to operations.
func (o *operations) table() map[string]operation {
	return map[string]operation{
		"CreateDraft":             o.createDraft,
		"UpdateDraft":             o.updateDraft,
		"GetPurchaseRequest":      o.get,
		"GetTimeline":             o.timeline,
		"ListPurchaseRequests":    o.list,
		"ListPending":             o.pending,
		"Submit":                  o.submit,
		"Approve":                 o.routed(o.svc.Router.Approve),
		"Reject":                  o.routed(o.svc.Router.Reject),
		"Return":                  o.routed(o.svc.Router.Return),
		"Advance":                 o.advance,
		"RecordQuotation":         o.recordQuotation,
		"RaiseBudgetException":    o.raiseException,
		"ApproveBudgetException":  o.resolved(o.svc.Exceptions.Approve),
		"RejectBudgetException":   o.resolved(o.svc.Exceptions.Reject),
		"Reassign":                o.reassign,
		"GetBuyerWorkload":        o.buyerWorkload,
		"GetSLAStatus":            o.sla,
		"ListStatuses":            o.statuses,
	}
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// PurchaseRequestService handles the requestor and buyer sides of the
// lifecycle: drafting, submission, buyer progress and reads.
type PurchaseRequestService struct {
	*engine
}

// NewPurchaseRequestService creates a new PurchaseRequestService.
func NewPurchaseRequestService(d Dependencies) *PurchaseRequestService {
	return &PurchaseRequestService{engine: newEngine(d)}
}

// CreateDraftRequest represents a create purchase request request
type CreateDraftRequest struct {
	Actor        workflow.Actor
	Department   string
	Branch       string
	Type         repository.PRType
	Currency     string
	TaxRate      decimal.Decimal
	RequiredDate *time.Time
	Purpose      string
	Notes        *string
	Items        []repository.ItemInput
}

// UpdateDraftRequest carries the fields a requestor may change while the
// request is editable. Nil fields are left unchanged; nil Items keeps the lines.
type UpdateDraftRequest struct {
	PRID         string
	Actor        workflow.Actor
	Expected     Expectation
	Branch       *string
	Type         *repository.PRType
	Currency     *string
	TaxRate      *decimal.Decimal
	RequiredDate *time.Time
	Purpose      *string
	Notes        *string
	Items        []repository.ItemInput
}

// SubmitCommand submits a draft or resubmits a returned request.
type SubmitCommand struct {
	PRID     string
	Actor    workflow.Actor
	Comment  string
	Expected Expectation
}

// AdvanceCommand moves a request along the buyer chain.
type AdvanceCommand struct {
	PRID     string
	Actor    workflow.Actor
	Target   workflow.Status
	Comment  string
	Expected Expectation
}

// QuotationCommand records the supplier quotation received for a request.
type QuotationCommand struct {
	PRID         string
	Actor        workflow.Actor
	QuotedAmount decimal.Decimal
	Comment      string
	Expected     Expectation
}

// buyerChain lists the statuses a buyer may move a request into with Advance.
var buyerChain = map[workflow.Status]bool{
	workflow.StatusReadyForRFQ:       true,
	workflow.StatusRFQInProgress:     true,
	workflow.StatusQuotationReceived: true,
	workflow.StatusSupplierSelected:  true,
	workflow.StatusPaymentDone:       true,
}

// ── Drafting ──────────────────────────────────────────────────────────────────

// CreateDraft creates a new purchase request in DRAFT. Department and branch
// default to the requestor's own.
func (s *PurchaseRequestService) CreateDraft(ctx context.Context, req *CreateDraftRequest) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := s.begin(ctx, string(workflow.ActionCreate), "")
	defer func() { finish(err) }()

	if req.Actor.Role != workflow.RoleRequestor {
		return nil, errors.Forbidden("only requestors create purchase requests")
	}
	user, err := s.authenticate(ctx, req.Actor)
	if err != nil {
		return nil, err
	}

	department := strings.ToUpper(strings.TrimSpace(req.Department))
	if department == "" {
		department = strings.ToUpper(user.Department)
	}
	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		branch = user.Branch
	}
	if department == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}
	if branch == "" {
		return nil, errors.InvalidInput("branch", "branch is required")
	}

	now := s.now()
	pr = &repository.PurchaseRequest{
		ID:           uuid.NewString(),
		Department:   department,
		Branch:       branch,
		Type:         req.Type,
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		TaxRate:      req.TaxRate,
		RequiredDate: req.RequiredDate,
		Purpose:      strings.TrimSpace(req.Purpose),
		Notes:        req.Notes,
		RequestorID:  req.Actor.UserID,
	}
	if err := validateHeader(pr); err != nil {
		return nil, err
	}
	if err := validateRequiredDate(pr.RequiredDate, now); err != nil {
		return nil, err
	}
	if pr.Items, err = repository.BuildItems(req.Items); err != nil {
		return nil, err
	}
	pr.RecomputeTotal()

	seq, err := s.Store.NextNumber(ctx, department)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "allocate purchase request number")
	}
	pr.Number = repository.FormatNumber(department, seq)
	pr.Start(req.Actor, now)

	if err := s.Store.Create(ctx, pr); err != nil {
		return nil, err
	}

	s.committed(pr, workflow.ActionCreate, req.Actor)
	return pr, nil
}

// UpdateDraft edits a request the requestor currently owns (draft, returned or
// waiting for more information). Totals are recomputed.
func (s *PurchaseRequestService) UpdateDraft(ctx context.Context, req *UpdateDraftRequest) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := s.begin(ctx, string(workflow.ActionUpdateDraft), req.PRID)
	defer func() { finish(err) }()

	if err := validateRequiredDate(req.RequiredDate, s.now()); err != nil {
		return nil, err
	}
	var items []repository.PRItem
	if req.Items != nil {
		if items, err = repository.BuildItems(req.Items); err != nil {
			return nil, err
		}
	}

	if _, err := s.authenticate(ctx, req.Actor); err != nil {
		return nil, err
	}
	snapshot, err := s.load(ctx, req.PRID)
	if err != nil {
		return nil, err
	}
	if err := req.Expected.check(snapshot, workflow.ActionUpdateDraft); err != nil {
		return nil, err
	}
	if !snapshot.Status.IsRecoverable() {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(workflow.ActionUpdateDraft))
	}
	if err := requireRequestor(snapshot, req.Actor); err != nil {
		return nil, err
	}

	now := s.now()
	return s.Store.Update(ctx, req.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, workflow.ActionUpdateDraft); err != nil {
			return err
		}
		if req.Branch != nil {
			p.Branch = strings.TrimSpace(*req.Branch)
		}
		if req.Type != nil {
			p.Type = *req.Type
		}
		if req.Currency != nil {
			p.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
		}
		if req.TaxRate != nil {
			p.TaxRate = *req.TaxRate
		}
		if req.RequiredDate != nil {
			p.RequiredDate = req.RequiredDate
		}
		if req.Purpose != nil {
			p.Purpose = strings.TrimSpace(*req.Purpose)
		}
		if req.Notes != nil {
			p.Notes = req.Notes
		}
		if items != nil {
			p.Items = items
		}
		if err := validateHeader(p); err != nil {
			return err
		}
		p.RecomputeTotal()
		p.UpdatedAt = now
		return nil
	})
}

func validateHeader(pr *repository.PurchaseRequest) error {
	if strings.TrimSpace(pr.Branch) == "" {
		return errors.InvalidInput("branch", "branch is required")
	}
	if !pr.Type.Valid() {
		return errors.InvalidInput("type", "type must be commercial or production")
	}
	if len(pr.Currency) != 3 {
		return errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if err := repository.ValidateTaxRate(pr.TaxRate); err != nil {
		return err
	}
	return nil
}

func validateRequiredDate(d *time.Time, now time.Time) error {
	if d != nil && d.Before(now.Truncate(24*time.Hour)) {
		return errors.InvalidInput("required_date", "required date cannot be in the past")
	}
	return nil
}

func requireRequestor(pr *repository.PurchaseRequest, actor workflow.Actor) error {
	if actor.Role != workflow.RoleRequestor || actor.UserID != pr.RequestorID {
		return errors.Forbidden("only the requestor may change this purchase request").
			WithDetail("current_status", string(pr.Status))
	}
	return nil
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit sends a draft (or a returned request) into approval. The request is
// routed to the requestor's manager in the same commit.
func (s *PurchaseRequestService) Submit(ctx context.Context, cmd SubmitCommand) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := s.begin(ctx, string(workflow.ActionSubmit), cmd.PRID)
	defer func() { finish(err) }()

	if _, err := s.authenticate(ctx, cmd.Actor); err != nil {
		return nil, err
	}
	snapshot, err := s.load(ctx, cmd.PRID)
	if err != nil {
		return nil, err
	}
	if err := cmd.Expected.check(snapshot, workflow.ActionSubmit); err != nil {
		return nil, err
	}
	if !snapshot.Status.IsRecoverable() || !workflow.CanTransition(snapshot.Status, workflow.StatusSubmitted) {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(workflow.ActionSubmit))
	}
	if err := requireRequestor(snapshot, cmd.Actor); err != nil {
		return nil, err
	}

	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, workflow.ActionSubmit); err != nil {
			return err
		}
		now := s.now()
		if err := p.Transition(workflow.StatusSubmitted, workflow.ActionSubmit, cmd.Actor, cmd.Comment, now); err != nil {
			return err
		}
		return p.Transition(workflow.StatusManagerPending, workflow.ActionRoute, workflow.SystemActor, "", now)
	})
	if err != nil {
		return nil, err
	}

	s.committed(pr, workflow.ActionSubmit, cmd.Actor)
	s.notify(ctx, pr, client.EventSubmitted, cmd.Actor)
	return pr, nil
}

// ── Buyer chain ───────────────────────────────────────────────────────────────

// Advance lets the assigned buyer move the request through RFQ, quotation,
// supplier selection and payment.
func (s *PurchaseRequestService) Advance(ctx context.Context, cmd AdvanceCommand) (pr *repository.PurchaseRequest, err error) {
	ctx, finish := s.begin(ctx, string(workflow.ActionAdvance), cmd.PRID)
	defer func() { finish(err) }()

	if !buyerChain[cmd.Target] {
		return nil, errors.InvalidInput("target_status", "target must be a buyer stage").
			WithDetail("target_status", string(cmd.Target))
	}
	if _, err := s.authenticate(ctx, cmd.Actor); err != nil {
		return nil, err
	}
	snapshot, err := s.load(ctx, cmd.PRID)
	if err != nil {
		return nil, err
	}
	if err := blocked(snapshot, workflow.ActionAdvance); err != nil {
		return nil, err
	}
	if err := cmd.Expected.check(snapshot, workflow.ActionAdvance); err != nil {
		return nil, err
	}
	if snapshot.Status == cmd.Target && replayed(snapshot, cmd.Actor, workflow.ActionAdvance) {
		return nil, stale(snapshot, workflow.ActionAdvance)
	}
	if !snapshot.Status.IsBuyerOwned() || !workflow.CanTransition(snapshot.Status, cmd.Target) {
		return nil, errors.InvalidTransition(string(snapshot.Status), string(workflow.ActionAdvance)).
			WithDetail("target_status", string(cmd.Target))
	}
	if err := requireBuyer(snapshot, cmd.Actor); err != nil {
		return nil, err
	}

	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, workflow.ActionAdvance); err != nil {
			return err
		}
		return p.Transition(cmd.Target, workflow.ActionAdvance, cmd.Actor, cmd.Comment, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.committed(pr, workflow.ActionAdvance, cmd.Actor)
	if pr.Status.IsTerminal() {
		for _, buyer := range assignees(pr) {
			s.moveWorkload(ctx, buyer, "")
		}
	}
	s.notify(ctx, pr, client.EventProgressed, cmd.Actor, pr.RequestorID)
	return pr, nil
}

// RecordQuotation stores the quoted amount for a request in RFQ. A quote above
// the requested total raises a budget exception instead of moving to
// QUOTATION_RECEIVED; the second return value reports which happened.
func (s *PurchaseRequestService) RecordQuotation(ctx context.Context, cmd QuotationCommand) (pr *repository.PurchaseRequest, raised bool, err error) {
	ctx, finish := s.begin(ctx, string(workflow.ActionRecordQuotation), cmd.PRID)
	defer func() { finish(err) }()

	if !cmd.QuotedAmount.IsPositive() {
		return nil, false, errors.InvalidInput("quoted_amount", "quoted amount must be greater than zero")
	}
	if _, err := s.authenticate(ctx, cmd.Actor); err != nil {
		return nil, false, err
	}
	snapshot, err := s.load(ctx, cmd.PRID)
	if err != nil {
		return nil, false, err
	}
	if err := blocked(snapshot, workflow.ActionRecordQuotation); err != nil {
		return nil, false, err
	}
	if err := cmd.Expected.check(snapshot, workflow.ActionRecordQuotation); err != nil {
		return nil, false, err
	}
	if snapshot.Status != workflow.StatusRFQInProgress {
		return nil, false, errors.InvalidTransition(string(snapshot.Status), string(workflow.ActionRecordQuotation))
	}
	if err := requireBuyer(snapshot, cmd.Actor); err != nil {
		return nil, false, err
	}

	raised = cmd.QuotedAmount.GreaterThan(snapshot.TotalAmount)
	if raised && snapshot.BudgetException != nil {
		return nil, false, errors.InvalidTransition(string(snapshot.Status), string(workflow.ActionRaiseException)).
			WithDetail("resolution", string(snapshot.BudgetException.Resolution))
	}

	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		if err := unchanged(snapshot, p, workflow.ActionRecordQuotation); err != nil {
			return err
		}
		if raised {
			return openException(p, cmd.QuotedAmount, cmd.Actor, cmd.Comment, s.now())
		}
		comment := "quoted " + cmd.QuotedAmount.StringFixed(2) + " " + p.Currency
		if c := strings.TrimSpace(cmd.Comment); c != "" {
			comment += ": " + c
		}
		return p.Transition(workflow.StatusQuotationReceived, workflow.ActionRecordQuotation, cmd.Actor, comment, s.now())
	})
	if err != nil {
		return nil, false, err
	}

	if raised {
		s.committed(pr, workflow.ActionRaiseException, cmd.Actor)
		s.notify(ctx, pr, client.EventBudgetException, cmd.Actor)
	} else {
		s.committed(pr, workflow.ActionRecordQuotation, cmd.Actor)
		s.notify(ctx, pr, client.EventProgressed, cmd.Actor)
	}
	return pr, raised, nil
}

// requireBuyer checks that actor is a buyer working pr, either as the request
// assignee or as the assignee of at least one item.
func requireBuyer(pr *repository.PurchaseRequest, actor workflow.Actor) error {
	if actor.Role == workflow.RoleBuyer {
		for _, id := range assignees(pr) {
			if id == actor.UserID {
				return nil
			}
		}
	}
	return errors.Forbidden("only the assigned buyer may work this purchase request").
		WithDetail("current_status", string(pr.Status))
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Get returns the full aggregate, timeline included.
func (s *PurchaseRequestService) Get(ctx context.Context, id string) (*repository.PurchaseRequest, error) {
	return s.load(ctx, id)
}

// Timeline returns the ordered history of a request.
func (s *PurchaseRequestService) Timeline(ctx context.Context, id string) ([]repository.TimelineEntry, error) {
	pr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return pr.Timeline, nil
}

// List returns request summaries matching filter together with the total count.
func (s *PurchaseRequestService) List(ctx context.Context, filter repository.ListFilter) ([]*repository.PurchaseRequest, int, error) {
	return s.Store.List(ctx, filter.Normalize())
}

// PendingFor lists the requests waiting on actor: statuses owned by the acting
// role, narrowed to the actor's department, branch or assignments.
func (s *PurchaseRequestService) PendingFor(ctx context.Context, actor workflow.Actor, page, pageSize int) ([]*repository.PurchaseRequest, int, error) {
	user, err := s.authenticate(ctx, actor)
	if err != nil {
		return nil, 0, err
	}

	filter := repository.ListFilter{OwnerRole: actor.Role, Page: page, PageSize: pageSize}
	switch actor.Role {
	case workflow.RoleRequestor:
		filter.RequestorID = user.ID
	case workflow.RoleManager:
		filter.Department = user.Department
	case workflow.RoleBranchManager:
		filter.Branch = user.Branch
	case workflow.RoleBuyer:
		filter.AssigneeID = user.ID
	}
	return s.Store.List(ctx, filter.Normalize())
}

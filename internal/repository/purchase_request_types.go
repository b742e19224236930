package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// ── Domain types for the purchase request aggregate ─────────────────────────

// PRType decides which buyers are eligible to work a request.
type PRType string

const (
	PRTypeCommercial PRType = "commercial"
	PRTypeProduction PRType = "production"
)

func (t PRType) Valid() bool {
	return t == PRTypeCommercial || t == PRTypeProduction
}

// EntryType distinguishes status changes from ownership changes on the timeline.
type EntryType string

const (
	EntryTransition EntryType = "TRANSITION"
	EntryReassigned EntryType = "REASSIGNED"
)

// Resolution is the state of a budget exception.
type Resolution string

const (
	ResolutionPending  Resolution = "PENDING"
	ResolutionApproved Resolution = "APPROVED"
	ResolutionRejected Resolution = "REJECTED"
)

var hundred = decimal.NewFromInt(100)

// PurchaseRequest is the aggregate root. Status always equals the status of
// the last timeline entry and TotalAmount is always derived from Items.
type PurchaseRequest struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Department      string          `json:"department"`
	Branch          string          `json:"branch"`
	Type            PRType          `json:"type"`
	Currency        string          `json:"currency"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RequiredDate    *time.Time      `json:"required_date,omitempty"`
	Purpose         string          `json:"purpose"`
	Notes           *string         `json:"notes,omitempty"`
	RequestorID     string          `json:"requestor_id"`
	AssignedBuyerID *string         `json:"assigned_buyer_id,omitempty"`
	Status          workflow.Status `json:"status"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Items           []PRItem             `json:"items"`
	Timeline        []TimelineEntry      `json:"timeline,omitempty"`
	BudgetException *BudgetException     `json:"budget_exception,omitempty"`
	Reassignments   []ReassignmentRecord `json:"reassignments,omitempty"`
}

// PRItem is one requested line.
type PRItem struct {
	ID          string          `json:"id"`
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	AssigneeID  *string         `json:"assignee_id,omitempty"`
}

// TimelineEntry is one immutable record of the request history.
type TimelineEntry struct {
	ID         string          `json:"id"`
	Sequence   int             `json:"sequence"`
	Type       EntryType       `json:"type"`
	Action     workflow.Action `json:"action"`
	FromStatus workflow.Status `json:"from_status,omitempty"`
	Status     workflow.Status `json:"status"`
	ActorID    string          `json:"actor_id"`
	ActorRole  workflow.Role   `json:"actor_role"`
	Comment    *string         `json:"comment,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// BudgetException records a quotation that exceeded the requested budget.
type BudgetException struct {
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	QuotedAmount    decimal.Decimal `json:"quoted_amount"`
	Variance        decimal.Decimal `json:"variance"`
	Resolution      Resolution      `json:"resolution"`
	RaisedBy        string          `json:"raised_by"`
	RaisedAt        time.Time       `json:"raised_at"`
	ResolvedBy      *string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Comment         *string         `json:"comment,omitempty"`
}

// ReassignmentRecord records a buyer handover.
type ReassignmentRecord struct {
	ID          string    `json:"id"`
	FromBuyerID string    `json:"from_buyer_id"`
	ToBuyerID   string    `json:"to_buyer_id"`
	Reason      string    `json:"reason"`
	ItemIDs     []string  `json:"item_ids,omitempty"`
	ActorID     string    `json:"actor_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ItemInput is a requested line before it becomes part of the aggregate.
type ItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ── Construction and validation ─────────────────────────────────────────────

// BuildItems validates inputs and numbers them from 1.
func BuildItems(inputs []ItemInput) ([]PRItem, error) {
	if len(inputs) == 0 {
		return nil, errors.InvalidInput("items", "at least one item is required")
	}
	items := make([]PRItem, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(in.Description) == "" {
			return nil, errors.InvalidInput(field+".description", "item description is required")
		}
		if !in.Quantity.IsPositive() {
			return nil, errors.InvalidInput(field+".quantity", "item quantity must be greater than zero")
		}
		if in.UnitPrice.IsNegative() {
			return nil, errors.InvalidInput(field+".unit_price", "item unit price cannot be negative")
		}
		items = append(items, PRItem{
			ID:          uuid.NewString(),
			LineNumber:  i + 1,
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		})
	}
	return items, nil
}

// ValidateTaxRate checks the 0..100 percent range.
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return errors.InvalidInput("tax_rate", "tax rate must be between 0 and 100")
	}
	return nil
}

// RecomputeTotal refreshes item amounts and the request total:
// Σ(quantity × unit price) × (1 + tax/100). Only the total is rounded to
// cents; item amounts are rounded for display and never summed.
func (pr *PurchaseRequest) RecomputeTotal() {
	subtotal := decimal.Zero
	for i := range pr.Items {
		amount := pr.Items[i].Quantity.Mul(pr.Items[i].UnitPrice)
		pr.Items[i].Amount = amount.Round(2)
		subtotal = subtotal.Add(amount)
	}
	factor := decimal.NewFromInt(1).Add(pr.TaxRate.Div(hundred))
	pr.TotalAmount = subtotal.Mul(factor).Round(2)
}

// FormatNumber renders the department scoped request number.
func FormatNumber(department string, seq int64) string {
	return fmt.Sprintf("PR-%s-%05d", strings.ToUpper(department), seq)
}

// ── Timeline ────────────────────────────────────────────────────────────────

// OwnerRole derives the role expected to act next.
func (pr *PurchaseRequest) OwnerRole() workflow.Role {
	return workflow.OwnerRole(pr.Status)
}

// LastEntry returns the latest timeline entry, or nil for an empty timeline.
func (pr *PurchaseRequest) LastEntry() *TimelineEntry {
	if len(pr.Timeline) == 0 {
		return nil
	}
	return &pr.Timeline[len(pr.Timeline)-1]
}

// Start records the creation entry of a new draft.
func (pr *PurchaseRequest) Start(actor workflow.Actor, at time.Time) {
	pr.Status = workflow.StatusDraft
	pr.StatusChangedAt = at
	pr.CreatedAt = at
	pr.UpdatedAt = at
	pr.Timeline = []TimelineEntry{{
		ID:        uuid.NewString(),
		Sequence:  1,
		Type:      EntryTransition,
		Action:    workflow.ActionCreate,
		Status:    workflow.StatusDraft,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Timestamp: at,
	}}
}

// Transition moves the request to `to` and appends the matching entry. It
// fails without touching the aggregate when the move is not adjacent.
func (pr *PurchaseRequest) Transition(to workflow.Status, action workflow.Action, actor workflow.Actor, comment string, at time.Time) error {
	if !workflow.CanTransition(pr.Status, to) {
		return errors.InvalidTransition(string(pr.Status), string(action)).
			WithDetail("target_status", string(to))
	}
	pr.appendEntry(TimelineEntry{
		Type:       EntryTransition,
		Action:     action,
		FromStatus: pr.Status,
		Status:     to,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Comment:    optional(comment),
		Timestamp:  at,
	})
	pr.Status = to
	pr.StatusChangedAt = at
	return nil
}

// RecordReassignment appends a reassignment record and its status-neutral entry.
func (pr *PurchaseRequest) RecordReassignment(rec ReassignmentRecord, actor workflow.Actor) {
	pr.Reassignments = append(pr.Reassignments, rec)
	pr.appendEntry(TimelineEntry{
		Type:       EntryReassigned,
		Action:     workflow.ActionReassign,
		FromStatus: pr.Status,
		Status:     pr.Status,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Comment:    optional(rec.Reason),
		Timestamp:  rec.Timestamp,
	})
}

func (pr *PurchaseRequest) appendEntry(e TimelineEntry) {
	e.ID = uuid.NewString()
	e.Sequence = len(pr.Timeline) + 1
	pr.Timeline = append(pr.Timeline, e)
	pr.UpdatedAt = e.Timestamp
}

// ReplayStatus folds a timeline from the creation entry and returns the
// status it ends in. Every transition is re-validated against the adjacency
// map, so a corrupted history is reported instead of silently accepted.
func ReplayStatus(timeline []TimelineEntry) (workflow.Status, error) {
	if len(timeline) == 0 {
		return "", fmt.Errorf("empty timeline")
	}
	first := timeline[0]
	if first.Action != workflow.ActionCreate || first.Status != workflow.StatusDraft {
		return "", fmt.Errorf("timeline must start with a draft creation entry")
	}
	current := first.Status
	for _, e := range timeline[1:] {
		if e.FromStatus != current {
			return "", fmt.Errorf("entry %d starts from %s but request was %s", e.Sequence, e.FromStatus, current)
		}
		switch e.Type {
		case EntryTransition:
			if !workflow.CanTransition(current, e.Status) {
				return "", fmt.Errorf("entry %d moves %s -> %s outside the adjacency map", e.Sequence, current, e.Status)
			}
			current = e.Status
		case EntryReassigned:
			if e.Status != current {
				return "", fmt.Errorf("reassignment entry %d changes status", e.Sequence)
			}
		default:
			return "", fmt.Errorf("entry %d has unknown type %q", e.Sequence, e.Type)
		}
	}
	return current, nil
}

// ── Budget exception and items ──────────────────────────────────────────────

// HasPendingException reports whether a budget exception awaits a decision.
func (pr *PurchaseRequest) HasPendingException() bool {
	return pr.BudgetException != nil && pr.BudgetException.Resolution == ResolutionPending
}

// ItemByID returns a pointer into Items.
func (pr *PurchaseRequest) ItemByID(id string) *PRItem {
	for i := range pr.Items {
		if pr.Items[i].ID == id {
			return &pr.Items[i]
		}
	}
	return nil
}

// EffectiveAssignee returns the buyer working an item: its own assignee, or
// the request assignee when the item was never split off.
func (pr *PurchaseRequest) EffectiveAssignee(item PRItem) string {
	if item.AssigneeID != nil {
		return *item.AssigneeID
	}
	if pr.AssignedBuyerID != nil {
		return *pr.AssignedBuyerID
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without touching the stored value.
func (pr *PurchaseRequest) Clone() *PurchaseRequest {
	if pr == nil {
		return nil
	}
	c := *pr
	c.RequiredDate = clonePtr(pr.RequiredDate)
	c.Notes = clonePtr(pr.Notes)
	c.AssignedBuyerID = clonePtr(pr.AssignedBuyerID)

	if pr.Items != nil {
		c.Items = make([]PRItem, len(pr.Items))
		for i, it := range pr.Items {
			it.AssigneeID = clonePtr(it.AssigneeID)
			c.Items[i] = it
		}
	}
	if pr.Timeline != nil {
		c.Timeline = make([]TimelineEntry, len(pr.Timeline))
		for i, e := range pr.Timeline {
			e.Comment = clonePtr(e.Comment)
			c.Timeline[i] = e
		}
	}
	if pr.BudgetException != nil {
		be := *pr.BudgetException
		be.ResolvedBy = clonePtr(be.ResolvedBy)
		be.ResolvedAt = clonePtr(be.ResolvedAt)
		be.Comment = clonePtr(be.Comment)
		c.BudgetException = &be
	}
	if pr.Reassignments != nil {
		c.Reassignments = make([]ReassignmentRecord, len(pr.Reassignments))
		for i, r := range pr.Reassignments {
			r.ItemIDs = append([]string(nil), r.ItemIDs...)
			c.Reassignments[i] = r
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// ── Listing ─────────────────────────────────────────────────────────────────

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Statuses    []workflow.Status
	OwnerRole   workflow.Role
	Department  string
	Branch      string
	RequestorID string
	AssigneeID  string
	Page        int
	PageSize    int
}

// Normalize applies paging defaults and expands OwnerRole into statuses.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 50
	}
	if f.OwnerRole != workflow.RoleNone {
		var owned []workflow.Status
		for _, s := range workflow.All() {
			if workflow.OwnerRole(s) == f.OwnerRole && (len(f.Statuses) == 0 || containsStatus(f.Statuses, s)) {
				owned = append(owned, s)
			}
		}
		if len(owned) == 0 {
			// No status matches; keep the filter unsatisfiable.
			owned = []workflow.Status{"-"}
		}
		f.Statuses = owned
		f.OwnerRole = workflow.RoleNone
	}
	return f
}

// Matches reports whether pr satisfies a normalized filter.
func (f ListFilter) Matches(pr *PurchaseRequest) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, pr.Status) {
		return false
	}
	if f.Department != "" && !strings.EqualFold(f.Department, pr.Department) {
		return false
	}
	if f.Branch != "" && !strings.EqualFold(f.Branch, pr.Branch) {
		return false
	}
	if f.RequestorID != "" && f.RequestorID != pr.RequestorID {
		return false
	}
	if f.AssigneeID != "" {
		if pr.AssignedBuyerID != nil && *pr.AssignedBuyerID == f.AssigneeID {
			return true
		}
		for _, it := range pr.Items {
			if it.AssigneeID != nil && *it.AssigneeID == f.AssigneeID {
				return true
			}
		}
		return false
	}
	return true
}

func containsStatus(list []workflow.Status, s workflow.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package workflow

// Action names a lifecycle operation. It is recorded on timeline entries.
type Action string

const (
	ActionCreate           Action = "create"
	ActionSubmit           Action = "submit"
	ActionRoute            Action = "route"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionReturn           Action = "return"
	ActionAdvance          Action = "advance"
	ActionRecordQuotation  Action = "record_quotation"
	ActionRaiseException   Action = "raise_budget_exception"
	ActionApproveException Action = "approve_exception"
	ActionRejectException  Action = "reject_exception"
	ActionReassign         Action = "reassign"
	ActionUpdateDraft      Action = "update_draft"
)

func (a Action) String() string { return string(a) }

var transitions = map[Status][]Status{
	StatusDraft:                 {StatusSubmitted},
	StatusSubmitted:             {StatusManagerPending},
	StatusManagerPending:        {StatusBranchManagerPending, StatusManagerRejected, StatusManagerReturned},
	StatusManagerApproved:       {StatusBranchManagerPending},
	StatusManagerRejected:       {},
	StatusManagerReturned:       {StatusSubmitted},
	StatusBranchManagerPending:  {StatusBuyerLeaderPending, StatusBranchManagerRejected, StatusBranchManagerReturned},
	StatusBranchManagerRejected: {},
	StatusBranchManagerReturned: {StatusSubmitted},
	StatusBuyerLeaderPending:    {StatusAssignedToBuyer, StatusNeedMoreInfo},
	StatusNeedMoreInfo:          {StatusSubmitted},
	StatusAssignedToBuyer:       {StatusReadyForRFQ, StatusRFQInProgress, StatusBudgetException},
	StatusReadyForRFQ:           {StatusRFQInProgress, StatusBudgetException},
	StatusRFQInProgress:         {StatusQuotationReceived, StatusBudgetException},
	StatusQuotationReceived:     {StatusSupplierSelected, StatusRFQInProgress, StatusBudgetException},
	StatusSupplierSelected:      {StatusPaymentDone, StatusBudgetException},
	StatusBudgetException:       {StatusBudgetApproved, StatusBudgetRejected},
	StatusBudgetApproved:        {StatusSupplierSelected, StatusPaymentDone},
	StatusBudgetRejected:        {},
	StatusPaymentDone:           {},
}

// AllowedTransitions returns the statuses reachable from s in one step.
// The returned slice is a copy.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the adjacency map.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RouterTarget returns where the approval router moves s for action, or
// false when the action is not offered from s.
func RouterTarget(s Status, action Action) (Status, bool) {
	md := registry[s]
	var target Status
	switch action {
	case ActionApprove:
		target = md.ApproveTo
	case ActionReject:
		target = md.RejectTo
	case ActionReturn:
		target = md.ReturnTo
	}
	return target, target != ""
}

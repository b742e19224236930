// Package workflow is the purchase request status registry: the closed set of
// statuses, who owns each one, how they connect, and the SLA clock that runs
// against them. Everything here is pure and safe for concurrent use.
package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a purchase request lifecycle state.
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusSubmitted             Status = "SUBMITTED"
	StatusManagerPending        Status = "MANAGER_PENDING"
	StatusManagerApproved       Status = "MANAGER_APPROVED"
	StatusManagerRejected       Status = "MANAGER_REJECTED"
	StatusManagerReturned       Status = "MANAGER_RETURNED"
	StatusBranchManagerPending  Status = "BRANCH_MANAGER_PENDING"
	StatusBranchManagerRejected Status = "BRANCH_MANAGER_REJECTED"
	StatusBranchManagerReturned Status = "BRANCH_MANAGER_RETURNED"
	StatusBuyerLeaderPending    Status = "BUYER_LEADER_PENDING"
	StatusAssignedToBuyer       Status = "ASSIGNED_TO_BUYER"
	StatusReadyForRFQ           Status = "READY_FOR_RFQ"
	StatusRFQInProgress         Status = "RFQ_IN_PROGRESS"
	StatusQuotationReceived     Status = "QUOTATION_RECEIVED"
	StatusSupplierSelected      Status = "SUPPLIER_SELECTED"
	StatusBudgetException       Status = "BUDGET_EXCEPTION"
	StatusBudgetApproved        Status = "BUDGET_APPROVED"
	StatusBudgetRejected        Status = "BUDGET_REJECTED"
	StatusNeedMoreInfo          Status = "NEED_MORE_INFO"
	StatusPaymentDone           Status = "PAYMENT_DONE"
)

// Kind groups statuses by how the lifecycle treats them.
type Kind string

const (
	KindActive          Kind = "active"
	KindRecoverable     Kind = "recoverable"
	KindTerminalSuccess Kind = "terminal_success"
	KindTerminalFailure Kind = "terminal_failure"
)

// Metadata is the single source of truth for a status.
type Metadata struct {
	Label string
	Owner Role
	Stage int
	Kind  Kind
	Color string

	// Targets of the approval router; empty when the action is not offered.
	ApproveTo Status
	RejectTo  Status
	ReturnTo  Status
}

// LastStage is the ordinal of PAYMENT_DONE.
const LastStage = 10

var registry = map[Status]Metadata{
	StatusDraft:     {Label: "Draft", Owner: RoleRequestor, Stage: 0, Kind: KindRecoverable, Color: "gray"},
	StatusSubmitted: {Label: "Submitted", Owner: RoleSystem, Stage: 1, Kind: KindActive, Color: "blue"},
	StatusManagerPending: {
		Label: "Waiting for manager", Owner: RoleManager, Stage: 2, Kind: KindActive, Color: "amber",
		ApproveTo: StatusBranchManagerPending, RejectTo: StatusManagerRejected, ReturnTo: StatusManagerReturned,
	},
	StatusManagerApproved: {Label: "Manager approved", Owner: RoleSystem, Stage: 3, Kind: KindActive, Color: "green"},
	StatusManagerRejected: {Label: "Rejected by manager", Owner: RoleNone, Stage: 2, Kind: KindTerminalFailure, Color: "red"},
	StatusManagerReturned: {Label: "Returned by manager", Owner: RoleRequestor, Stage: 2, Kind: KindRecoverable, Color: "orange"},
	StatusBranchManagerPending: {
		Label: "Waiting for branch manager", Owner: RoleBranchManager, Stage: 3, Kind: KindActive, Color: "amber",
		ApproveTo: StatusBuyerLeaderPending, RejectTo: StatusBranchManagerRejected, ReturnTo: StatusBranchManagerReturned,
	},
	StatusBranchManagerRejected: {Label: "Rejected by branch manager", Owner: RoleNone, Stage: 3, Kind: KindTerminalFailure, Color: "red"},
	StatusBranchManagerReturned: {Label: "Returned by branch manager", Owner: RoleRequestor, Stage: 3, Kind: KindRecoverable, Color: "orange"},
	StatusBuyerLeaderPending: {
		Label: "Waiting for buyer leader", Owner: RoleBuyerLeader, Stage: 4, Kind: KindActive, Color: "amber",
		ApproveTo: StatusAssignedToBuyer, ReturnTo: StatusNeedMoreInfo,
	},
	StatusNeedMoreInfo:      {Label: "More information needed", Owner: RoleRequestor, Stage: 4, Kind: KindRecoverable, Color: "orange"},
	StatusAssignedToBuyer:   {Label: "Assigned to buyer", Owner: RoleBuyer, Stage: 5, Kind: KindActive, Color: "indigo"},
	StatusReadyForRFQ:       {Label: "Ready for RFQ", Owner: RoleBuyer, Stage: 6, Kind: KindActive, Color: "indigo"},
	StatusRFQInProgress:     {Label: "RFQ in progress", Owner: RoleBuyer, Stage: 7, Kind: KindActive, Color: "indigo"},
	StatusQuotationReceived: {Label: "Quotation received", Owner: RoleBuyer, Stage: 8, Kind: KindActive, Color: "teal"},
	StatusSupplierSelected:  {Label: "Supplier selected", Owner: RoleBuyer, Stage: 9, Kind: KindActive, Color: "teal"},
	StatusBudgetException:   {Label: "Budget exception", Owner: RoleBranchManager, Stage: 8, Kind: KindActive, Color: "purple"},
	StatusBudgetApproved:    {Label: "Budget exception approved", Owner: RoleBuyer, Stage: 8, Kind: KindActive, Color: "teal"},
	StatusBudgetRejected:    {Label: "Budget exception rejected", Owner: RoleNone, Stage: 8, Kind: KindTerminalFailure, Color: "red"},
	StatusPaymentDone:       {Label: "Payment done", Owner: RoleNone, Stage: LastStage, Kind: KindTerminalSuccess, Color: "green"},
}

// legacyAliases maps names written by older portal builds to canonical ones.
var legacyAliases = map[string]Status{
	"DEPARTMENT_HEAD_PENDING":  StatusManagerPending,
	"DEPARTMENT_HEAD_APPROVED": StatusManagerApproved,
	"DEPARTMENT_HEAD_REJECTED": StatusManagerRejected,
	"DEPARTMENT_HEAD_RETURNED": StatusManagerReturned,
}

func init() {
	if err := checkRegistry(); err != nil {
		panic(err)
	}
}

// checkRegistry verifies every status has metadata and an adjacency entry and
// that the router targets are reachable through the adjacency map.
func checkRegistry() error {
	for s, md := range registry {
		if _, ok := transitions[s]; !ok {
			return fmt.Errorf("workflow: status %s has no adjacency entry", s)
		}
		for _, target := range []Status{md.ApproveTo, md.RejectTo, md.ReturnTo} {
			if target != "" && !CanTransition(s, target) {
				return fmt.Errorf("workflow: router target %s not adjacent to %s", target, s)
			}
		}
		if md.Kind == KindTerminalSuccess || md.Kind == KindTerminalFailure {
			if len(transitions[s]) != 0 || md.Owner != RoleNone {
				return fmt.Errorf("workflow: terminal status %s must have no owner and no exits", s)
			}
		}
	}
	for s, next := range transitions {
		if _, ok := registry[s]; !ok {
			return fmt.Errorf("workflow: adjacency entry %s has no metadata", s)
		}
		for _, t := range next {
			if _, ok := registry[t]; !ok {
				return fmt.Errorf("workflow: %s -> %s targets unknown status", s, t)
			}
		}
	}
	return nil
}

// ParseStatus resolves a stored or client supplied status name, accepting
// legacy aliases.
func ParseStatus(s string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := legacyAliases[name]; ok {
		return alias, nil
	}
	st := Status(name)
	if _, ok := registry[st]; !ok {
		return "", fmt.Errorf("unknown purchase request status %q", s)
	}
	return st, nil
}

// All returns every status ordered by stage then name.
func All() []Status {
	out := make([]Status, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := registry[out[i]], registry[out[j]]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return out[i] < out[j]
	})
	return out
}

// Describe returns the metadata for s.
func Describe(s Status) (Metadata, bool) {
	md, ok := registry[s]
	return md, ok
}

// OwnerRole returns the role expected to act next, RoleNone for terminal states.
func OwnerRole(s Status) Role {
	return registry[s].Owner
}

func (s Status) String() string { return string(s) }

// UnmarshalText accepts canonical and legacy names, so documents written
// before the rename decode to canonical statuses.
func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s Status) Valid() bool {
	_, ok := registry[s]
	return ok
}

func (s Status) IsTerminal() bool {
	k := registry[s].Kind
	return k == KindTerminalSuccess || k == KindTerminalFailure
}

// IsRecoverable reports whether the requestor may edit and resubmit.
func (s Status) IsRecoverable() bool {
	return registry[s].Kind == KindRecoverable
}

// IsPending reports whether the approval router acts on s.
func (s Status) IsPending() bool {
	return registry[s].ApproveTo != ""
}

// IsBuyerOwned reports whether the assigned buyer is working the request.
func (s Status) IsBuyerOwned() bool {
	return registry[s].Owner == RoleBuyer
}

// Stage returns the progress ordinal of s.
func (s Status) Stage() int { return registry[s].Stage }

// CompletionPercent is the stage ordinal as a share of the full lifecycle.
func (s Status) CompletionPercent() float64 {
	return float64(registry[s].Stage) / float64(LastStage) * 100
}

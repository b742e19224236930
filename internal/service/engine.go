package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/logger"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/metrics"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

const tracerName = "github.com/pesio-ai/be-procurement-requests/internal/service"

// Dependencies are the collaborators shared by every lifecycle service.
// Notifier, Workload and Metrics are optional.
type Dependencies struct {
	Store    PurchaseRequestStore
	Identity IdentityDirectory
	Notifier Notifier
	Workload WorkloadTracker
	Metrics  *metrics.Metrics
	SLA      workflow.SLAPolicy
	Clock    Clock
	Log      *logger.Logger
}

// engine carries the plumbing every operation goes through: identity checks,
// optimistic snapshot checks, notifications, metrics and spans.
type engine struct {
	Dependencies
	tracer trace.Tracer
}

func newEngine(d Dependencies) *engine {
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.SLA.Default <= 0 {
		d.SLA = workflow.DefaultSLAPolicy()
	}
	return &engine{Dependencies: d, tracer: otel.Tracer(tracerName)}
}

func (e *engine) now() time.Time { return e.Clock().UTC() }

// begin opens a span for operation and returns the function that closes it.
// The caller passes its final error so rejections are counted by code.
func (e *engine) begin(ctx context.Context, operation, prID string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "procurement."+operation,
		trace.WithAttributes(attribute.String("pr.id", prID)))

	return ctx, func(err error) {
		e.Metrics.ObserveOperation(operation, time.Since(started))
		if err != nil {
			code := errors.CodeOf(err)
			e.Metrics.IncrementRejection(operation, string(code))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(code))
			if code == errors.ErrCodeInternal {
				e.Log.Error().Err(err).Str("operation", operation).Str("pr_id", prID).Msg("Operation failed")
			} else {
				e.Log.Debug().Err(err).Str("operation", operation).Str("pr_id", prID).Msg("Operation refused")
			}
		}
		span.End()
	}
}

// authenticate confirms the actor exists, is active and holds the role they
// act under.
func (e *engine) authenticate(ctx context.Context, actor workflow.Actor) (*repository.DirectoryUser, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "acting user is required")
	}
	user, err := e.Identity.ResolveUser(ctx, actor.UserID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Forbidden("unknown user").WithDetail("user_id", actor.UserID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "resolve acting user")
	}
	if !user.Active {
		return nil, errors.Forbidden("user is inactive").WithDetail("user_id", actor.UserID)
	}
	if !user.HasRole(actor.Role) {
		return nil, errors.Forbidden("user does not hold the acting role").
			WithDetail("user_id", actor.UserID).
			WithDetail("role", string(actor.Role))
	}
	return user, nil
}

// authorizeScope checks that an approver acts inside their own organisation
// unit: managers within their department, branch managers within their branch.
func authorizeScope(user *repository.DirectoryUser, role workflow.Role, pr *repository.PurchaseRequest) error {
	switch role {
	case workflow.RoleManager:
		if !strings.EqualFold(user.Department, pr.Department) {
			return errors.Forbidden("manager belongs to a different department").
				WithDetail("department", pr.Department)
		}
	case workflow.RoleBranchManager:
		if !strings.EqualFold(user.Branch, pr.Branch) {
			return errors.Forbidden("branch manager belongs to a different branch").
				WithDetail("branch", pr.Branch)
		}
	}
	return nil
}

// Expectation is the caller's view of the request when they decided to act.
// Zero values are not checked.
type Expectation struct {
	Status  workflow.Status
	Version int64
}

func (x Expectation) check(pr *repository.PurchaseRequest, action workflow.Action) error {
	if x.Status != "" && x.Status != pr.Status {
		return errors.StaleState(string(pr.Status), string(action)).
			WithDetail("expected_status", string(x.Status))
	}
	if x.Version != 0 && x.Version != pr.Version {
		return errors.StaleState(string(pr.Status), string(action)).
			WithDetail("expected_version", x.Version).
			WithDetail("current_version", pr.Version)
	}
	return nil
}

// unchanged is evaluated inside Store.Update: the locked copy must still be
// the snapshot every check ran against.
func unchanged(snapshot, locked *repository.PurchaseRequest, action workflow.Action) error {
	if locked.Version != snapshot.Version || locked.Status != snapshot.Status {
		return errors.StaleState(string(locked.Status), string(action)).
			WithDetail("snapshot_version", snapshot.Version).
			WithDetail("current_version", locked.Version)
	}
	return nil
}

// replayed reports whether the latest status change was already action taken
// under the actor's role: the caller acted on a status that has moved on.
func replayed(pr *repository.PurchaseRequest, actor workflow.Actor, action workflow.Action) bool {
	for i := len(pr.Timeline) - 1; i >= 0; i-- {
		e := pr.Timeline[i]
		if e.Type != repository.EntryTransition {
			continue
		}
		return e.Action == action && e.ActorRole == actor.Role
	}
	return false
}

// stale is the StaleState refusal for a replayed action.
func stale(pr *repository.PurchaseRequest, action workflow.Action) error {
	last := pr.LastEntry()
	err := errors.StaleState(string(pr.Status), string(action))
	if last != nil {
		err = err.WithDetail("last_actor_id", last.ActorID)
	}
	return err
}

func blocked(pr *repository.PurchaseRequest, action workflow.Action) error {
	if pr.HasPendingException() || pr.Status == workflow.StatusBudgetException {
		return errors.Blocked(string(pr.Status), string(action))
	}
	return nil
}

func (e *engine) load(ctx context.Context, id string) (*repository.PurchaseRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidInput("pr_id", "purchase request id is required")
	}
	return e.Store.Get(ctx, id)
}

// committed records the side effects of a successful transition.
func (e *engine) committed(pr *repository.PurchaseRequest, action workflow.Action, actor workflow.Actor) {
	e.Metrics.IncrementTransition(string(action), string(pr.Status))
	e.Log.Info().
		Str("pr_id", pr.ID).
		Str("pr_number", pr.Number).
		Str("action", string(action)).
		Str("status", string(pr.Status)).
		Str("actor_id", actor.UserID).
		Int64("version", pr.Version).
		Msg("Purchase request updated")
}

// notify publishes event for pr to whoever owns the new status plus any
// extra recipients. Lookup failures only shrink the recipient list.
func (e *engine) notify(ctx context.Context, pr *repository.PurchaseRequest, eventType string, actor workflow.Actor, extra ...string) {
	if e.Notifier == nil {
		return
	}
	owner := pr.OwnerRole()
	e.Notifier.Publish(ctx, &client.NotificationEvent{
		EventType:     eventType,
		ResourceType:  "purchase_request",
		ResourceID:    pr.ID,
		ResourceRef:   pr.Number,
		ActorID:       actor.UserID,
		RecipientRole: string(owner),
		Recipients:    dedupe(append(e.recipientsFor(ctx, pr), extra...)),
		Status:        string(pr.Status),
		IsActionable:  owner != workflow.RoleNone && owner != workflow.RoleSystem,
		OccurredAt:    e.now(),
		Payload: map[string]any{
			"department":   pr.Department,
			"branch":       pr.Branch,
			"total_amount": pr.TotalAmount.StringFixed(2),
			"currency":     pr.Currency,
		},
	})
}

func (e *engine) recipientsFor(ctx context.Context, pr *repository.PurchaseRequest) []string {
	role := pr.OwnerRole()
	switch role {
	case workflow.RoleRequestor:
		return []string{pr.RequestorID}
	case workflow.RoleBuyer:
		return assignees(pr)
	case workflow.RoleManager, workflow.RoleBranchManager, workflow.RoleBuyerLeader:
	default:
		return nil
	}

	users, err := e.Identity.UsersWithRole(ctx, role)
	if err != nil {
		e.Log.Warn().Err(err).Str("role", string(role)).Msg("Could not resolve notification recipients")
		return nil
	}
	var out []string
	for _, u := range users {
		if !u.Active || authorizeScope(u, role, pr) != nil {
			continue
		}
		out = append(out, u.ID)
	}
	return out
}

// assignees returns every buyer working pr, request-level assignee first.
func assignees(pr *repository.PurchaseRequest) []string {
	var out []string
	if pr.AssignedBuyerID != nil {
		out = append(out, *pr.AssignedBuyerID)
	}
	for _, it := range pr.Items {
		if it.AssigneeID != nil {
			out = append(out, *it.AssigneeID)
		}
	}
	return dedupe(out)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *engine) moveWorkload(ctx context.Context, from, to string) {
	if e.Workload == nil {
		return
	}
	if err := e.Workload.Move(ctx, from, to, 1); err != nil {
		e.Log.Warn().Err(err).Str("from_buyer_id", from).Str("to_buyer_id", to).
			Msg("Could not update buyer workload; next recompute will correct it")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// ReassignCommand hands a request, or some of its items, from one buyer to
// another. Empty ItemIDs moves the whole request.
type ReassignCommand struct {
	PRID        string
	Actor       workflow.Actor
	FromBuyerID string
	ToBuyerID   string
	Reason      string
	ItemIDs     []string
	Expected    Expectation
}

const recomputePageSize = 100

// ReassignmentService moves buyer-owned work between buyers and keeps the
// per-buyer workload counters roughly in step.
type ReassignmentService struct {
	*engine
}

// NewReassignmentService creates a new ReassignmentService.
func NewReassignmentService(d Dependencies) *ReassignmentService {
	return &ReassignmentService{engine: newEngine(d)}
}

// Reassign records a buyer handover. The status never changes; the timeline
// gains a REASSIGNED entry.
func (s *ReassignmentService) Reassign(ctx context.Context, cmd ReassignCommand) (pr *repository.PurchaseRequest, err error) {
	action := workflow.ActionReassign
	ctx, finish := s.begin(ctx, string(action), cmd.PRID)
	defer func() { finish(err) }()

	cmd.FromBuyerID = strings.TrimSpace(cmd.FromBuyerID)
	cmd.ToBuyerID = strings.TrimSpace(cmd.ToBuyerID)
	cmd.ItemIDs = dedupe(cmd.ItemIDs)
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, errors.InvalidInput("reason", "a reason is required to reassign")
	}
	if cmd.FromBuyerID == "" || cmd.ToBuyerID == "" {
		return nil, errors.InvalidInput("buyer_id", "both the current and the new buyer are required")
	}
	if cmd.FromBuyerID == cmd.ToBuyerID {
		return nil, errors.InvalidReassignment("new buyer is the current buyer")
	}
	if cmd.Actor.Role != workflow.RoleBuyerLeader && cmd.Actor.Role != workflow.RoleBranchManager {
		return nil, errors.Forbidden("only a buyer leader or branch manager may reassign").
			WithDetail("acting_role", string(cmd.Actor.Role))
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
	if err := checkReassignable(snapshot, cmd); err != nil {
		return nil, err
	}
	if err := authorizeScope(user, cmd.Actor.Role, snapshot); err != nil {
		return nil, err
	}

	to, err := s.Identity.ResolveUser(ctx, cmd.ToBuyerID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidReassignment("new buyer does not exist").WithDetail("to_buyer_id", cmd.ToBuyerID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "resolve new buyer")
	}
	if !to.CanBuy(snapshot.Type) {
		return nil, errors.InvalidReassignment("new buyer is not an active buyer for "+string(snapshot.Type)+" requests").
			WithDetail("to_buyer_id", cmd.ToBuyerID)
	}

	var previous string
	pr, err = s.Store.Update(ctx, cmd.PRID, func(p *repository.PurchaseRequest) error {
		// Reassignment does not care about unrelated progress, only that the
		// handover is still valid against the locked copy.
		if err := cmd.Expected.check(p, action); err != nil {
			return err
		}
		if err := checkReassignable(p, cmd); err != nil {
			return err
		}
		previous = deref(p.AssignedBuyerID)
		applyReassignment(p, cmd)
		p.RecordReassignment(repository.ReassignmentRecord{
			ID:          uuid.NewString(),
			FromBuyerID: cmd.FromBuyerID,
			ToBuyerID:   cmd.ToBuyerID,
			Reason:      strings.TrimSpace(cmd.Reason),
			ItemIDs:     cmd.ItemIDs,
			ActorID:     cmd.Actor.UserID,
			Timestamp:   s.now(),
		}, cmd.Actor)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(pr, action, cmd.Actor)
	if current := deref(pr.AssignedBuyerID); current != previous {
		s.moveWorkload(ctx, previous, current)
	}
	s.notify(ctx, pr, client.EventReassigned, cmd.Actor, cmd.FromBuyerID)
	return pr, nil
}

func checkReassignable(pr *repository.PurchaseRequest, cmd ReassignCommand) error {
	if !pr.Status.IsBuyerOwned() {
		return errors.InvalidReassignment("purchase request is not with a buyer").
			WithDetail("current_status", string(pr.Status))
	}
	if len(cmd.ItemIDs) == 0 {
		if deref(pr.AssignedBuyerID) != cmd.FromBuyerID {
			return errors.InvalidReassignment("current buyer does not hold this purchase request").
				WithDetail("from_buyer_id", cmd.FromBuyerID)
		}
		return nil
	}
	for _, id := range cmd.ItemIDs {
		item := pr.ItemByID(id)
		if item == nil {
			return errors.InvalidReassignment("item does not belong to this purchase request").
				WithDetail("item_id", id)
		}
		if pr.EffectiveAssignee(*item) != cmd.FromBuyerID {
			return errors.InvalidReassignment("current buyer does not hold this item").
				WithDetail("item_id", id).
				WithDetail("from_buyer_id", cmd.FromBuyerID)
		}
	}
	return nil
}

// applyReassignment moves ownership on p. The request assignee follows only
// when every item ends up with the new buyer.
func applyReassignment(p *repository.PurchaseRequest, cmd ReassignCommand) {
	to := cmd.ToBuyerID
	if len(cmd.ItemIDs) == 0 {
		for i := range p.Items {
			if p.Items[i].AssigneeID != nil && *p.Items[i].AssigneeID == cmd.FromBuyerID {
				p.Items[i].AssigneeID = nil
			}
		}
		p.AssignedBuyerID = &to
		return
	}

	for _, id := range cmd.ItemIDs {
		item := p.ItemByID(id)
		buyer := to
		item.AssigneeID = &buyer
	}
	for _, it := range p.Items {
		if p.EffectiveAssignee(it) != to {
			return
		}
	}
	p.AssignedBuyerID = &to
	for i := range p.Items {
		p.Items[i].AssigneeID = nil
	}
}

// RecomputeWorkload recounts open buyer-owned requests per buyer and replaces
// the workload counters. Pages after the first are fetched concurrently.
func (s *ReassignmentService) RecomputeWorkload(ctx context.Context) (counts map[string]int64, err error) {
	ctx, finish := s.begin(ctx, "recompute_workload", "")
	defer func() {
		finish(err)
		if err != nil {
			s.Metrics.IncrementWorkloadRecompute("error")
		} else {
			s.Metrics.IncrementWorkloadRecompute("ok")
		}
	}()

	filter := repository.ListFilter{OwnerRole: workflow.RoleBuyer, Page: 1, PageSize: recomputePageSize}.Normalize()
	first, total, err := s.Store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	counts = make(map[string]int64)
	tally := func(prs []*repository.PurchaseRequest) {
		mu.Lock()
		defer mu.Unlock()
		for _, pr := range prs {
			for _, buyer := range assignees(pr) {
				counts[buyer]++
			}
		}
	}
	tally(first)

	pages := (total + recomputePageSize - 1) / recomputePageSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for page := 2; page <= pages; page++ {
		f := filter
		f.Page = page
		g.Go(func() error {
			prs, _, err := s.Store.List(gctx, f)
			if err != nil {
				return err
			}
			tally(prs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.Workload != nil {
		if err := s.Workload.Replace(ctx, counts); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "replace workload counters")
		}
	}
	s.Log.Debug().Int("buyers", len(counts)).Int("requests", total).Msg("Buyer workload recomputed")
	return counts, nil
}

// BuyerLoad is one row of the buyer workload view.
type BuyerLoad struct {
	BuyerID      string `json:"buyer_id"`
	OpenRequests int64  `json:"open_requests"`
}

// BuyerWorkload lists open requests per active buyer for the leaders who
// rebalance work. Counters come from the workload tracker when configured,
// otherwise they are counted from the store.
func (s *ReassignmentService) BuyerWorkload(ctx context.Context, actor workflow.Actor) (out []BuyerLoad, err error) {
	ctx, finish := s.begin(ctx, "buyer_workload", "")
	defer func() { finish(err) }()

	if _, err := s.authenticate(ctx, actor); err != nil {
		return nil, err
	}
	if actor.Role != workflow.RoleBuyerLeader && actor.Role != workflow.RoleBranchManager {
		return nil, errors.Forbidden("only a buyer leader or branch manager may view buyer workload").
			WithDetail("acting_role", string(actor.Role))
	}

	var counts map[string]int64
	if s.Workload != nil {
		if counts, err = s.Workload.Counts(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "read workload counters")
		}
	} else if counts, err = s.RecomputeWorkload(ctx); err != nil {
		return nil, err
	}

	buyers, err := s.Identity.UsersWithRole(ctx, workflow.RoleBuyer)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list buyers")
	}
	seen := make(map[string]bool, len(buyers))
	for _, b := range buyers {
		if !b.Active {
			continue
		}
		seen[b.ID] = true
		out = append(out, BuyerLoad{BuyerID: b.ID, OpenRequests: counts[b.ID]})
	}
	// Work still held by buyers who left the directory stays visible.
	for id, n := range counts {
		if !seen[id] && n > 0 {
			out = append(out, BuyerLoad{BuyerID: id, OpenRequests: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuyerID < out[j].BuyerID })
	return out, nil
}

// RunWorkloadRecompute recomputes on every tick until ctx ends. Failures are
// logged and retried on the next tick.
func (s *ReassignmentService) RunWorkloadRecompute(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := s.RecomputeWorkload(ctx); err != nil && ctx.Err() == nil {
			s.Log.Warn().Err(err).Msg("Buyer workload recompute failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

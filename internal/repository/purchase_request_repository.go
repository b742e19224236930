package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/database"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// PurchaseRequestRepository is the Postgres store. A request and its children
// are always written in one transaction, and Update holds a row lock on the
// request for the whole read-modify-write.
type PurchaseRequestRepository struct {
	db *database.DB
}

// NewPurchaseRequestRepository creates a new PurchaseRequestRepository.
func NewPurchaseRequestRepository(db *database.DB) *PurchaseRequestRepository {
	return &PurchaseRequestRepository{db: db}
}

// querier is satisfied by both *database.DB and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectRequest = `
	SELECT id, number, department, branch, pr_type, currency,
	       tax_rate::text, total_amount::text, required_date,
	       purpose, notes, requestor_id, assigned_buyer_id,
	       status, status_changed_at, version, created_at, updated_at
	FROM purchase_requests p
`

// Create inserts a request with its items and timeline in one transaction.
func (r *PurchaseRequestRepository) Create(ctx context.Context, pr *PurchaseRequest) error {
	if pr.Version == 0 {
		pr.Version = 1
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO purchase_requests
			    (id, number, department, branch, pr_type, currency,
			     tax_rate, total_amount, required_date,
			     purpose, notes, requestor_id, assigned_buyer_id,
			     status, status_changed_at, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7::numeric, $8::numeric, $9,
			        $10, $11, $12, $13,
			        $14, $15, $16, $17, $18)
		`
		_, err := tx.Exec(ctx, query,
			pr.ID, pr.Number, pr.Department, pr.Branch, string(pr.Type), pr.Currency,
			pr.TaxRate.String(), pr.TotalAmount.String(), pr.RequiredDate,
			pr.Purpose, pr.Notes, pr.RequestorID, pr.AssignedBuyerID,
			string(pr.Status), pr.StatusChangedAt, pr.Version, pr.CreatedAt, pr.UpdatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				return errors.Wrap(err, errors.ErrCodeConflict, "purchase request already exists")
			}
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create purchase request")
		}

		if err := r.insertItems(ctx, tx, pr.ID, pr.Items); err != nil {
			return err
		}
		return r.insertTimeline(ctx, tx, pr.ID, pr.Timeline)
	})
}

// Get loads a request with all of its children from a single snapshot.
func (r *PurchaseRequestRepository) Get(ctx context.Context, id string) (*PurchaseRequest, error) {
	var pr *PurchaseRequest
	err := r.db.InReadTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		pr, err = r.load(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, asInternal(err, "failed to load purchase request")
	}
	return pr, nil
}

// Update locks the request row, applies fn to the loaded aggregate and
// writes back the header plus whatever children fn added. An error from fn
// rolls everything back.
func (r *PurchaseRequestRepository) Update(ctx context.Context, id string, fn func(pr *PurchaseRequest) error) (*PurchaseRequest, error) {
	var updated *PurchaseRequest
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		pr, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		before := pr.Clone()

		if err := fn(pr); err != nil {
			return err
		}
		pr.Version = before.Version + 1

		if err := r.persist(ctx, tx, before, pr); err != nil {
			return err
		}
		updated = pr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns headers, items and budget exceptions for the requested page.
func (r *PurchaseRequestRepository) List(ctx context.Context, filter ListFilter) ([]*PurchaseRequest, int, error) {
	f := filter.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			names[i] = string(s)
		}
		where = append(where, "p.status = ANY("+arg(names)+")")
	}
	if f.Department != "" {
		where = append(where, "upper(p.department) = upper("+arg(f.Department)+")")
	}
	if f.Branch != "" {
		where = append(where, "upper(p.branch) = upper("+arg(f.Branch)+")")
	}
	if f.RequestorID != "" {
		where = append(where, "p.requestor_id = "+arg(f.RequestorID))
	}
	if f.AssigneeID != "" {
		ph := arg(f.AssigneeID)
		where = append(where, "(p.assigned_buyer_id = "+ph+
			" OR EXISTS (SELECT 1 FROM purchase_request_items i WHERE i.pr_id = p.id AND i.assignee_id = "+ph+"))")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var (
		prs   []*PurchaseRequest
		total int
	)
	err := r.db.InReadTransaction(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM purchase_requests p"+clause, args...).Scan(&total); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to count purchase requests")
		}

		query := selectRequest + clause +
			" ORDER BY p.created_at DESC, p.number DESC LIMIT " + arg(f.PageSize) +
			" OFFSET " + arg((f.Page-1)*f.PageSize)

		var err error
		if prs, err = r.scanPage(ctx, tx, query, args); err != nil {
			return err
		}
		if len(prs) == 0 {
			return nil
		}

		ids := make([]string, len(prs))
		for i, pr := range prs {
			ids[i] = pr.ID
		}
		items, err := r.loadItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		exceptions, err := r.loadExceptions(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, pr := range prs {
			pr.Items = items[pr.ID]
			pr.BudgetException = exceptions[pr.ID]
		}
		return nil
	})
	if err != nil {
		return nil, 0, asInternal(err, "failed to list purchase requests")
	}
	if prs == nil {
		prs = []*PurchaseRequest{}
	}
	return prs, total, nil
}

// scanPage reads one page of headers. The rows are closed before returning so
// the transaction can run the child queries.
func (r *PurchaseRequestRepository) scanPage(ctx context.Context, q querier, query string, args []any) ([]*PurchaseRequest, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list purchase requests")
	}
	defer rows.Close()

	var prs []*PurchaseRequest
	for rows.Next() {
		pr, err := r.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate purchase requests")
	}
	return prs, nil
}

// asInternal keeps coded errors and wraps transaction plumbing failures.
func asInternal(err error, msg string) error {
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

// NextNumber increments and returns the department counter.
func (r *PurchaseRequestRepository) NextNumber(ctx context.Context, department string) (int64, error) {
	query := `
		INSERT INTO pr_number_sequences (department, last_value)
		VALUES ($1, 1)
		ON CONFLICT (department)
		DO UPDATE SET last_value = pr_number_sequences.last_value + 1
		RETURNING last_value
	`
	var seq int64
	if err := r.db.QueryRow(ctx, query, strings.ToUpper(department)).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate purchase request number")
	}
	return seq, nil
}

// ── load / persist ──────────────────────────────────────────────────────────

func (r *PurchaseRequestRepository) load(ctx context.Context, q querier, id string, forUpdate bool) (*PurchaseRequest, error) {
	query := selectRequest + " WHERE p.id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	pr, err := r.scanRequest(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("purchase_request", id)
	}
	if err != nil {
		return nil, err
	}

	ids := []string{id}
	items, err := r.loadItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	exceptions, err := r.loadExceptions(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	pr.Items = items[id]
	pr.BudgetException = exceptions[id]

	if pr.Timeline, err = r.loadTimeline(ctx, q, id); err != nil {
		return nil, err
	}
	if pr.Reassignments, err = r.loadReassignments(ctx, q, id); err != nil {
		return nil, err
	}
	return pr, nil
}

func (r *PurchaseRequestRepository) persist(ctx context.Context, tx pgx.Tx, before, after *PurchaseRequest) error {
	query := `
		UPDATE purchase_requests
		SET department        = $3,
		    branch            = $4,
		    pr_type           = $5,
		    currency          = $6,
		    tax_rate          = $7::numeric,
		    total_amount      = $8::numeric,
		    required_date     = $9,
		    purpose           = $10,
		    notes             = $11,
		    assigned_buyer_id = $12,
		    status            = $13,
		    status_changed_at = $14,
		    version           = $15,
		    updated_at        = $16
		WHERE id = $1 AND version = $2
	`
	tag, err := tx.Exec(ctx, query,
		after.ID, before.Version,
		after.Department, after.Branch, string(after.Type), after.Currency,
		after.TaxRate.String(), after.TotalAmount.String(), after.RequiredDate,
		after.Purpose, after.Notes, after.AssignedBuyerID,
		string(after.Status), after.StatusChangedAt, after.Version, after.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update purchase request")
	}
	if tag.RowsAffected() != 1 {
		return errors.StaleState(string(after.Status), "update")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM purchase_request_items WHERE pr_id = $1`, after.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace purchase request items")
	}
	if err := r.insertItems(ctx, tx, after.ID, after.Items); err != nil {
		return err
	}

	if len(after.Timeline) > len(before.Timeline) {
		if err := r.insertTimeline(ctx, tx, after.ID, after.Timeline[len(before.Timeline):]); err != nil {
			return err
		}
	}
	if after.BudgetException != nil {
		if err := r.upsertException(ctx, tx, after.ID, after.BudgetException); err != nil {
			return err
		}
	}
	if len(after.Reassignments) > len(before.Reassignments) {
		if err := r.insertReassignments(ctx, tx, after.ID, after.Reassignments[len(before.Reassignments):]); err != nil {
			return err
		}
	}
	return nil
}

// ── children ────────────────────────────────────────────────────────────────

func (r *PurchaseRequestRepository) insertItems(ctx context.Context, tx pgx.Tx, prID string, items []PRItem) error {
	query := `
		INSERT INTO purchase_request_items
		    (id, pr_id, line_number, description,
		     quantity, unit_price, amount, assignee_id)
		VALUES ($1, $2, $3, $4,
		        $5::numeric, $6::numeric, $7::numeric, $8)
	`
	for _, it := range items {
		_, err := tx.Exec(ctx, query,
			it.ID, prID, it.LineNumber, it.Description,
			it.Quantity.String(), it.UnitPrice.String(), it.Amount.String(), it.AssigneeID,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert purchase request item")
		}
	}
	return nil
}

func (r *PurchaseRequestRepository) insertTimeline(ctx context.Context, tx pgx.Tx, prID string, entries []TimelineEntry) error {
	query := `
		INSERT INTO purchase_request_timeline
		    (id, pr_id, sequence, entry_type, action,
		     from_status, status, actor_id, actor_role,
		     comment, occurred_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9,
		        $10, $11)
	`
	for _, e := range entries {
		_, err := tx.Exec(ctx, query,
			e.ID, prID, e.Sequence, string(e.Type), string(e.Action),
			string(e.FromStatus), string(e.Status), e.ActorID, string(e.ActorRole),
			e.Comment, e.Timestamp,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append timeline entry")
		}
	}
	return nil
}

func (r *PurchaseRequestRepository) upsertException(ctx context.Context, tx pgx.Tx, prID string, be *BudgetException) error {
	query := `
		INSERT INTO purchase_request_budget_exceptions
		    (pr_id, requested_amount, quoted_amount, variance,
		     resolution, raised_by, raised_at,
		     resolved_by, resolved_at, comment)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric,
		        $5, $6, $7,
		        $8, $9, $10)
		ON CONFLICT (pr_id) DO UPDATE
		SET resolution  = EXCLUDED.resolution,
		    resolved_by = EXCLUDED.resolved_by,
		    resolved_at = EXCLUDED.resolved_at,
		    comment     = EXCLUDED.comment
	`
	_, err := tx.Exec(ctx, query,
		prID, be.RequestedAmount.String(), be.QuotedAmount.String(), be.Variance.String(),
		string(be.Resolution), be.RaisedBy, be.RaisedAt,
		be.ResolvedBy, be.ResolvedAt, be.Comment,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to store budget exception")
	}
	return nil
}

func (r *PurchaseRequestRepository) insertReassignments(ctx context.Context, tx pgx.Tx, prID string, recs []ReassignmentRecord) error {
	query := `
		INSERT INTO purchase_request_reassignments
		    (id, pr_id, from_buyer_id, to_buyer_id, reason, item_ids, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, rec := range recs {
		itemIDs := rec.ItemIDs
		if itemIDs == nil {
			itemIDs = []string{}
		}
		_, err := tx.Exec(ctx, query,
			rec.ID, prID, rec.FromBuyerID, rec.ToBuyerID, rec.Reason, itemIDs, rec.ActorID, rec.Timestamp,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to store reassignment")
		}
	}
	return nil
}

func (r *PurchaseRequestRepository) loadItems(ctx context.Context, q querier, prIDs []string) (map[string][]PRItem, error) {
	query := `
		SELECT pr_id, id, line_number, description,
		       quantity::text, unit_price::text, amount::text, assignee_id
		FROM purchase_request_items
		WHERE pr_id = ANY($1)
		ORDER BY pr_id, line_number
	`
	rows, err := q.Query(ctx, query, prIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load purchase request items")
	}
	defer rows.Close()

	out := make(map[string][]PRItem)
	for rows.Next() {
		var (
			prID                   string
			it                     PRItem
			qty, unitPrice, amount string
		)
		if err := rows.Scan(&prID, &it.ID, &it.LineNumber, &it.Description, &qty, &unitPrice, &amount, &it.AssigneeID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchase request item")
		}
		if it.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored quantity")
		}
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored unit price")
		}
		if it.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored amount")
		}
		out[prID] = append(out[prID], it)
	}
	return out, rows.Err()
}

func (r *PurchaseRequestRepository) loadExceptions(ctx context.Context, q querier, prIDs []string) (map[string]*BudgetException, error) {
	query := `
		SELECT pr_id, requested_amount::text, quoted_amount::text, variance::text,
		       resolution, raised_by, raised_at, resolved_by, resolved_at, comment
		FROM purchase_request_budget_exceptions
		WHERE pr_id = ANY($1)
	`
	rows, err := q.Query(ctx, query, prIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load budget exceptions")
	}
	defer rows.Close()

	out := make(map[string]*BudgetException)
	for rows.Next() {
		var (
			prID, requested, quoted, variance, resolution string
			be                                            BudgetException
		)
		if err := rows.Scan(&prID, &requested, &quoted, &variance, &resolution,
			&be.RaisedBy, &be.RaisedAt, &be.ResolvedBy, &be.ResolvedAt, &be.Comment); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan budget exception")
		}
		be.Resolution = Resolution(resolution)
		if be.RequestedAmount, err = decimal.NewFromString(requested); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored requested amount")
		}
		if be.QuotedAmount, err = decimal.NewFromString(quoted); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored quoted amount")
		}
		if be.Variance, err = decimal.NewFromString(variance); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored variance")
		}
		out[prID] = &be
	}
	return out, rows.Err()
}

func (r *PurchaseRequestRepository) loadTimeline(ctx context.Context, q querier, prID string) ([]TimelineEntry, error) {
	query := `
		SELECT id, sequence, entry_type, action, from_status, status,
		       actor_id, actor_role, comment, occurred_at
		FROM purchase_request_timeline
		WHERE pr_id = $1
		ORDER BY sequence ASC
	`
	rows, err := q.Query(ctx, query, prID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load timeline")
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var (
			e                                 TimelineEntry
			entryType, action, from, to, role string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &entryType, &action, &from, &to,
			&e.ActorID, &role, &e.Comment, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan timeline entry")
		}
		e.Type = EntryType(entryType)
		e.Action = workflow.Action(action)
		e.ActorRole = workflow.Role(role)
		if from != "" {
			if e.FromStatus, err = workflow.ParseStatus(from); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored status")
			}
		}
		if e.Status, err = workflow.ParseStatus(to); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored status")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PurchaseRequestRepository) loadReassignments(ctx context.Context, q querier, prID string) ([]ReassignmentRecord, error) {
	query := `
		SELECT id, from_buyer_id, to_buyer_id, reason, item_ids, actor_id, occurred_at
		FROM purchase_request_reassignments
		WHERE pr_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := q.Query(ctx, query, prID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load reassignments")
	}
	defer rows.Close()

	var recs []ReassignmentRecord
	for rows.Next() {
		var rec ReassignmentRecord
		if err := rows.Scan(&rec.ID, &rec.FromBuyerID, &rec.ToBuyerID, &rec.Reason, &rec.ItemIDs, &rec.ActorID, &rec.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan reassignment")
		}
		if len(rec.ItemIDs) == 0 {
			rec.ItemIDs = nil
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ── scan helper ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *PurchaseRequestRepository) scanRequest(row requestScanner) (*PurchaseRequest, error) {
	var (
		pr                         PurchaseRequest
		prType, taxRate, total, st string
		requiredDate               *time.Time
	)
	err := row.Scan(
		&pr.ID,
		&pr.Number,
		&pr.Department,
		&pr.Branch,
		&prType,
		&pr.Currency,
		&taxRate,
		&total,
		&requiredDate,
		&pr.Purpose,
		&pr.Notes,
		&pr.RequestorID,
		&pr.AssignedBuyerID,
		&st,
		&pr.StatusChangedAt,
		&pr.Version,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchase request")
	}

	pr.Type = PRType(prType)
	pr.RequiredDate = requiredDate
	if pr.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored tax rate")
	}
	if pr.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored total")
	}
	if pr.Status, err = workflow.ParseStatus(st); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored status")
	}
	return &pr, nil
}

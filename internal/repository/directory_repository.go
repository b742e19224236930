package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/database"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// DirectoryRepository reads the user directory replicated from the portal's
// identity service into directory_users.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

const selectUser = `
	SELECT id, display_name, roles, department, branch, buyer_categories, active
	FROM directory_users
`

// ResolveUser returns one user.
func (r *DirectoryRepository) ResolveUser(ctx context.Context, userID string) (*DirectoryUser, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx, selectUser+" WHERE id = $1", userID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", userID)
	}
	return u, err
}

// UsersWithRole returns active and inactive users holding role.
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role workflow.Role) ([]*DirectoryUser, error) {
	rows, err := r.db.Query(ctx, selectUser+" WHERE $1 = ANY(roles) ORDER BY id", string(role))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users by role")
	}
	defer rows.Close()

	var users []*DirectoryUser
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert writes a user. Used by the directory sync job and integration tests.
func (r *DirectoryRepository) Upsert(ctx context.Context, u *DirectoryUser) error {
	roles := make([]string, len(u.Roles))
	for i, role := range u.Roles {
		roles[i] = string(role)
	}
	categories := u.BuyerCategories
	if categories == nil {
		categories = []string{}
	}

	query := `
		INSERT INTO directory_users
		    (id, display_name, roles, department, branch, buyer_categories, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET display_name     = EXCLUDED.display_name,
		    roles            = EXCLUDED.roles,
		    department       = EXCLUDED.department,
		    branch           = EXCLUDED.branch,
		    buyer_categories = EXCLUDED.buyer_categories,
		    active           = EXCLUDED.active
	`
	_, err := r.db.Exec(ctx, query, u.ID, u.DisplayName, roles, u.Department, u.Branch, categories, u.Active)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert directory user")
}

type userScanner interface {
	Scan(dest ...any) error
}

func (r *DirectoryRepository) scanUser(row userScanner) (*DirectoryUser, error) {
	var (
		u     DirectoryUser
		roles []string
	)
	err := row.Scan(&u.ID, &u.DisplayName, &roles, &u.Department, &u.Branch, &u.BuyerCategories, &u.Active)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan directory user")
	}
	for _, name := range roles {
		if role, ok := workflow.ParseRole(name); ok {
			u.Roles = append(u.Roles, role)
		}
	}
	return &u, nil
}

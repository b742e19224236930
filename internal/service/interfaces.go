package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// PurchaseRequestStore persists the aggregate. Update must run fn on a private
// copy under a per-request exclusion boundary and persist all-or-nothing.
type PurchaseRequestStore interface {
	Create(ctx context.Context, pr *repository.PurchaseRequest) error
	Get(ctx context.Context, id string) (*repository.PurchaseRequest, error)
	Update(ctx context.Context, id string, fn func(*repository.PurchaseRequest) error) (*repository.PurchaseRequest, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*repository.PurchaseRequest, int, error)
	NextNumber(ctx context.Context, department string) (int64, error)
}

// IdentityDirectory answers who a user is and what they may do.
type IdentityDirectory interface {
	ResolveUser(ctx context.Context, userID string) (*repository.DirectoryUser, error)
	UsersWithRole(ctx context.Context, role workflow.Role) ([]*repository.DirectoryUser, error)
}

// Notifier delivers lifecycle events. It must never block or fail the caller.
type Notifier interface {
	Publish(ctx context.Context, event *client.NotificationEvent)
}

// WorkloadTracker keeps per-buyer open request counts.
type WorkloadTracker interface {
	Move(ctx context.Context, fromBuyerID, toBuyerID string, n int64) error
	Replace(ctx context.Context, counts map[string]int64) error
	Counts(ctx context.Context) (map[string]int64, error)
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

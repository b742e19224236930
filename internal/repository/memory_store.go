package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// MemoryStore keeps purchase requests in process. Each request has its own
// mutex so updates to one request never wait on another.
type MemoryStore struct {
	mu      sync.RWMutex
	prs     map[string]*PurchaseRequest
	locks   map[string]*sync.Mutex
	numbers map[string]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prs:     make(map[string]*PurchaseRequest),
		locks:   make(map[string]*sync.Mutex),
		numbers: make(map[string]int64),
	}
}

func (s *MemoryStore) Create(_ context.Context, pr *PurchaseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prs[pr.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "purchase request already exists").WithDetail("id", pr.ID)
	}
	for _, other := range s.prs {
		if other.Number == pr.Number {
			return errors.New(errors.ErrCodeConflict, "purchase request number already used").WithDetail("number", pr.Number)
		}
	}
	stored := pr.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	pr.Version = stored.Version
	s.prs[pr.ID] = stored
	s.locks[pr.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pr, ok := s.prs[id]
	if !ok {
		return nil, errors.NotFound("purchase_request", id)
	}
	return pr.Clone(), nil
}

// Update runs fn on a copy of the request while holding the request's lock
// and stores the copy only when fn succeeds.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(pr *PurchaseRequest) error) (*PurchaseRequest, error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("purchase_request", id)
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	working := s.prs[id].Clone()
	s.mu.RUnlock()

	prevVersion := working.Version
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version = prevVersion + 1

	s.mu.Lock()
	s.prs[id] = working.Clone()
	s.mu.Unlock()
	return working, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*PurchaseRequest, int, error) {
	s.mu.RLock()
	all := make([]*PurchaseRequest, 0, len(s.prs))
	for _, pr := range s.prs {
		all = append(all, pr)
	}
	s.mu.RUnlock()

	page, total := filterAndPage(all, filter)
	return page, total, nil
}

func (s *MemoryStore) NextNumber(_ context.Context, department string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToUpper(department)
	s.numbers[key]++
	return s.numbers[key], nil
}

// filterAndPage applies filter to prs, newest first, and returns summaries of
// the requested page together with the total match count.
func filterAndPage(prs []*PurchaseRequest, filter ListFilter) ([]*PurchaseRequest, int) {
	f := filter.Normalize()

	matched := make([]*PurchaseRequest, 0)
	for _, pr := range prs {
		if f.Matches(pr) {
			matched = append(matched, pr)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Number > matched[j].Number
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.PageSize
	if start >= total {
		return []*PurchaseRequest{}, total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}

	out := make([]*PurchaseRequest, 0, end-start)
	for _, pr := range matched[start:end] {
		out = append(out, summary(pr))
	}
	return out, total
}

// summary drops the history collections that List does not return.
func summary(pr *PurchaseRequest) *PurchaseRequest {
	c := pr.Clone()
	c.Timeline = nil
	c.Reassignments = nil
	return c
}

// ── Directory ───────────────────────────────────────────────────────────────

// MemoryDirectory is an in-process user directory for tests and local runs.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*DirectoryUser
}

// NewMemoryDirectory seeds a directory with users.
func NewMemoryDirectory(users ...*DirectoryUser) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]*DirectoryUser)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u *DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	cp.Roles = append([]workflow.Role(nil), u.Roles...)
	cp.BuyerCategories = append([]string(nil), u.BuyerCategories...)
	d.users[u.ID] = &cp
}

func (d *MemoryDirectory) ResolveUser(_ context.Context, userID string) (*DirectoryUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, errors.NotFound("user", userID)
	}
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) UsersWithRole(_ context.Context, role workflow.Role) ([]*DirectoryUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*DirectoryUser
	for _, u := range d.users {
		if u.HasRole(role) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

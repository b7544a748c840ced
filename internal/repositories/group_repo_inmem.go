package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpiotaix/userbundle/internal/models"
)

// MemoryGroupRepository mirrors GroupRepository in process
type MemoryGroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*models.Group
	now    func() time.Time
}

func NewMemoryGroupRepository() *MemoryGroupRepository {
	return &MemoryGroupRepository{
		groups: map[string]*models.Group{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryGroupRepository) GetByID(_ context.Context, id string) (*models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if g, ok := r.groups[id]; ok {
		return g.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (r *MemoryGroupRepository) FindByName(_ context.Context, name string) (*models.Group, error) {
	name = models.NormalizeIdentifier(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range r.groups {
		if g.Name == name {
			return g.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryGroupRepository) GetByIDs(_ context.Context, ids []string) ([]*models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.groups[id]; ok {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

// List orders by name like the postgres store
func (r *MemoryGroupRepository) List(_ context.Context, limit, offset int) ([]*models.Group, error) {
	r.mu.RLock()
	all := make([]*models.Group, 0, len(r.groups))
	for _, g := range r.groups {
		all = append(all, g.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	if offset >= len(all) {
		return []*models.Group{}, nil
	}
	end := len(all)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *MemoryGroupRepository) Create(_ context.Context, g *models.Group) (*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(g.Name, "") {
		return nil, models.ErrConflict
	}

	now := r.now()
	stored := g.Clone()
	stored.ID = uuid.New().String()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Roles == nil {
		stored.Roles = []string{}
	}

	r.groups[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryGroupRepository) Save(_ context.Context, g *models.Group) (*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.groups[g.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.Version != g.Version {
		return nil, models.ErrStaleAccount
	}
	if r.nameTaken(g.Name, g.ID) {
		return nil, models.ErrConflict
	}

	stored := g.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.Version = current.Version + 1
	stored.UpdatedAt = r.now()

	r.groups[stored.ID] = stored
	return stored.Clone(), nil
}

// nameTaken is called with the lock held
func (r *MemoryGroupRepository) nameTaken(name, skipID string) bool {
	for id, other := range r.groups {
		if id != skipID && other.Name == name {
			return true
		}
	}
	return false
}

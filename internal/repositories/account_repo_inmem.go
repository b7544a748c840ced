package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpiotaix/userbundle/internal/models"
)

// MemoryAccountRepository is an in-process account store with the same
// uniqueness and compare-and-set guarantees as the postgres one. Accounts are
// cloned on the way in and out.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	now      func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: map[string]*models.Account{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if acc, ok := r.accounts[id]; ok {
		return acc.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (r *MemoryAccountRepository) FindByUsername(_ context.Context, username string) (*models.Account, error) {
	username = models.NormalizeIdentifier(username)
	return r.findFirst(func(a *models.Account) bool { return a.Username == username })
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	email = models.NormalizeIdentifier(email)
	return r.findFirst(func(a *models.Account) bool { return a.Email == email })
}

func (r *MemoryAccountRepository) FindByConfirmationToken(_ context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return r.findFirst(func(a *models.Account) bool { return a.ConfirmationToken == token })
}

func (r *MemoryAccountRepository) FindByResetToken(_ context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return r.findFirst(func(a *models.Account) bool { return a.ResetToken == token })
}

func (r *MemoryAccountRepository) findFirst(match func(*models.Account) bool) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, acc := range r.accounts {
		if match(acc) {
			return acc.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

// List orders newest first like the postgres store
func (r *MemoryAccountRepository) List(_ context.Context, limit, offset int) ([]*models.Account, error) {
	r.mu.RLock()
	all := make([]*models.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		all = append(all, acc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.Account{}, nil
	}
	end := len(all)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *MemoryAccountRepository) Create(_ context.Context, acc *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(acc, "") {
		return nil, models.ErrConflict
	}

	now := r.now()
	stored := acc.Clone()
	stored.ID = uuid.New().String()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if len(stored.Roles) == 0 {
		stored.Roles = []string{models.RoleUser}
	}

	r.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryAccountRepository) Save(_ context.Context, acc *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.accounts[acc.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.Version != acc.Version {
		return nil, models.ErrStaleAccount
	}
	if r.conflicts(acc, acc.ID) {
		return nil, models.ErrConflict
	}

	stored := acc.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.Version = current.Version + 1
	stored.UpdatedAt = r.now()

	r.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryAccountRepository) CancelExpiredResets(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared int64
	for _, acc := range r.accounts {
		if acc.PasswordRequestedAt == nil || !acc.PasswordRequestedAt.Before(cutoff) {
			continue
		}
		acc.ResetToken = ""
		acc.PasswordRequestedAt = nil
		acc.Version++
		acc.UpdatedAt = r.now()
		cleared++
	}
	return cleared, nil
}

// conflicts checks the unique columns against every account but skipID. Caller holds the lock.
func (r *MemoryAccountRepository) conflicts(acc *models.Account, skipID string) bool {
	for id, other := range r.accounts {
		if id == skipID {
			continue
		}
		if other.Username == acc.Username || other.Email == acc.Email {
			return true
		}
		if acc.ConfirmationToken != "" && other.ConfirmationToken == acc.ConfirmationToken {
			return true
		}
		if acc.ResetToken != "" && other.ResetToken == acc.ResetToken {
			return true
		}
	}
	return false
}

package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/pkg/auth"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc                 func(ctx context.Context, id string) (*models.Account, error)
	FindByUsernameFunc          func(ctx context.Context, username string) (*models.Account, error)
	FindByEmailFunc             func(ctx context.Context, email string) (*models.Account, error)
	FindByConfirmationTokenFunc func(ctx context.Context, token string) (*models.Account, error)
	FindByResetTokenFunc        func(ctx context.Context, token string) (*models.Account, error)
	ListFunc                    func(ctx context.Context, limit, offset int) ([]*models.Account, error)
	CreateFunc                  func(ctx context.Context, acc *models.Account) (*models.Account, error)
	SaveFunc                    func(ctx context.Context, acc *models.Account) (*models.Account, error)
	CancelExpiredResetsFunc     func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.FindByEmailFunc != nil {
		return m.FindByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) FindByConfirmationToken(ctx context.Context, token string) (*models.Account, error) {
	if m.FindByConfirmationTokenFunc != nil {
		return m.FindByConfirmationTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) FindByResetToken(ctx context.Context, token string) (*models.Account, error) {
	if m.FindByResetTokenFunc != nil {
		return m.FindByResetTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Account{}, nil
}

func (m *MockAccountRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, acc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) Save(ctx context.Context, acc *models.Account) (*models.Account, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, acc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) CancelExpiredResets(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.CancelExpiredResetsFunc != nil {
		return m.CancelExpiredResetsFunc(ctx, cutoff)
	}
	return 0, nil
}

// FakeClock is a settable Clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequenceTokens yields T1, T2, ... so tests can predict issued tokens
type SequenceTokens struct {
	mu   sync.Mutex
	next int
}

func (g *SequenceTokens) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("T%d", g.next), nil
}

// FailingTokens simulates an entropy failure
type FailingTokens struct{}

func (FailingTokens) Generate() (string, error) {
	return "", fmt.Errorf("entropy source unavailable")
}

// MockThrottle implements limiter.Throttle for testing
type MockThrottle struct {
	AllowFunc func(ctx context.Context, key string) error
}

func (m *MockThrottle) Allow(ctx context.Context, key string) error {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key)
	}
	return nil
}

// NewTestHasher uses bcrypt at minimum cost so tests stay fast
func NewTestHasher() *auth.CredentialHasher {
	hasher, err := auth.NewCredentialHasher(auth.DefaultEncoderFactory(), auth.HasherConfig{
		Algorithm:  auth.AlgorithmBcrypt,
		Iterations: 4,
	})
	if err != nil {
		panic(err)
	}
	return hasher
}

func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockGroupRepository implements GroupRepository for testing
type MockGroupRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.Group, error)
	FindByNameFunc func(ctx context.Context, name string) (*models.Group, error)
	GetByIDsFunc   func(ctx context.Context, ids []string) ([]*models.Group, error)
	ListFunc       func(ctx context.Context, limit, offset int) ([]*models.Group, error)
	CreateFunc     func(ctx context.Context, g *models.Group) (*models.Group, error)
	SaveFunc       func(ctx context.Context, g *models.Group) (*models.Group, error)
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockGroupRepository) FindByName(ctx context.Context, name string) (*models.Group, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(ctx, name)
	}
	return nil, models.ErrNotFound
}

func (m *MockGroupRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Group, error) {
	if m.GetByIDsFunc != nil {
		return m.GetByIDsFunc(ctx, ids)
	}
	return []*models.Group{}, nil
}

func (m *MockGroupRepository) List(ctx context.Context, limit, offset int) ([]*models.Group, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Group{}, nil
}

func (m *MockGroupRepository) Create(ctx context.Context, g *models.Group) (*models.Group, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, g)
	}
	return nil, models.ErrInternalServer
}

func (m *MockGroupRepository) Save(ctx context.Context, g *models.Group) (*models.Group, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, g)
	}
	return nil, models.ErrInternalServer
}

package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(username, email string) *models.Account {
	cred := auth.Credential{Digest: "d", Salt: "s", Algorithm: auth.AlgorithmSHA512, Iterations: 1}
	return models.NewAccount(username, email, cred, true)
}

func TestMemoryAccountRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newAccount("alice", "alice@x.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	byName, err := repo.FindByUsername(ctx, " ALICE ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byEmail, err := repo.FindByEmail(ctx, "Alice@X.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = repo.FindByUsername(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.FindByConfirmationToken(ctx, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryAccountRepository_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	_, err := repo.Create(ctx, newAccount("alice", "alice@x.com"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newAccount("alice", "other@x.com"))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.Create(ctx, newAccount("other", "alice@x.com"))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestMemoryAccountRepository_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(ctx, newAccount("user"+string(rune('a'+i)), "same@x.com"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, models.ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

func TestMemoryAccountRepository_SaveCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newAccount("alice", "alice@x.com"))
	require.NoError(t, err)

	first, _ := repo.GetByID(ctx, created.ID)
	second, _ := repo.GetByID(ctx, created.ID)

	require.NoError(t, first.IssueConfirmation("T1"))
	saved, err := repo.Save(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	require.NoError(t, second.IssueConfirmation("T2"))
	_, err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, models.ErrStaleAccount)

	found, err := repo.FindByConfirmationToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestMemoryAccountRepository_SaveUnknown(t *testing.T) {
	repo := NewMemoryAccountRepository()

	acc := newAccount("ghost", "ghost@x.com")
	acc.ID = "missing"

	_, err := repo.Save(context.Background(), acc)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryAccountRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newAccount("alice", "alice@x.com"))
	require.NoError(t, err)

	created.Username = "mallory"
	created.Roles[0] = models.RoleAdmin

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, []string{models.RoleUser}, stored.Roles)
}

func TestMemoryAccountRepository_CancelExpiredResets(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := models.NewAccount("old", "old@x.com", auth.Credential{Digest: "d"}, false)
	require.NoError(t, stale.RequestReset("R-old", now.Add(-48*time.Hour)))
	stale, err := repo.Create(ctx, stale)
	require.NoError(t, err)

	fresh := models.NewAccount("new", "new@x.com", auth.Credential{Digest: "d"}, false)
	require.NoError(t, fresh.RequestReset("R-new", now.Add(-time.Hour)))
	fresh, err = repo.Create(ctx, fresh)
	require.NoError(t, err)

	cleared, err := repo.CancelExpiredResets(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	got, _ := repo.GetByID(ctx, stale.ID)
	assert.Empty(t, got.ResetToken)
	assert.Nil(t, got.PasswordRequestedAt)
	assert.Equal(t, models.StateEnabledActive, got.State())

	got, _ = repo.GetByID(ctx, fresh.ID)
	assert.Equal(t, "R-new", got.ResetToken)
}

func TestMemoryAccountRepository_ListPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		_, err := repo.Create(ctx, newAccount(name, name+"@x.com"))
		require.NoError(t, err)
	}

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Username)
	assert.Equal(t, "b", page[1].Username)

	page, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Username)

	page, err = repo.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/rpiotaix/userbundle/internal/database/dbtest"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgres(t *testing.T) *AccountRepository {
	t.Helper()
	return NewAccountRepository(dbtest.Setup(t).DB)
}

func TestAccountRepository_Postgres(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("alice", "alice@x.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, []string{models.RoleUser}, created.Roles)
	assert.Empty(t, created.ConfirmationToken)

	t.Run("duplicate username and email conflict", func(t *testing.T) {
		_, err := repo.Create(ctx, newAccount("alice", "other@x.com"))
		assert.ErrorIs(t, err, models.ErrConflict)

		_, err = repo.Create(ctx, newAccount("other", "alice@x.com"))
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := repo.FindByUsername(ctx, "Alice")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, err = repo.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = repo.FindByResetToken(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("save is compare-and-set", func(t *testing.T) {
		first, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		second, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)

		require.NoError(t, first.IssueConfirmation("T1"))
		saved, err := repo.Save(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		require.NoError(t, second.IssueConfirmation("T2"))
		_, err = repo.Save(ctx, second)
		assert.ErrorIs(t, err, models.ErrStaleAccount)

		byToken, err := repo.FindByConfirmationToken(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byToken.ID)
	})

	t.Run("expired resets are cleared", func(t *testing.T) {
		acc, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.NoError(t, acc.Confirm())
		requested := time.Now().Add(-48 * time.Hour)
		require.NoError(t, acc.RequestReset("R1", requested))
		_, err = repo.Save(ctx, acc)
		require.NoError(t, err)

		cleared, err := repo.CancelExpiredResets(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ResetToken)
		assert.Nil(t, got.PasswordRequestedAt)
	})

	t.Run("list", func(t *testing.T) {
		_, err := repo.Create(ctx, newAccount("bob", "bob@x.com"))
		require.NoError(t, err)

		page, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Len(t, page, 2)
	})
}

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupService_CreateGroup(t *testing.T) {
	t.Run("normalizes name and dedupes roles", func(t *testing.T) {
		service := NewGroupService(repositories.NewMemoryGroupRepository(), NewTestLogger())

		g, err := service.CreateGroup(context.Background(), CreateGroupInput{
			Name:  " Editors ",
			Roles: []string{models.RoleAdmin, models.RoleAdmin},
		})

		require.NoError(t, err)
		assert.NotEmpty(t, g.ID)
		assert.Equal(t, "editors", g.Name)
		assert.Equal(t, []string{models.RoleAdmin}, g.Roles)
		assert.Equal(t, int64(1), g.Version)
	})

	t.Run("duplicate name", func(t *testing.T) {
		service := NewGroupService(repositories.NewMemoryGroupRepository(), NewTestLogger())
		_, err := service.CreateGroup(context.Background(), CreateGroupInput{Name: "editors"})
		require.NoError(t, err)

		_, err = service.CreateGroup(context.Background(), CreateGroupInput{Name: "Editors"})

		assert.ErrorIs(t, err, models.ErrDuplicateGroup)
	})

	t.Run("invalid input", func(t *testing.T) {
		service := NewGroupService(repositories.NewMemoryGroupRepository(), NewTestLogger())

		for _, in := range []CreateGroupInput{
			{Name: ""},
			{Name: "   "},
			{Name: "editors", Roles: []string{"ROLE_ROOT"}},
		} {
			_, err := service.CreateGroup(context.Background(), in)
			assert.ErrorIs(t, err, models.ErrValidation, "input %+v", in)
		}
	})
}

func TestGroupService_GetGroup(t *testing.T) {
	tests := []struct {
		name    string
		repoErr error
		wantErr error
	}{
		{"found", nil, nil},
		{"not found", models.ErrNotFound, models.ErrNotFound},
		{"storage failure", errors.New("boom"), models.ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockGroupRepository{
				GetByIDFunc: func(ctx context.Context, id string) (*models.Group, error) {
					if tt.repoErr != nil {
						return nil, tt.repoErr
					}
					return &models.Group{ID: id, Name: "editors"}, nil
				},
			}
			service := NewGroupService(repo, NewTestLogger())

			g, err := service.GetGroup(context.Background(), "grp-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "grp-1", g.ID)
		})
	}
}

func TestGroupService_ListGroupsClampsPage(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &MockGroupRepository{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Group, error) {
			gotLimit, gotOffset = limit, offset
			return []*models.Group{}, nil
		},
	}
	service := NewGroupService(repo, NewTestLogger())

	_, err := service.ListGroups(context.Background(), 1000, -1)

	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestGroupService_UpdateGroup(t *testing.T) {
	t.Run("renames and replaces roles", func(t *testing.T) {
		repo := repositories.NewMemoryGroupRepository()
		service := NewGroupService(repo, NewTestLogger())
		g, err := service.CreateGroup(context.Background(), CreateGroupInput{Name: "editors", Roles: []string{models.RoleUser}})
		require.NoError(t, err)

		updated, err := service.UpdateGroup(context.Background(), g.ID, UpdateGroupInput{
			Name:  strPtr(" Writers "),
			Roles: []string{models.RoleAdmin},
		})

		require.NoError(t, err)
		assert.Equal(t, "writers", updated.Name)
		assert.Equal(t, []string{models.RoleAdmin}, updated.Roles)
		assert.Equal(t, int64(2), updated.Version)
	})

	t.Run("name clash", func(t *testing.T) {
		repo := repositories.NewMemoryGroupRepository()
		service := NewGroupService(repo, NewTestLogger())
		g, err := service.CreateGroup(context.Background(), CreateGroupInput{Name: "editors"})
		require.NoError(t, err)
		_, err = service.CreateGroup(context.Background(), CreateGroupInput{Name: "writers"})
		require.NoError(t, err)

		_, err = service.UpdateGroup(context.Background(), g.ID, UpdateGroupInput{Name: strPtr("writers")})

		assert.ErrorIs(t, err, models.ErrDuplicateGroup)
	})

	t.Run("retries on a stale version", func(t *testing.T) {
		stale := true
		repo := &MockGroupRepository{
			GetByIDFunc: func(ctx context.Context, id string) (*models.Group, error) {
				return &models.Group{ID: id, Name: "editors", Version: 1}, nil
			},
			SaveFunc: func(ctx context.Context, g *models.Group) (*models.Group, error) {
				if stale {
					stale = false
					return nil, models.ErrStaleAccount
				}
				return g, nil
			},
		}
		service := NewGroupService(repo, NewTestLogger())

		updated, err := service.UpdateGroup(context.Background(), "grp-1", UpdateGroupInput{Roles: []string{models.RoleAdmin}})

		require.NoError(t, err)
		assert.Equal(t, []string{models.RoleAdmin}, updated.Roles)
	})

	t.Run("unknown group", func(t *testing.T) {
		service := NewGroupService(repositories.NewMemoryGroupRepository(), NewTestLogger())

		_, err := service.UpdateGroup(context.Background(), "missing", UpdateGroupInput{Roles: []string{models.RoleUser}})

		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

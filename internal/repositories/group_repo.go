package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpiotaix/userbundle/internal/database"
	"github.com/rpiotaix/userbundle/internal/models"
)

const groupColumns = `id, name, roles, version, created_at, updated_at`

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(db *database.DB) *GroupRepository {
	return &GroupRepository{pool: db.Pool}
}

func scanGroupRow(scanner rowScanner) (*models.Group, error) {
	var g models.Group
	if err := scanner.Scan(&g.ID, &g.Name, &g.Roles, &g.Version, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &g, nil
}

func scanGroupRows(rows pgx.Rows) ([]*models.Group, error) {
	defer rows.Close()

	groups := make([]*models.Group, 0)
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return groups, nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + groupColumns + ` FROM account_groups WHERE id = $1`
	return scanGroupRow(r.pool.QueryRow(ctx, query, id))
}

func (r *GroupRepository) FindByName(ctx context.Context, name string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM account_groups WHERE name = $1`
	return scanGroupRow(r.pool.QueryRow(ctx, query, models.NormalizeIdentifier(name)))
}

// GetByIDs returns the groups that exist among ids, in no particular order
func (r *GroupRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Group, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*models.Group{}, nil
	}

	query := `SELECT ` + groupColumns + ` FROM account_groups WHERE id::text = ANY($1)`
	rows, err := r.pool.Query(ctx, query, valid)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	return scanGroupRows(rows)
}

func (r *GroupRepository) List(ctx context.Context, limit, offset int) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM account_groups ORDER BY name LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	return scanGroupRows(rows)
}

// Create inserts a new group. A taken name surfaces as models.ErrConflict.
func (r *GroupRepository) Create(ctx context.Context, g *models.Group) (*models.Group, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO account_groups (id, name, roles, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		RETURNING ` + groupColumns

	return scanGroupRow(r.pool.QueryRow(ctx, query, uuid.New().String(), g.Name, roles(g.Roles), now))
}

// Save is compare-and-set on version, like AccountRepository.Save
func (r *GroupRepository) Save(ctx context.Context, g *models.Group) (*models.Group, error) {
	query := `
		UPDATE account_groups SET name = $1, roles = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
		RETURNING ` + groupColumns

	saved, err := scanGroupRow(r.pool.QueryRow(ctx, query, g.Name, roles(g.Roles), time.Now().UTC(), g.ID, g.Version))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, g.ID); getErr == nil {
			return nil, models.ErrStaleAccount
		}
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func roles(rs []string) []string {
	if rs == nil {
		return []string{}
	}
	return rs
}

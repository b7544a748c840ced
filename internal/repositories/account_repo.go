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

const accountColumns = `id, username, email, credential_digest, credential_salt, credential_algorithm,
	credential_iterations, enabled, confirmation_token, reset_token, password_requested_at,
	roles, group_ids, last_login_at, version, created_at, updated_at`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning account rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow handles nullable token columns and populates an Account from a database row
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acc models.Account
	var confirmationToken, resetToken *string

	err := scanner.Scan(
		&acc.ID, &acc.Username, &acc.Email,
		&acc.CredentialDigest, &acc.CredentialSalt, &acc.CredentialAlgorithm, &acc.CredentialIterations,
		&acc.Enabled, &confirmationToken, &resetToken, &acc.PasswordRequestedAt,
		&acc.Roles, &acc.Groups, &acc.LastLoginAt, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if confirmationToken != nil {
		acc.ConfirmationToken = *confirmationToken
	}
	if resetToken != nil {
		acc.ResetToken = *resetToken
	}

	return &acc, nil
}

func scanAccountRows(rows pgx.Rows) ([]*models.Account, error) {
	defer rows.Close()

	accounts := make([]*models.Account, 0)

	for rows.Next() {
		acc, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

// nullable maps the empty string to SQL NULL so partial unique indexes ignore it
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// groupIDs keeps the NOT NULL column satisfied for accounts without groups
func groupIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func (r *AccountRepository) findOne(ctx context.Context, column, value string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, value))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	return r.findOne(ctx, "id", id)
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, "username", models.NormalizeIdentifier(username))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, "email", models.NormalizeIdentifier(email))
}

func (r *AccountRepository) FindByConfirmationToken(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return r.findOne(ctx, "confirmation_token", token)
}

func (r *AccountRepository) FindByResetToken(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return r.findOne(ctx, "reset_token", token)
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	return scanAccountRows(rows)
}

// Create inserts a new account. Unique violations surface as models.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	now := time.Now().UTC()
	acc.ID = uuid.New().String()
	acc.Version = 1
	acc.CreatedAt = now
	acc.UpdatedAt = now
	if len(acc.Roles) == 0 {
		acc.Roles = []string{models.RoleUser}
	}

	query := `
		INSERT INTO accounts (id, username, email, credential_digest, credential_salt, credential_algorithm,
			credential_iterations, enabled, confirmation_token, reset_token, password_requested_at,
			roles, group_ids, last_login_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		acc.ID, acc.Username, acc.Email,
		acc.CredentialDigest, acc.CredentialSalt, acc.CredentialAlgorithm, acc.CredentialIterations,
		acc.Enabled, nullable(acc.ConfirmationToken), nullable(acc.ResetToken), acc.PasswordRequestedAt,
		acc.Roles, groupIDs(acc.Groups), acc.LastLoginAt, acc.Version, acc.CreatedAt, acc.UpdatedAt,
	))
}

// Save writes acc only if the stored version still equals acc.Version, then
// bumps the version. A lost race yields models.ErrStaleAccount.
func (r *AccountRepository) Save(ctx context.Context, acc *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts SET
			username = $1, email = $2,
			credential_digest = $3, credential_salt = $4, credential_algorithm = $5, credential_iterations = $6,
			enabled = $7, confirmation_token = $8, reset_token = $9, password_requested_at = $10,
			roles = $11, group_ids = $12, last_login_at = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16
		RETURNING ` + accountColumns

	saved, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		acc.Username, acc.Email,
		acc.CredentialDigest, acc.CredentialSalt, acc.CredentialAlgorithm, acc.CredentialIterations,
		acc.Enabled, nullable(acc.ConfirmationToken), nullable(acc.ResetToken), acc.PasswordRequestedAt,
		acc.Roles, groupIDs(acc.Groups), acc.LastLoginAt, time.Now().UTC(),
		acc.ID, acc.Version,
	))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, acc.ID); getErr == nil {
			return nil, models.ErrStaleAccount
		}
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// CancelExpiredResets clears reset tokens requested before cutoff and returns how many were cleared
func (r *AccountRepository) CancelExpiredResets(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE accounts SET reset_token = NULL, password_requested_at = NULL,
			version = version + 1, updated_at = NOW()
		WHERE password_requested_at IS NOT NULL AND password_requested_at < $1
	`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel expired resets: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}

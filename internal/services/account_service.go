package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rpiotaix/userbundle/internal/models"
	pkglogger "github.com/rpiotaix/userbundle/pkg/logger"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// UpdateAccountInput carries the administrative edits; nil fields are left alone
type UpdateAccountInput struct {
	Username *string  `validate:"omitempty,username"`
	Email    *string  `validate:"omitempty,email,max=254"`
	Roles    []string `validate:"omitempty,min=1,dive,oneof=ROLE_USER ROLE_ADMIN"`
	// Groups replaces the memberships; an empty non-nil slice clears them
	Groups   []string `validate:"omitempty,dive,uuid"`
}

func (in *UpdateAccountInput) normalize() {
	if in.Username != nil {
		u := models.NormalizeIdentifier(*in.Username)
		in.Username = &u
	}
	if in.Email != nil {
		e := models.NormalizeIdentifier(*in.Email)
		in.Email = &e
	}
}

// AccountService handles account lookups and administrative edits
type AccountService struct {
	repo   AccountRepository
	groups GroupRepository
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
}

func NewAccountService(repo AccountRepository, logger *slog.Logger) *AccountService {
	return &AccountService{
		repo:   repo,
		audit:  pkglogger.NewAuditLogger(logger),
		logger: logger,
	}
}

// WithGroups enables group membership and group-granted roles
func (s *AccountService) WithGroups(groups GroupRepository) *AccountService {
	s.groups = groups
	return s
}

// GetAccount retrieves an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("account not found", slog.String("account_id", id))
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account", slog.String("account_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return acc, nil
}

// GetByID returns the account with Roles widened to its effective roles, the
// union of its own and those of its groups. Used for authorization checks.
func (s *AccountService) GetByID(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.groups == nil || len(acc.Groups) == 0 {
		return acc, nil
	}

	groups, err := s.groups.GetByIDs(ctx, acc.Groups)
	if err != nil {
		s.logger.Error("failed to load account groups", slog.String("account_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	acc.Roles = acc.EffectiveRoles(groups)
	return acc, nil
}

// GetByUsername retrieves an account by its normalized username
func (s *AccountService) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	acc, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account by username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return acc, nil
}

// ListAccounts retrieves accounts newest first, clamping the page size
func (s *AccountService) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list accounts", slog.Int("limit", limit), slog.Int("offset", offset), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return accounts, nil
}

// UpdateAccount applies administrative edits. Username and email stay unique;
// a clash is reported as models.ErrDuplicate.
func (s *AccountService) UpdateAccount(ctx context.Context, id string, in UpdateAccountInput) (*models.Account, error) {
	in.normalize()
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Groups != nil {
		groups, err := s.resolveGroups(ctx, in.Groups)
		if err != nil {
			return nil, err
		}
		in.Groups = groups
	}

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		acc, err := s.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}

		if in.Username != nil {
			acc.Username = *in.Username
		}
		if in.Email != nil {
			acc.Email = *in.Email
		}
		if in.Roles != nil {
			acc.Roles = dedupe(in.Roles)
		}
		if in.Groups != nil {
			acc.Groups = in.Groups
		}

		saved, err := s.repo.Save(ctx, acc)
		switch {
		case err == nil:
			s.audit.LogSuccess(ctx, pkglogger.EventAccountUpdated, saved.ID)
			return saved, nil
		case errors.Is(err, models.ErrStaleAccount):
			continue
		case errors.Is(err, models.ErrConflict):
			return nil, models.ErrDuplicate
		case errors.Is(err, models.ErrNotFound):
			return nil, models.ErrNotFound
		default:
			s.logger.Error("failed to update account", slog.String("account_id", id), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	s.logger.Warn("account update kept losing races", slog.String("account_id", id))
	return nil, models.ErrInternalServer
}

// resolveGroups dedupes ids and checks every one names an existing group
func (s *AccountService) resolveGroups(ctx context.Context, ids []string) ([]string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return ids, nil
	}
	if s.groups == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, models.ErrUnknownGroup)
	}

	found, err := s.groups.GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to resolve groups", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if len(found) != len(ids) {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, models.ErrUnknownGroup)
	}
	return ids, nil
}

func dedupe(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

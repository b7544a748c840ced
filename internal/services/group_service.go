package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rpiotaix/userbundle/internal/models"
	pkglogger "github.com/rpiotaix/userbundle/pkg/logger"
)

// GroupRepository defines the interface for group data access
type GroupRepository interface {
	GetByID(ctx context.Context, id string) (*models.Group, error)
	FindByName(ctx context.Context, name string) (*models.Group, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Group, error)
	List(ctx context.Context, limit, offset int) ([]*models.Group, error)
	Create(ctx context.Context, g *models.Group) (*models.Group, error)
	Save(ctx context.Context, g *models.Group) (*models.Group, error)
}

type CreateGroupInput struct {
	Name  string   `validate:"required,username"`
	Roles []string `validate:"omitempty,dive,oneof=ROLE_USER ROLE_ADMIN"`
}

// UpdateGroupInput renames a group or replaces its roles; nil fields are left alone
type UpdateGroupInput struct {
	Name  *string  `validate:"omitempty,username"`
	Roles []string `validate:"omitempty,dive,oneof=ROLE_USER ROLE_ADMIN"`
}

// GroupService manages groups and the roles they grant
type GroupService struct {
	repo   GroupRepository
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
}

func NewGroupService(repo GroupRepository, logger *slog.Logger) *GroupService {
	return &GroupService{
		repo:   repo,
		audit:  pkglogger.NewAuditLogger(logger),
		logger: logger,
	}
}

// CreateGroup stores a new group. A taken name is models.ErrDuplicateGroup.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Group, error) {
	in.Name = models.NormalizeIdentifier(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	g, err := s.repo.Create(ctx, models.NewGroup(in.Name, dedupe(in.Roles)))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateGroup
		}
		s.logger.Error("failed to create group", slog.String("name", in.Name), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Log(ctx, groupEvent(pkglogger.EventGroupCreated, g))
	return g, nil
}

func (s *GroupService) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get group", slog.String("group_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return g, nil
}

// ListGroups returns groups ordered by name, clamping the page size like ListAccounts
func (s *GroupService) ListGroups(ctx context.Context, limit, offset int) ([]*models.Group, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	groups, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list groups", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return groups, nil
}

func (s *GroupService) UpdateGroup(ctx context.Context, id string, in UpdateGroupInput) (*models.Group, error) {
	if in.Name != nil {
		name := models.NormalizeIdentifier(*in.Name)
		in.Name = &name
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}

		if in.Name != nil {
			g.Name = *in.Name
		}
		if in.Roles != nil {
			g.Roles = dedupe(in.Roles)
		}

		saved, err := s.repo.Save(ctx, g)
		switch {
		case err == nil:
			s.audit.Log(ctx, groupEvent(pkglogger.EventGroupUpdated, saved))
			return saved, nil
		case errors.Is(err, models.ErrStaleAccount):
			continue
		case errors.Is(err, models.ErrConflict):
			return nil, models.ErrDuplicateGroup
		case errors.Is(err, models.ErrNotFound):
			return nil, models.ErrNotFound
		default:
			s.logger.Error("failed to update group", slog.String("group_id", id), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	s.logger.Warn("group update kept losing races", slog.String("group_id", id))
	return nil, models.ErrInternalServer
}

func groupEvent(eventType string, g *models.Group) pkglogger.AuditEvent {
	return pkglogger.AuditEvent{
		EventType: eventType,
		Success:   true,
		Metadata:  map[string]string{"group_id": g.ID, "group_name": g.Name},
	}
}

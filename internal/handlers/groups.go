package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/services"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
)

// GroupServiceInterface defines the group administration operations
type GroupServiceInterface interface {
	CreateGroup(ctx context.Context, in services.CreateGroupInput) (*models.Group, error)
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context, limit, offset int) ([]*models.Group, error)
	UpdateGroup(ctx context.Context, id string, in services.UpdateGroupInput) (*models.Group, error)
}

// GroupHandler serves the admin-only group endpoints
type GroupHandler struct {
	groups GroupServiceInterface
}

func NewGroupHandler(groups GroupServiceInterface) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// CreateGroup adds a group
// @Summary Create group
// @Security BearerAuth
// @Accept json
// @Param request body CreateGroupRequest true "Group name and roles"
// @Produce json
// @Success 201 {object} GroupResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /groups [post]
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	g, err := h.groups.CreateGroup(r.Context(), services.CreateGroupInput{Name: req.Name, Roles: req.Roles})
	if err != nil {
		writeGroupError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, groupToResponse(g))
}

// GetGroup retrieves a group by ID
// @Summary Get group
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Produce json
// @Success 200 {object} GroupResponse
// @Failure 404 {object} ErrorResponse
// @Router /groups/{id} [get]
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeGroupError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, groupToResponse(g))
}

// ListGroups retrieves a page of groups ordered by name
// @Summary List groups
// @Security BearerAuth
// @Param limit query int false "Limit (default 20, max 100)"
// @Param offset query int false "Offset (default 0)"
// @Produce json
// @Success 200 {object} ListGroupsResponse
// @Router /groups [get]
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), services.DefaultListLimit, 1, services.MaxListLimit)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid limit parameter")
		return
	}

	offset, err := parseIntParam(r.URL.Query().Get("offset"), 0, 0, 1<<20)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid offset parameter")
		return
	}

	groups, err := h.groups.ListGroups(r.Context(), limit, offset)
	if err != nil {
		writeGroupError(w, err)
		return
	}

	resp := &ListGroupsResponse{
		Groups: make([]*GroupResponse, len(groups)),
		Limit:  limit,
		Offset: offset,
	}
	for i, g := range groups {
		resp.Groups[i] = groupToResponse(g)
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// UpdateGroup renames a group or replaces its roles
// @Summary Update group
// @Security BearerAuth
// @Accept json
// @Param id path string true "Group ID"
// @Param request body UpdateGroupRequest true "Fields to change"
// @Produce json
// @Success 200 {object} GroupResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /groups/{id} [put]
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req UpdateGroupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	g, err := h.groups.UpdateGroup(r.Context(), chi.URLParam(r, "id"), services.UpdateGroupInput{
		Name:  req.Name,
		Roles: req.Roles,
	})
	if err != nil {
		writeGroupError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, groupToResponse(g))
}

func writeGroupError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteNotFound(w, "Group not found")
		return
	}
	writeServiceError(w, err)
}

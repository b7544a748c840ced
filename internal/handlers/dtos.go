package handlers

import (
	"time"

	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/models"
)

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

func (r *RegisterRequest) normalize() {
	r.Username = models.NormalizeIdentifier(r.Username)
	r.Email = models.NormalizeIdentifier(r.Email)
}

// LoginRequest accepts a username or an email as identifier
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required"`
}

// IdentifierRequest is used by reset requests and confirmation resends
type IdentifierRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

// CompleteResetRequest carries the new password for a reset token
type CompleteResetRequest struct {
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// UpdateAccountRequest is an administrative edit; omitted fields are unchanged
type UpdateAccountRequest struct {
	Username *string  `json:"username" validate:"omitempty,username"`
	Email    *string  `json:"email" validate:"omitempty,email,max=254"`
	Roles    []string `json:"roles" validate:"omitempty,min=1,dive,oneof=ROLE_USER ROLE_ADMIN"`
	Groups   []string `json:"groups" validate:"omitempty,dive,uuid"`
}

func (r *UpdateAccountRequest) normalize() {
	if r.Username != nil {
		*r.Username = models.NormalizeIdentifier(*r.Username)
	}
	if r.Email != nil {
		*r.Email = models.NormalizeIdentifier(*r.Email)
	}
}

// CreateGroupRequest represents the request body for group creation
type CreateGroupRequest struct {
	Name  string   `json:"name" validate:"required,username"`
	Roles []string `json:"roles" validate:"omitempty,dive,oneof=ROLE_USER ROLE_ADMIN"`
}

func (r *CreateGroupRequest) normalize() {
	r.Name = models.NormalizeIdentifier(r.Name)
}

// UpdateGroupRequest renames a group or replaces its roles
type UpdateGroupRequest struct {
	Name  *string  `json:"name" validate:"omitempty,username"`
	Roles []string `json:"roles" validate:"omitempty,dive,oneof=ROLE_USER ROLE_ADMIN"`
}

func (r *UpdateGroupRequest) normalize() {
	if r.Name != nil {
		*r.Name = models.NormalizeIdentifier(*r.Name)
	}
}

// Response DTOs

// AccountResponse represents an account in HTTP responses. Tokens and the
// credential never leave the service.
type AccountResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Enabled     bool       `json:"enabled"`
	State       string     `json:"state"`
	Roles       []string   `json:"roles"`
	Groups      []string   `json:"groups"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GroupResponse represents a group in HTTP responses
type GroupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListGroupsResponse represents a page of groups
type ListGroupsResponse struct {
	Groups []*GroupResponse `json:"groups"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// SessionResponse is returned once an account is authenticated
type SessionResponse struct {
	Account *AccountResponse  `json:"account"`
	Token   *auth.AccessToken `json:"token,omitempty"`
}

// RegisterResponse tells the client whether a confirmation email is on its way
type RegisterResponse struct {
	Account              *AccountResponse  `json:"account"`
	ConfirmationRequired bool              `json:"confirmation_required"`
	Token                *auth.AccessToken `json:"token,omitempty"`
}

// ResetStatusResponse describes a pending reset without consuming it
type ResetStatusResponse struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ListAccountsResponse represents a page of accounts
type ListAccountsResponse struct {
	Accounts []*AccountResponse `json:"accounts"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func accountToResponse(acc *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:          acc.ID,
		Username:    acc.Username,
		Email:       acc.Email,
		Enabled:     acc.Enabled,
		State:       string(acc.State()),
		Roles:       nonNil(acc.Roles),
		Groups:      nonNil(acc.Groups),
		LastLoginAt: acc.LastLoginAt,
		CreatedAt:   acc.CreatedAt,
		UpdatedAt:   acc.UpdatedAt,
	}
}

func groupToResponse(g *models.Group) *GroupResponse {
	return &GroupResponse{
		ID:        g.ID,
		Name:      g.Name,
		Roles:     nonNil(g.Roles),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

// nonNil keeps empty lists as [] rather than null in JSON
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

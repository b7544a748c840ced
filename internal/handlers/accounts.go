package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/services"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
)

// AccountServiceInterface defines the account lookup and administration operations
type AccountServiceInterface interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error)
	UpdateAccount(ctx context.Context, id string, in services.UpdateAccountInput) (*models.Account, error)
}

// PasswordChanger is the slice of the credential service used here
type PasswordChanger interface {
	ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*models.Account, error)
}

// AccountHandler handles account-related HTTP requests
type AccountHandler struct {
	accounts  AccountServiceInterface
	passwords PasswordChanger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountServiceInterface, passwords PasswordChanger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		passwords: passwords,
	}
}

// GetMe returns the authenticated account
// @Summary Current account
// @Security BearerAuth
// @Produce json
// @Success 200 {object} AccountResponse
// @Failure 401 {object} ErrorResponse
// @Router /accounts/me [get]
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	acc, err := h.accounts.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, accountToResponse(acc))
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Security BearerAuth
// @Accept json
// @Param request body ChangePasswordRequest true "Current and new password"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /accounts/me/password [post]
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	_, err := h.passwords.ChangePassword(r.Context(), services.ChangePasswordInput{
		AccountID:       claims.AccountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAccount retrieves an account by ID. Callers may read their own account;
// administrators may read any.
// @Summary Get account by ID
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Produce json
// @Success 200 {object} AccountResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.checkAccountAccess(r, id); err != nil {
		if errors.Is(err, models.ErrForbidden) {
			pkghttp.WriteForbidden(w, "you cannot access this resource")
			return
		}
		writeServiceError(w, err)
		return
	}

	acc, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, accountToResponse(acc))
}

// GetAccountByUsername looks an account up by username, with the same access
// rule as GetAccount
// @Summary Get account by username
// @Security BearerAuth
// @Param username path string true "Username"
// @Produce json
// @Success 200 {object} AccountResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/username/{username} [get]
func (h *AccountHandler) GetAccountByUsername(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeServiceError(w, err)
		return
	}

	// Non-admins get 403 whether or not the name exists
	requestedID := ""
	if acc != nil {
		requestedID = acc.ID
	}
	if err := h.checkAccountAccess(r, requestedID); err != nil {
		if errors.Is(err, models.ErrForbidden) {
			pkghttp.WriteForbidden(w, "you cannot access this resource")
			return
		}
		writeServiceError(w, err)
		return
	}

	if acc == nil {
		pkghttp.WriteNotFound(w, "Account not found")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, accountToResponse(acc))
}

// ListAccounts retrieves a page of accounts
// @Summary List accounts
// @Security BearerAuth
// @Param limit query int false "Limit (default 20, max 100)"
// @Param offset query int false "Offset (default 0)"
// @Produce json
// @Success 200 {object} ListAccountsResponse
// @Failure 400 {object} ErrorResponse
// @Router /accounts [get]
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
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

	accounts, err := h.accounts.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := &ListAccountsResponse{
		Accounts: make([]*AccountResponse, len(accounts)),
		Limit:    limit,
		Offset:   offset,
	}
	for i, acc := range accounts {
		resp.Accounts[i] = accountToResponse(acc)
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// UpdateAccount applies an administrative edit
// @Summary Update account
// @Security BearerAuth
// @Accept json
// @Param id path string true "Account ID"
// @Param request body UpdateAccountRequest true "Fields to change"
// @Produce json
// @Success 200 {object} AccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{id} [put]
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acc, err := h.accounts.UpdateAccount(r.Context(), chi.URLParam(r, "id"), services.UpdateAccountInput{
		Username: req.Username,
		Email:    req.Email,
		Roles:    req.Roles,
		Groups:   req.Groups,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, accountToResponse(acc))
}

// checkAccountAccess allows the owner or an enabled administrator, counting
// roles granted through groups
func (h *AccountHandler) checkAccountAccess(r *http.Request, requestedID string) error {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		return models.ErrForbidden
	}

	if requestedID != "" && claims.AccountID == requestedID {
		return nil
	}

	caller, err := h.accounts.GetByID(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrForbidden
		}
		return err
	}

	if caller.Enabled && caller.HasRole(models.RoleAdmin) {
		return nil
	}
	return models.ErrForbidden
}

// parseIntParam parses an optional integer query parameter within [min, max]
func parseIntParam(value string, def, min, max int) (int, error) {
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, errors.New("parameter out of range")
	}
	return n, nil
}

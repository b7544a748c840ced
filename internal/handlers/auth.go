package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/services"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
	pkglogger "github.com/rpiotaix/userbundle/pkg/logger"
)

const (
	resetAcceptedMessage  = "If an account matches, a password reset email has been sent."
	resendAcceptedMessage = "If an unconfirmed account matches, a new confirmation email has been sent."
)

// CredentialServiceInterface defines the credential lifecycle operations used by the handlers
type CredentialServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.Account, error)
	RequestConfirmation(ctx context.Context, acc *models.Account) (*services.IssuedToken, error)
	ResendConfirmation(ctx context.Context, identifier string) (*services.IssuedToken, error)
	Confirm(ctx context.Context, token string) (*models.Account, error)
	RequestReset(ctx context.Context, identifier string) (*services.IssuedToken, error)
	ResolveReset(ctx context.Context, token string, now time.Time) (*services.ResetResolution, error)
	CompleteReset(ctx context.Context, token, newPassword string, now time.Time) (*models.Account, error)
	CancelReset(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*models.Account, error)
	Authenticate(ctx context.Context, identifier, password string) (*models.Account, error)
	ResetTokenTTL() time.Duration
}

// NotifierInterface delivers the emails carrying issued tokens
type NotifierInterface interface {
	SendConfirmation(ctx context.Context, issued *services.IssuedToken) error
	SendReset(ctx context.Context, issued *services.IssuedToken) error
}

// TokenIssuer creates access tokens for authenticated accounts
type TokenIssuer interface {
	GenerateAccessToken(acc *models.Account) (*auth.AccessToken, error)
}

// AuthHandler handles registration, confirmation, login and password reset
type AuthHandler struct {
	credentials CredentialServiceInterface
	notifier    NotifierInterface
	tokens      TokenIssuer
	proxies     *pkghttp.ProxyTrust
	audit       *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	credentials CredentialServiceInterface,
	notifier NotifierInterface,
	tokens TokenIssuer,
	proxies *pkghttp.ProxyTrust,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		notifier:    notifier,
		tokens:      tokens,
		proxies:     proxies,
		audit:       pkglogger.NewAuditLogger(logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register handles account registration
// @Summary Register an account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acc, err := h.credentials.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := &RegisterResponse{Account: accountToResponse(acc)}

	if acc.Enabled {
		token, err := h.tokens.GenerateAccessToken(acc)
		if err != nil {
			h.logger.Error("failed to issue access token", slog.String("account_id", acc.ID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		resp.Token = token
		pkghttp.WriteJSON(w, http.StatusCreated, resp)
		return
	}

	resp.ConfirmationRequired = true
	issued, err := h.credentials.RequestConfirmation(r.Context(), acc)
	if err != nil {
		// The account exists; the client can ask for a resend
		h.logger.Warn("failed to issue confirmation after registration",
			slog.String("account_id", acc.ID), slog.Any("error", err))
	} else {
		h.sendConfirmation(r.Context(), issued)
		resp.Account = accountToResponse(issued.Account)
	}

	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Confirm consumes a confirmation token and enables the account
// @Summary Confirm an account
// @Param token path string true "Confirmation token"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/confirm/{token} [get]
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	acc, err := h.credentials.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeSession(w, acc)
}

// ResendConfirmation issues a fresh confirmation token
// @Summary Resend the confirmation email
// @Accept json
// @Param request body IdentifierRequest true "Username or email"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/confirm/resend [post]
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req IdentifierRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	issued, err := h.credentials.ResendConfirmation(r.Context(), req.Identifier)
	switch {
	case err == nil:
		h.sendConfirmation(r.Context(), issued)
	case errors.Is(err, models.ErrUnknownAccount),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrRateLimited):
		// Reported as accepted so the response does not reveal the account
	default:
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteAccepted(w, resendAcceptedMessage)
}

// Login handles authentication by username or email
// @Summary Log in
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acc, err := h.credentials.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) || errors.Is(err, models.ErrAccountDisabled) {
			h.audit.Log(r.Context(), pkglogger.AuditEvent{
				EventType:     pkglogger.EventLogin,
				IPAddress:     h.proxies.ClientIP(r),
				Success:       false,
				FailureReason: "authentication failed",
			})
		}
		writeServiceError(w, err)
		return
	}

	h.writeSession(w, acc)
}

// RequestReset starts a password reset
// @Summary Request a password reset
// @Accept json
// @Param request body IdentifierRequest true "Username or email"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/reset [post]
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req IdentifierRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	issued, err := h.credentials.RequestReset(r.Context(), req.Identifier)
	switch {
	case err == nil:
		if err := h.notifier.SendReset(r.Context(), issued); err != nil {
			h.logger.Warn("reset email not delivered", slog.String("account_id", issued.Account.ID))
		}
	case errors.Is(err, models.ErrUnknownAccount),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrRateLimited):
		// Same answer as success so the endpoint cannot be used to enumerate accounts
	default:
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteAccepted(w, resetAcceptedMessage)
}

// GetReset reports whether a reset token is usable
// @Summary Inspect a reset token
// @Param token path string true "Reset token"
// @Produce json
// @Success 200 {object} ResetStatusResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /auth/reset/{token} [get]
func (h *AuthHandler) GetReset(w http.ResponseWriter, r *http.Request) {
	resolution, err := h.credentials.ResolveReset(r.Context(), chi.URLParam(r, "token"), h.now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if resolution.Expired {
		pkghttp.WriteGone(w, "Token has expired")
		return
	}

	resp := &ResetStatusResponse{Username: resolution.Account.Username}
	if requested := resolution.Account.PasswordRequestedAt; requested != nil {
		resp.ExpiresAt = requested.Add(h.credentials.ResetTokenTTL()).UTC()
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// CompleteReset sets a new password using a reset token
// @Summary Complete a password reset
// @Accept json
// @Param token path string true "Reset token"
// @Param request body CompleteResetRequest true "New password"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /auth/reset/{token} [post]
func (h *AuthHandler) CompleteReset(w http.ResponseWriter, r *http.Request) {
	var req CompleteResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acc, err := h.credentials.CompleteReset(r.Context(), chi.URLParam(r, "token"), req.Password, h.now())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeSession(w, acc)
}

// CancelReset abandons a pending reset
// @Summary Cancel a password reset
// @Param token path string true "Reset token"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /auth/reset/{token} [delete]
func (h *AuthHandler) CancelReset(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.CancelReset(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) sendConfirmation(ctx context.Context, issued *services.IssuedToken) {
	if err := h.notifier.SendConfirmation(ctx, issued); err != nil {
		h.logger.Warn("confirmation email not delivered", slog.String("account_id", issued.Account.ID))
	}
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, acc *models.Account) {
	token, err := h.tokens.GenerateAccessToken(acc)
	if err != nil {
		h.logger.Error("failed to issue access token", slog.String("account_id", acc.ID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, &SessionResponse{
		Account: accountToResponse(acc),
		Token:   token,
	})
}

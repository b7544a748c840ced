package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/services"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthHandler(creds *MockCredentialService, notifier *MockNotifier) *AuthHandler {
	return NewAuthHandler(creds, notifier, &MockTokenIssuer{}, nil, NewTestLogger())
}

func disabledAccount() *models.Account {
	return &models.Account{ID: "acc-1", Username: "alice", Email: "alice@x.com", Roles: []string{models.RoleUser}}
}

func TestAuthHandler_Register(t *testing.T) {
	validBody := map[string]string{"username": "alice", "email": "alice@x.com", "password": "Secr3t!"}

	t.Run("confirmation required sends email", func(t *testing.T) {
		notifier := &MockNotifier{}
		creds := &MockCredentialService{
			RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
				assert.Equal(t, "alice", in.Username)
				return disabledAccount(), nil
			},
			RequestConfirmationFunc: func(ctx context.Context, acc *models.Account) (*services.IssuedToken, error) {
				pending := acc.Clone()
				pending.ConfirmationToken = "T1"
				return &services.IssuedToken{Account: pending, Token: "T1"}, nil
			},
		}
		h := newAuthHandler(creds, notifier)

		w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", validBody))

		var resp RegisterResponse
		AssertJSONResponse(t, w, http.StatusCreated, &resp)
		assert.True(t, resp.ConfirmationRequired)
		assert.Nil(t, resp.Token)
		assert.Equal(t, string(models.StateDisabledConfirmationPending), resp.Account.State)
		require.Len(t, notifier.Confirmations, 1)
		assert.Equal(t, "T1", notifier.Confirmations[0].Token)
		assert.NotContains(t, w.Body.String(), "T1", "token is only delivered by email")
	})

	t.Run("no confirmation returns token", func(t *testing.T) {
		notifier := &MockNotifier{}
		creds := &MockCredentialService{
			RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
				acc := disabledAccount()
				acc.Enabled = true
				return acc, nil
			},
		}
		h := newAuthHandler(creds, notifier)

		w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", validBody))

		var resp RegisterResponse
		AssertJSONResponse(t, w, http.StatusCreated, &resp)
		assert.False(t, resp.ConfirmationRequired)
		require.NotNil(t, resp.Token)
		assert.Equal(t, "access-acc-1", resp.Token.AccessToken)
		assert.Empty(t, notifier.Confirmations)
	})

	t.Run("identifiers trimmed before validation", func(t *testing.T) {
		var got services.RegisterInput
		creds := &MockCredentialService{
			RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
				got = in
				acc := disabledAccount()
				acc.Enabled = true
				return acc, nil
			},
		}
		h := newAuthHandler(creds, &MockNotifier{})

		body := map[string]string{"username": " Alice ", "email": " Alice@X.com ", "password": "Secr3t!"}
		w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", body))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "alice@x.com", got.Email)
	})

	t.Run("duplicate", func(t *testing.T) {
		h := newAuthHandler(&MockCredentialService{}, &MockNotifier{})

		w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", validBody))

		AssertErrorResponse(t, w, http.StatusConflict, "conflict")
	})

	t.Run("weak password from service", func(t *testing.T) {
		creds := &MockCredentialService{
			RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
				return nil, errors.Join(models.ErrValidation, errors.New("password too short"))
			},
		}
		h := newAuthHandler(creds, &MockNotifier{})

		w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", validBody))

		AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	})

	t.Run("invalid body", func(t *testing.T) {
		h := newAuthHandler(&MockCredentialService{}, &MockNotifier{})

		tests := []struct {
			name string
			body interface{}
			code string
		}{
			{"missing email", map[string]string{"username": "alice", "password": "Secr3t!"}, "validation_failed"},
			{"bad username", map[string]string{"username": "a!", "email": "a@x.com", "password": "Secr3t!"}, "validation_failed"},
			{"unknown field", map[string]string{"username": "alice", "email": "a@x.com", "password": "Secr3t!", "role": "admin"}, "bad_request"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := Serve(http.MethodPost, "/auth/register", h.Register, NewTestRequest(t, http.MethodPost, "/auth/register", tt.body))
				AssertErrorResponse(t, w, http.StatusBadRequest, tt.code)
			})
		}
	})
}

func TestAuthHandler_Confirm(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		creds := &MockCredentialService{
			ConfirmFunc: func(ctx context.Context, token string) (*models.Account, error) {
				assert.Equal(t, "T1", token)
				acc := disabledAccount()
				acc.Enabled = true
				return acc, nil
			},
		}
		h := newAuthHandler(creds, &MockNotifier{})

		w := Serve(http.MethodGet, "/auth/confirm/{token}", h.Confirm, NewTestRequest(t, http.MethodGet, "/auth/confirm/T1", nil))

		var resp SessionResponse
		AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.True(t, resp.Account.Enabled)
		assert.Equal(t, "access-acc-1", resp.Token.AccessToken)
	})

	t.Run("used token", func(t *testing.T) {
		h := newAuthHandler(&MockCredentialService{}, &MockNotifier{})

		w := Serve(http.MethodGet, "/auth/confirm/{token}", h.Confirm, NewTestRequest(t, http.MethodGet, "/auth/confirm/T1", nil))

		AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})
}

func TestAuthHandler_ResendConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantMails int
	}{
		{"issued", nil, http.StatusAccepted, 1},
		{"unknown account", models.ErrUnknownAccount, http.StatusAccepted, 0},
		{"already enabled", models.ErrInvalidTransition, http.StatusAccepted, 0},
		{"throttled", models.ErrRateLimited, http.StatusAccepted, 0},
		{"storage failure", models.ErrInternalServer, http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &MockNotifier{}
			creds := &MockCredentialService{
				ResendConfirmationFunc: func(ctx context.Context, identifier string) (*services.IssuedToken, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &services.IssuedToken{Account: disabledAccount(), Token: "T2"}, nil
				},
			}
			h := newAuthHandler(creds, notifier)

			req := NewTestRequest(t, http.MethodPost, "/auth/confirm/resend", map[string]string{"identifier": "alice"})
			w := Serve(http.MethodPost, "/auth/confirm/resend", h.ResendConfirmation, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Len(t, notifier.Confirmations, tt.wantMails)
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"success", nil, http.StatusOK},
		{"wrong password", models.ErrInvalidCredentials, http.StatusUnauthorized},
		{"disabled account", models.ErrAccountDisabled, http.StatusUnauthorized},
		{"storage failure", models.ErrInternalServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &MockCredentialService{
				AuthenticateFunc: func(ctx context.Context, identifier, password string) (*models.Account, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					acc := disabledAccount()
					acc.Enabled = true
					return acc, nil
				},
			}
			h := newAuthHandler(creds, &MockNotifier{})

			req := NewTestRequest(t, http.MethodPost, "/auth/login", map[string]string{"identifier": "alice", "password": "Secr3t!"})
			w := Serve(http.MethodPost, "/auth/login", h.Login, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusUnauthorized {
				var resp pkghttp.ErrorResponse
				AssertJSONResponse(t, w, http.StatusUnauthorized, &resp)
				assert.Equal(t, "Authentication failed", resp.Message)
			}
		})
	}
}

func TestAuthHandler_RequestReset(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantMails int
	}{
		{"issued", nil, http.StatusAccepted, 1},
		{"unknown account", models.ErrUnknownAccount, http.StatusAccepted, 0},
		{"disabled account", models.ErrAccountDisabled, http.StatusAccepted, 0},
		{"throttled", models.ErrRateLimited, http.StatusAccepted, 0},
		{"storage failure", models.ErrInternalServer, http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &MockNotifier{}
			creds := &MockCredentialService{
				RequestResetFunc: func(ctx context.Context, identifier string) (*services.IssuedToken, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &services.IssuedToken{Account: disabledAccount(), Token: "R1"}, nil
				},
			}
			h := newAuthHandler(creds, notifier)

			req := NewTestRequest(t, http.MethodPost, "/auth/reset", map[string]string{"identifier": "alice@x.com"})
			w := Serve(http.MethodPost, "/auth/reset", h.RequestReset, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Len(t, notifier.Resets, tt.wantMails)
			if tt.wantCode == http.StatusAccepted {
				var resp pkghttp.MessageResponse
				AssertJSONResponse(t, w, http.StatusAccepted, &resp)
				assert.Equal(t, resetAcceptedMessage, resp.Message)
			}
		})
	}

	t.Run("mail failure still accepted", func(t *testing.T) {
		notifier := &MockNotifier{Err: errors.New("smtp down")}
		creds := &MockCredentialService{
			RequestResetFunc: func(ctx context.Context, identifier string) (*services.IssuedToken, error) {
				return &services.IssuedToken{Account: disabledAccount(), Token: "R1"}, nil
			},
		}
		h := newAuthHandler(creds, notifier)

		req := NewTestRequest(t, http.MethodPost, "/auth/reset", map[string]string{"identifier": "alice"})
		w := Serve(http.MethodPost, "/auth/reset", h.RequestReset, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestAuthHandler_GetReset(t *testing.T) {
	requested := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		resolution *services.ResetResolution
		err        error
		wantCode   int
	}{
		{"pending", &services.ResetResolution{Account: &models.Account{Username: "alice", PasswordRequestedAt: &requested}}, nil, http.StatusOK},
		{"expired", &services.ResetResolution{Account: &models.Account{Username: "alice", PasswordRequestedAt: &requested}, Expired: true}, nil, http.StatusGone},
		{"unknown token", nil, models.ErrInvalidToken, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &MockCredentialService{
				TTL: 2 * time.Hour,
				ResolveResetFunc: func(ctx context.Context, token string, now time.Time) (*services.ResetResolution, error) {
					return tt.resolution, tt.err
				},
			}
			h := newAuthHandler(creds, &MockNotifier{})

			w := Serve(http.MethodGet, "/auth/reset/{token}", h.GetReset, NewTestRequest(t, http.MethodGet, "/auth/reset/R1", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				var resp ResetStatusResponse
				AssertJSONResponse(t, w, http.StatusOK, &resp)
				assert.Equal(t, "alice", resp.Username)
				assert.True(t, requested.Add(2*time.Hour).Equal(resp.ExpiresAt))
			}
		})
	}
}

func TestAuthHandler_CompleteReset(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"expired", models.ErrExpiredToken, http.StatusGone, "expired"},
		{"unknown token", models.ErrInvalidToken, http.StatusNotFound, "not_found"},
		{"weak password", errors.Join(models.ErrValidation, errors.New("too short")), http.StatusBadRequest, "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &MockCredentialService{
				CompleteResetFunc: func(ctx context.Context, token, newPassword string, now time.Time) (*models.Account, error) {
					assert.Equal(t, "R1", token)
					assert.Equal(t, "N3wSecret", newPassword)
					if tt.err != nil {
						return nil, tt.err
					}
					acc := disabledAccount()
					acc.Enabled = true
					return acc, nil
				},
			}
			h := newAuthHandler(creds, &MockNotifier{})

			req := NewTestRequest(t, http.MethodPost, "/auth/reset/R1", map[string]string{"password": "N3wSecret"})
			w := Serve(http.MethodPost, "/auth/reset/{token}", h.CompleteReset, req)

			if tt.wantErr != "" {
				AssertErrorResponse(t, w, tt.wantCode, tt.wantErr)
				return
			}
			var resp SessionResponse
			AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.NotNil(t, resp.Token)
		})
	}
}

func TestAuthHandler_CancelReset(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		creds := &MockCredentialService{
			CancelResetFunc: func(ctx context.Context, token string) error { return nil },
		}
		h := newAuthHandler(creds, &MockNotifier{})

		w := Serve(http.MethodDelete, "/auth/reset/{token}", h.CancelReset, NewTestRequest(t, http.MethodDelete, "/auth/reset/R1", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		h := newAuthHandler(&MockCredentialService{}, &MockNotifier{})

		w := Serve(http.MethodDelete, "/auth/reset/{token}", h.CancelReset, NewTestRequest(t, http.MethodDelete, "/auth/reset/R1", nil))

		AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/services"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds account claims to the request context for authenticated endpoints
func WithAuthContext(req *http.Request, accountID string, roles ...string) *http.Request {
	claims := &models.TokenClaims{
		Type:      auth.TokenTypeAccess,
		AccountID: accountID,
		Roles:     roles,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// Serve routes req through a chi router so URL parameters resolve
func Serve(method, pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Method(method, pattern, handler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockCredentialService implements CredentialServiceInterface for testing
type MockCredentialService struct {
	RegisterFunc            func(ctx context.Context, in services.RegisterInput) (*models.Account, error)
	RequestConfirmationFunc func(ctx context.Context, acc *models.Account) (*services.IssuedToken, error)
	ResendConfirmationFunc  func(ctx context.Context, identifier string) (*services.IssuedToken, error)
	ConfirmFunc             func(ctx context.Context, token string) (*models.Account, error)
	RequestResetFunc        func(ctx context.Context, identifier string) (*services.IssuedToken, error)
	ResolveResetFunc        func(ctx context.Context, token string, now time.Time) (*services.ResetResolution, error)
	CompleteResetFunc       func(ctx context.Context, token, newPassword string, now time.Time) (*models.Account, error)
	CancelResetFunc         func(ctx context.Context, token string) error
	ChangePasswordFunc      func(ctx context.Context, in services.ChangePasswordInput) (*models.Account, error)
	AuthenticateFunc        func(ctx context.Context, identifier, password string) (*models.Account, error)
	TTL                     time.Duration
}

func (m *MockCredentialService) Register(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrDuplicate
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockCredentialService) RequestConfirmation(ctx context.Context, acc *models.Account) (*services.IssuedToken, error) {
	if m.RequestConfirmationFunc == nil {
		return &services.IssuedToken{Account: acc, Token: "T1"}, nil
	}
	return m.RequestConfirmationFunc(ctx, acc)
}

func (m *MockCredentialService) ResendConfirmation(ctx context.Context, identifier string) (*services.IssuedToken, error) {
	if m.ResendConfirmationFunc == nil {
		return nil, models.ErrUnknownAccount
	}
	return m.ResendConfirmationFunc(ctx, identifier)
}

func (m *MockCredentialService) Confirm(ctx context.Context, token string) (*models.Account, error) {
	if m.ConfirmFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.ConfirmFunc(ctx, token)
}

func (m *MockCredentialService) RequestReset(ctx context.Context, identifier string) (*services.IssuedToken, error) {
	if m.RequestResetFunc == nil {
		return nil, models.ErrUnknownAccount
	}
	return m.RequestResetFunc(ctx, identifier)
}

func (m *MockCredentialService) ResolveReset(ctx context.Context, token string, now time.Time) (*services.ResetResolution, error) {
	if m.ResolveResetFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.ResolveResetFunc(ctx, token, now)
}

func (m *MockCredentialService) CompleteReset(ctx context.Context, token, newPassword string, now time.Time) (*models.Account, error) {
	if m.CompleteResetFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.CompleteResetFunc(ctx, token, newPassword, now)
}

func (m *MockCredentialService) CancelReset(ctx context.Context, token string) error {
	if m.CancelResetFunc == nil {
		return models.ErrInvalidToken
	}
	return m.CancelResetFunc(ctx, token)
}

func (m *MockCredentialService) ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*models.Account, error) {
	if m.ChangePasswordFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.ChangePasswordFunc(ctx, in)
}

func (m *MockCredentialService) Authenticate(ctx context.Context, identifier, password string) (*models.Account, error) {
	if m.AuthenticateFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.AuthenticateFunc(ctx, identifier, password)
}

func (m *MockCredentialService) ResetTokenTTL() time.Duration {
	if m.TTL == 0 {
		return 24 * time.Hour
	}
	return m.TTL
}

// MockNotifier records the tokens it was asked to deliver
type MockNotifier struct {
	mu            sync.Mutex
	Confirmations []*services.IssuedToken
	Resets        []*services.IssuedToken
	Err           error
}

func (m *MockNotifier) SendConfirmation(ctx context.Context, issued *services.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirmations = append(m.Confirmations, issued)
	return m.Err
}

func (m *MockNotifier) SendReset(ctx context.Context, issued *services.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets = append(m.Resets, issued)
	return m.Err
}

// MockTokenIssuer hands out a fixed access token
type MockTokenIssuer struct {
	Err error
}

func (m *MockTokenIssuer) GenerateAccessToken(acc *models.Account) (*auth.AccessToken, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &auth.AccessToken{AccessToken: "access-" + acc.ID, TokenType: "Bearer"}, nil
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetAccountFunc    func(ctx context.Context, id string) (*models.Account, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.Account, error)
	GetByUsernameFunc func(ctx context.Context, username string) (*models.Account, error)
	ListAccountsFunc  func(ctx context.Context, limit, offset int) ([]*models.Account, error)
	UpdateAccountFunc func(ctx context.Context, id string, in services.UpdateAccountInput) (*models.Account, error)
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAccountFunc(ctx, id)
}

// GetByID falls back to GetAccountFunc when no group roles are being simulated
func (m *MockAccountService) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.GetAccount(ctx, id)
}

func (m *MockAccountService) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.GetByUsernameFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByUsernameFunc(ctx, username)
}

func (m *MockAccountService) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if m.ListAccountsFunc == nil {
		return []*models.Account{}, nil
	}
	return m.ListAccountsFunc(ctx, limit, offset)
}

func (m *MockAccountService) UpdateAccount(ctx context.Context, id string, in services.UpdateAccountInput) (*models.Account, error) {
	if m.UpdateAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateAccountFunc(ctx, id, in)
}

// MockGroupService implements GroupServiceInterface for testing
type MockGroupService struct {
	CreateGroupFunc func(ctx context.Context, in services.CreateGroupInput) (*models.Group, error)
	GetGroupFunc    func(ctx context.Context, id string) (*models.Group, error)
	ListGroupsFunc  func(ctx context.Context, limit, offset int) ([]*models.Group, error)
	UpdateGroupFunc func(ctx context.Context, id string, in services.UpdateGroupInput) (*models.Group, error)
}

func (m *MockGroupService) CreateGroup(ctx context.Context, in services.CreateGroupInput) (*models.Group, error) {
	if m.CreateGroupFunc == nil {
		return nil, models.ErrDuplicateGroup
	}
	return m.CreateGroupFunc(ctx, in)
}

func (m *MockGroupService) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	if m.GetGroupFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetGroupFunc(ctx, id)
}

func (m *MockGroupService) ListGroups(ctx context.Context, limit, offset int) ([]*models.Group, error) {
	if m.ListGroupsFunc == nil {
		return []*models.Group{}, nil
	}
	return m.ListGroupsFunc(ctx, limit, offset)
}

func (m *MockGroupService) UpdateGroup(ctx context.Context, id string, in services.UpdateGroupInput) (*models.Group, error) {
	if m.UpdateGroupFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateGroupFunc(ctx, id, in)
}

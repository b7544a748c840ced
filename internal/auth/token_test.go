package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-of-at-least-32-bytes"

func testAccount() *models.Account {
	return &models.Account{
		ID:       "7d0b7c1e-4a43-4b8e-9a36-3a1f9f0a9d11",
		Username: "alice",
		Roles:    []string{models.RoleUser},
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)

	issued, err := tm.GenerateAccessToken(testAccount())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.NotEmpty(t, issued.AccessToken)

	claims, err := tm.ValidateToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, testAccount().ID, claims.AccountID)
	assert.Equal(t, []string{models.RoleUser}, claims.Roles)
	assert.NotEmpty(t, claims.ID, "each token carries a unique id")
}

func TestTokenManager_Expired(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Minute)
	issuedAt := time.Now()
	tm.now = func() time.Time { return issuedAt }

	issued, err := tm.GenerateAccessToken(testAccount())
	require.NoError(t, err)

	tm.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = tm.ValidateToken(issued.AccessToken)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	issued, err := NewTokenManager(testSecret, time.Minute).GenerateAccessToken(testAccount())
	require.NoError(t, err)

	_, err = NewTokenManager("another-secret-that-is-also-32-bytes!!", time.Minute).ValidateToken(issued.AccessToken)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsOtherAlgorithms(t *testing.T) {
	claims := &models.TokenClaims{
		Type:      TokenTypeAccess,
		AccountID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenManager(testSecret, time.Minute).ValidateToken(signed)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	claims := &models.TokenClaims{
		Type:      "refresh",
		AccountID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenManager(testSecret, time.Minute).ValidateToken(signed)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Garbage(t *testing.T) {
	_, err := NewTokenManager(testSecret, time.Minute).ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

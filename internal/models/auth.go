package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are carried by access tokens issued after login, confirmation or reset
type TokenClaims struct {
	Type      string   `json:"type"`
	AccountID string   `json:"account_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	TokenBytes = 32 // 256 bits
	SaltBytes  = 16
)

// TokenGenerator produces opaque one-time tokens for confirmation and reset links
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator reads tokens straight from crypto/rand
type RandomTokenGenerator struct {
	size int
}

// NewTokenGenerator creates a generator emitting TokenBytes of entropy per token
func NewTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{size: TokenBytes}
}

// Generate returns a URL-safe token of fixed length (43 characters for 32 bytes)
func (g *RandomTokenGenerator) Generate() (string, error) {
	return GenerateToken(g.size)
}

// GenerateToken returns size random bytes encoded as unpadded base64url
func GenerateToken(size int) (string, error) {
	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateSalt returns a fresh per-account salt
func GenerateSalt() (string, error) {
	bytes := make([]byte, SaltBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(bytes), nil
}

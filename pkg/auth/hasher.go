package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Credential holds everything needed to reproduce a stored digest
type Credential struct {
	Digest     string
	Salt       string
	Algorithm  string
	Iterations int
}

// HasherConfig selects the scheme used for newly stored credentials
type HasherConfig struct {
	Algorithm     string
	Iterations    int
	MaxConcurrent int64 // 0 means runtime.GOMAXPROCS(0)
}

// CredentialHasher bounds concurrent hashing and applies the current default scheme
// to new credentials while verifying old ones under their recorded scheme.
type CredentialHasher struct {
	factory *EncoderFactory
	config  HasherConfig
	sem     *semaphore.Weighted
}

// NewCredentialHasher validates that the default algorithm is registered
func NewCredentialHasher(factory *EncoderFactory, config HasherConfig) (*CredentialHasher, error) {
	if _, err := factory.Encoder(config.Algorithm); err != nil {
		return nil, err
	}
	if config.Iterations < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterations, config.Iterations)
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = int64(runtime.GOMAXPROCS(0))
	}

	return &CredentialHasher{
		factory: factory,
		config:  config,
		sem:     semaphore.NewWeighted(config.MaxConcurrent),
	}, nil
}

// Hash creates a credential for plaintext with a fresh salt under the default scheme
func (h *CredentialHasher) Hash(ctx context.Context, plaintext string) (Credential, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return Credential{}, err
	}

	digest, err := h.HashWith(ctx, plaintext, salt, h.config.Algorithm, h.config.Iterations)
	if err != nil {
		return Credential{}, err
	}

	return Credential{
		Digest:     digest,
		Salt:       salt,
		Algorithm:  h.config.Algorithm,
		Iterations: h.config.Iterations,
	}, nil
}

// HashWith computes a digest under an explicit scheme
func (h *CredentialHasher) HashWith(ctx context.Context, plaintext, salt, algorithm string, iterations int) (string, error) {
	enc, err := h.factory.Encoder(algorithm)
	if err != nil {
		return "", err
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	return enc.Encode(plaintext, salt, iterations)
}

// Verify reports whether plaintext matches the credential. Unknown algorithms,
// malformed digests and a cancelled context all yield false.
func (h *CredentialHasher) Verify(ctx context.Context, plaintext string, cred Credential) bool {
	enc, err := h.factory.Encoder(cred.Algorithm)
	if err != nil {
		return false
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	return enc.Verify(plaintext, cred.Salt, cred.Iterations, cred.Digest)
}

// NeedsRehash reports whether cred was stored under a scheme other than the default
func (h *CredentialHasher) NeedsRehash(cred Credential) bool {
	return cred.Algorithm != h.config.Algorithm || cred.Iterations != h.config.Iterations
}

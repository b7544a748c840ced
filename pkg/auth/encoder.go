package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	AlgorithmSHA512       = "sha512"
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"
	AlgorithmArgon2ID     = "argon2id"
	AlgorithmBcrypt       = "bcrypt"
)

var (
	ErrUnknownAlgorithm  = errors.New("unknown credential algorithm")
	ErrInvalidIterations = errors.New("invalid iteration count")
	ErrInvalidParameters = errors.New("invalid encoder parameters")
)

// Encoder turns a plaintext secret into a stored digest and checks secrets against it.
// Verify must never panic on malformed input; it reports false instead.
type Encoder interface {
	Encode(plaintext, salt string, iterations int) (string, error)
	Verify(plaintext, salt string, iterations int, digest string) bool
}

// MessageDigestEncoder hashes "plaintext{salt}" with SHA-512, then re-hashes
// digest+salted input for the remaining iterations. Kept for legacy accounts.
type MessageDigestEncoder struct{}

func (MessageDigestEncoder) Encode(plaintext, salt string, iterations int) (string, error) {
	if iterations < 1 {
		return "", ErrInvalidIterations
	}
	salted := []byte(mergePasswordAndSalt(plaintext, salt))

	sum := sha512.Sum512(salted)
	digest := sum[:]
	for i := 1; i < iterations; i++ {
		h := sha512.New()
		h.Write(digest)
		h.Write(salted)
		digest = h.Sum(nil)
	}

	return base64.StdEncoding.EncodeToString(digest), nil
}

func (e MessageDigestEncoder) Verify(plaintext, salt string, iterations int, digest string) bool {
	computed, err := e.Encode(plaintext, salt, iterations)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func mergePasswordAndSalt(plaintext, salt string) string {
	if salt == "" {
		return plaintext
	}
	return plaintext + "{" + salt + "}"
}

// PBKDF2Encoder derives a key with PBKDF2-HMAC-SHA256
type PBKDF2Encoder struct {
	KeyLength int
}

func (e PBKDF2Encoder) Encode(plaintext, salt string, iterations int) (string, error) {
	if iterations < 1 {
		return "", ErrInvalidIterations
	}
	key := pbkdf2.Key([]byte(plaintext), []byte(salt), iterations, e.keyLength(), sha256.New)
	return base64.StdEncoding.EncodeToString(key), nil
}

func (e PBKDF2Encoder) Verify(plaintext, salt string, iterations int, digest string) bool {
	expected, err := base64.StdEncoding.DecodeString(digest)
	if err != nil || len(expected) != e.keyLength() || iterations < 1 {
		return false
	}
	computed := pbkdf2.Key([]byte(plaintext), []byte(salt), iterations, e.keyLength(), sha256.New)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (e PBKDF2Encoder) keyLength() int {
	if e.KeyLength <= 0 {
		return 32
	}
	return e.KeyLength
}

// Argon2Encoder derives a key with argon2id; iterations map to the time cost
type Argon2Encoder struct {
	MemoryKB    uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2Encoder returns the parameters used for new accounts
func DefaultArgon2Encoder() Argon2Encoder {
	return Argon2Encoder{MemoryKB: 64 * 1024, Parallelism: 2, KeyLength: 32}
}

// valid rejects parameters argon2.IDKey would panic on or that yield a
// trivially short key
func (e Argon2Encoder) valid() bool {
	return e.Parallelism >= 1 && e.KeyLength >= 16 && e.MemoryKB >= 8*uint32(e.Parallelism)
}

func (e Argon2Encoder) Encode(plaintext, salt string, iterations int) (string, error) {
	if !e.valid() {
		return "", ErrInvalidParameters
	}
	if iterations < 1 || iterations > 1<<16 {
		return "", ErrInvalidIterations
	}
	key := argon2.IDKey([]byte(plaintext), []byte(salt), uint32(iterations), e.MemoryKB, e.Parallelism, e.KeyLength)
	return base64.StdEncoding.EncodeToString(key), nil
}

func (e Argon2Encoder) Verify(plaintext, salt string, iterations int, digest string) bool {
	if !e.valid() {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(digest)
	if err != nil || len(expected) != int(e.KeyLength) {
		return false
	}
	if iterations < 1 || iterations > 1<<16 {
		return false
	}
	computed := argon2.IDKey([]byte(plaintext), []byte(salt), uint32(iterations), e.MemoryKB, e.Parallelism, e.KeyLength)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// BcryptEncoder uses iterations as the bcrypt cost. bcrypt embeds its own salt,
// so the account salt is ignored and Encode is not deterministic.
type BcryptEncoder struct{}

func (BcryptEncoder) Encode(plaintext, _ string, iterations int) (string, error) {
	if iterations < bcrypt.MinCost || iterations > bcrypt.MaxCost {
		return "", ErrInvalidIterations
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), iterations)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func (BcryptEncoder) Verify(plaintext, _ string, _ int, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// EncoderFactory is an immutable algorithm -> encoder mapping built once at startup
type EncoderFactory struct {
	encoders map[string]Encoder
}

// NewEncoderFactory copies the given mapping so later changes to it have no effect
func NewEncoderFactory(encoders map[string]Encoder) *EncoderFactory {
	copied := make(map[string]Encoder, len(encoders))
	for name, enc := range encoders {
		copied[name] = enc
	}
	return &EncoderFactory{encoders: copied}
}

// DefaultEncoderFactory registers every supported algorithm
func DefaultEncoderFactory() *EncoderFactory {
	return NewEncoderFactory(map[string]Encoder{
		AlgorithmSHA512:       MessageDigestEncoder{},
		AlgorithmPBKDF2SHA256: PBKDF2Encoder{KeyLength: 32},
		AlgorithmArgon2ID:     DefaultArgon2Encoder(),
		AlgorithmBcrypt:       BcryptEncoder{},
	})
}

// Encoder returns the encoder registered for algorithm
func (f *EncoderFactory) Encoder(algorithm string) (Encoder, error) {
	enc, ok := f.encoders[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return enc, nil
}

// Algorithms lists registered algorithm identifiers in sorted order
func (f *EncoderFactory) Algorithms() []string {
	names := make([]string, 0, len(f.encoders))
	for name := range f.encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

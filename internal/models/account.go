package models

import (
	"strings"
	"time"

	"github.com/rpiotaix/userbundle/pkg/auth"
)

const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// AccountState is derived from the lifecycle fields, never stored
type AccountState string

const (
	StateDisabledUnconfirmed         AccountState = "disabled_unconfirmed"
	StateDisabledConfirmationPending AccountState = "disabled_confirmation_pending"
	StateEnabledActive               AccountState = "enabled_active"
	StateEnabledResetPending         AccountState = "enabled_reset_pending"
)

// Account is a user account together with its credential lifecycle fields.
//
// Invariants kept by the transition methods:
//   - Enabled implies ConfirmationToken == ""
//   - PasswordRequestedAt != nil iff ResetToken != ""
type Account struct {
	ID       string
	Username string
	Email    string

	CredentialDigest     string
	CredentialSalt       string
	CredentialAlgorithm  string
	CredentialIterations int

	Enabled             bool
	ConfirmationToken   string
	ResetToken          string
	PasswordRequestedAt *time.Time

	Roles       []string
	Groups      []string // group IDs
	LastLoginAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeIdentifier trims and lowercases usernames and emails
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewAccount builds a freshly registered account. With confirmationRequired the
// account starts disabled; otherwise it is immediately active.
func NewAccount(username, email string, cred auth.Credential, confirmationRequired bool) *Account {
	acc := &Account{
		Username: NormalizeIdentifier(username),
		Email:    NormalizeIdentifier(email),
		Enabled:  !confirmationRequired,
		Roles:    []string{RoleUser},
	}
	acc.SetCredential(cred)
	return acc
}

// State reports the lifecycle state of the account
func (a *Account) State() AccountState {
	switch {
	case a.Enabled && a.ResetToken != "":
		return StateEnabledResetPending
	case a.Enabled:
		return StateEnabledActive
	case a.ConfirmationToken != "":
		return StateDisabledConfirmationPending
	default:
		return StateDisabledUnconfirmed
	}
}

// Credential returns the stored credential parameters
func (a *Account) Credential() auth.Credential {
	return auth.Credential{
		Digest:     a.CredentialDigest,
		Salt:       a.CredentialSalt,
		Algorithm:  a.CredentialAlgorithm,
		Iterations: a.CredentialIterations,
	}
}

// SetCredential replaces the stored credential
func (a *Account) SetCredential(cred auth.Credential) {
	a.CredentialDigest = cred.Digest
	a.CredentialSalt = cred.Salt
	a.CredentialAlgorithm = cred.Algorithm
	a.CredentialIterations = cred.Iterations
}

// IssueConfirmation stores a new confirmation token, replacing any pending one
func (a *Account) IssueConfirmation(token string) error {
	if a.Enabled || token == "" {
		return ErrInvalidTransition
	}
	a.ConfirmationToken = token
	return nil
}

// Confirm activates an account whose confirmation token was matched by the caller
func (a *Account) Confirm() error {
	if a.State() != StateDisabledConfirmationPending {
		return ErrInvalidTransition
	}
	a.ConfirmationToken = ""
	a.Enabled = true
	return nil
}

// RequestReset stores a reset token and its request time, replacing any pending reset
func (a *Account) RequestReset(token string, now time.Time) error {
	if !a.Enabled || token == "" {
		return ErrInvalidTransition
	}
	requestedAt := now
	a.ResetToken = token
	a.PasswordRequestedAt = &requestedAt
	return nil
}

// ResetExpired reports whether the pending reset is older than ttl at now
func (a *Account) ResetExpired(now time.Time, ttl time.Duration) bool {
	if a.PasswordRequestedAt == nil {
		return false
	}
	return now.Sub(*a.PasswordRequestedAt) > ttl
}

// CompleteReset installs the new credential and clears the pending reset
func (a *Account) CompleteReset(cred auth.Credential) error {
	if a.State() != StateEnabledResetPending {
		return ErrInvalidTransition
	}
	a.SetCredential(cred)
	a.clearReset()
	a.Enabled = true
	return nil
}

// CancelReset drops a pending reset, used on expiry or explicit abandonment
func (a *Account) CancelReset() error {
	if a.State() != StateEnabledResetPending {
		return ErrInvalidTransition
	}
	a.clearReset()
	return nil
}

func (a *Account) clearReset() {
	a.ResetToken = ""
	a.PasswordRequestedAt = nil
}

// HasRole reports whether the account carries role
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share mutable state with callers
func (a *Account) Clone() *Account {
	c := *a
	if a.Roles != nil {
		c.Roles = append([]string(nil), a.Roles...)
	}
	if a.Groups != nil {
		c.Groups = append([]string(nil), a.Groups...)
	}
	if a.PasswordRequestedAt != nil {
		t := *a.PasswordRequestedAt
		c.PasswordRequestedAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

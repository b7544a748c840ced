package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpiotaix/userbundle/internal/limiter"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/pkg/auth"
	pkglogger "github.com/rpiotaix/userbundle/pkg/logger"
	"github.com/rpiotaix/userbundle/pkg/validation"
)

const maxSaveAttempts = 3

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByConfirmationToken(ctx context.Context, token string) (*models.Account, error)
	FindByResetToken(ctx context.Context, token string) (*models.Account, error)
	List(ctx context.Context, limit, offset int) ([]*models.Account, error)
	Create(ctx context.Context, acc *models.Account) (*models.Account, error)
	Save(ctx context.Context, acc *models.Account) (*models.Account, error)
	CancelExpiredResets(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Delayer equalizes the response time of failed credential checks
type Delayer interface {
	WaitFrom(start time.Time, success bool)
}

type noDelay struct{}

func (noDelay) WaitFrom(time.Time, bool) {}

// CredentialConfig is the lifecycle policy
type CredentialConfig struct {
	ConfirmationRequired bool
	ResetTokenTTL        time.Duration
}

// RegisterInput is validated before anything is hashed or stored
type RegisterInput struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=128"`
}

type ChangePasswordInput struct {
	AccountID       string `validate:"required"`
	CurrentPassword string `validate:"required"`
	NewPassword     string `validate:"required,max=128"`
}

// IssuedToken is a freshly stored token and the account that owns it. The
// caller is responsible for delivering it.
type IssuedToken struct {
	Account *models.Account
	Token   string
}

// ResetResolution reports who a reset token belongs to and whether it has lapsed
type ResetResolution struct {
	Account *models.Account
	Expired bool
}

// CredentialService runs the confirmation and reset workflows on top of the
// account state machine.
type CredentialService struct {
	repo     AccountRepository
	hasher   *auth.CredentialHasher
	tokens   auth.TokenGenerator
	throttle limiter.Throttle
	clock    Clock
	delay    Delayer
	config   CredentialConfig
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

func NewCredentialService(
	repo AccountRepository,
	hasher *auth.CredentialHasher,
	tokens auth.TokenGenerator,
	throttle limiter.Throttle,
	clock Clock,
	config CredentialConfig,
	logger *slog.Logger,
) *CredentialService {
	if throttle == nil {
		throttle = limiter.Noop{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &CredentialService{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		throttle: throttle,
		clock:    clock,
		delay:    noDelay{},
		config:   config,
		audit:    pkglogger.NewAuditLogger(logger),
		logger:   logger,
	}
}

// WithDelayer sets the delay applied to failed authentications
func (s *CredentialService) WithDelayer(d Delayer) *CredentialService {
	s.delay = d
	return s
}

// ResetTokenTTL is the configured reset expiry window
func (s *CredentialService) ResetTokenTTL() time.Duration {
	return s.config.ResetTokenTTL
}

// Register creates an account. It is disabled and unconfirmed when the policy
// requires confirmation, otherwise immediately active.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	username := models.NormalizeIdentifier(in.Username)
	email := models.NormalizeIdentifier(in.Email)
	in.Username, in.Email = username, email

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	if taken, err := s.identifierTaken(ctx, username, email); err != nil {
		return nil, s.internal("failed to check account uniqueness", err)
	} else if taken {
		s.logger.Info("registration rejected, account exists", slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil, models.ErrDuplicate
	}

	cred, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, s.internal("failed to hash credential", err)
	}

	created, err := s.repo.Create(ctx, models.NewAccount(username, email, cred, s.config.ConfirmationRequired))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race with a concurrent registration
			return nil, models.ErrDuplicate
		}
		return nil, s.internal("failed to create account", err)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventRegistered, created.ID)
	s.logger.Info("account registered",
		slog.String("account_id", created.ID),
		slog.String("state", string(created.State())),
	)

	return created, nil
}

func (s *CredentialService) identifierTaken(ctx context.Context, username, email string) (bool, error) {
	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return true, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return false, err
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return true, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return false, err
	}

	return false, nil
}

// RequestConfirmation stores a new confirmation token on acc, replacing any
// pending one, and returns it for delivery.
func (s *CredentialService) RequestConfirmation(ctx context.Context, acc *models.Account) (*IssuedToken, error) {
	if acc.Enabled {
		return nil, models.ErrInvalidTransition
	}

	if err := s.allow(ctx, "confirm", acc.ID); err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, s.internal("failed to generate confirmation token", err)
	}

	saved, err := s.mutate(ctx, s.byID(acc.ID), func(a *models.Account) error {
		return a.IssueConfirmation(token)
	})
	if err != nil {
		return nil, s.passThrough("failed to issue confirmation", err, models.ErrInvalidTransition, models.ErrNotFound)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventConfirmationIssued, saved.ID)
	return &IssuedToken{Account: saved, Token: token}, nil
}

// ResendConfirmation looks the account up by username or email and issues a
// fresh confirmation token.
func (s *CredentialService) ResendConfirmation(ctx context.Context, identifier string) (*IssuedToken, error) {
	acc, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.RequestConfirmation(ctx, acc)
}

// Confirm enables the account owning token. A consumed token, including the
// loser of two racing confirms, yields models.ErrInvalidToken.
func (s *CredentialService) Confirm(ctx context.Context, token string) (*models.Account, error) {
	saved, err := s.mutate(ctx, s.byConfirmationToken(token), func(a *models.Account) error {
		if err := a.Confirm(); err != nil {
			return models.ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		return nil, s.passThrough("failed to confirm account", err, models.ErrInvalidToken)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventConfirmed, saved.ID)
	s.logger.Info("account confirmed", slog.String("account_id", saved.ID))
	return saved, nil
}

// RequestReset stores a reset token on the account named by identifier
// (username first, then email), invalidating any earlier reset token.
func (s *CredentialService) RequestReset(ctx context.Context, identifier string) (*IssuedToken, error) {
	acc, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if !acc.Enabled {
		s.audit.LogFailure(ctx, pkglogger.EventResetRequested, acc.ID, "account disabled")
		return nil, models.ErrAccountDisabled
	}

	if err := s.allow(ctx, "reset", acc.ID); err != nil {
		s.audit.LogFailure(ctx, pkglogger.EventResetRequested, acc.ID, "throttled")
		return nil, err
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, s.internal("failed to generate reset token", err)
	}

	saved, err := s.mutate(ctx, s.byID(acc.ID), func(a *models.Account) error {
		if err := a.RequestReset(token, s.clock.Now()); err != nil {
			return models.ErrAccountDisabled
		}
		return nil
	})
	if err != nil {
		return nil, s.passThrough("failed to request reset", err, models.ErrAccountDisabled, models.ErrNotFound)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventResetRequested, saved.ID)
	return &IssuedToken{Account: saved, Token: token}, nil
}

// ResolveReset is read-only: an expired reset is reported, not cleared
func (s *CredentialService) ResolveReset(ctx context.Context, token string, now time.Time) (*ResetResolution, error) {
	acc, err := s.byResetToken(token)(ctx)
	if err != nil {
		return nil, s.passThrough("failed to resolve reset token", err, models.ErrInvalidToken)
	}

	return &ResetResolution{
		Account: acc,
		Expired: acc.ResetExpired(now, s.config.ResetTokenTTL),
	}, nil
}

// CompleteReset installs newPassword for the account owning token. An expired
// token cancels the pending reset and returns models.ErrExpiredToken with the
// stored credential untouched.
func (s *CredentialService) CompleteReset(ctx context.Context, token, newPassword string, now time.Time) (*models.Account, error) {
	resolution, err := s.ResolveReset(ctx, token, now)
	if err != nil {
		return nil, err
	}

	if resolution.Expired {
		if err := s.expireReset(ctx, token, now); err != nil {
			return nil, err
		}
		return nil, models.ErrExpiredToken
	}

	if err := auth.ValidatePassword(newPassword); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	cred, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, s.internal("failed to hash credential", err)
	}

	saved, err := s.mutate(ctx, s.byResetToken(token), func(a *models.Account) error {
		if a.ResetExpired(now, s.config.ResetTokenTTL) {
			return models.ErrExpiredToken
		}
		if err := a.CompleteReset(cred); err != nil {
			return models.ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		return nil, s.passThrough("failed to complete reset", err, models.ErrInvalidToken, models.ErrExpiredToken)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventResetCompleted, saved.ID)
	return saved, nil
}

func (s *CredentialService) expireReset(ctx context.Context, token string, now time.Time) error {
	saved, err := s.mutate(ctx, s.byResetToken(token), func(a *models.Account) error {
		if !a.ResetExpired(now, s.config.ResetTokenTTL) {
			return models.ErrInvalidToken
		}
		return a.CancelReset()
	})
	if err != nil {
		// Someone else already cleared or replaced it; the caller still sees an expired token
		if errors.Is(err, models.ErrInvalidToken) {
			return nil
		}
		return s.internal("failed to cancel expired reset", err)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventResetExpired, saved.ID)
	return nil
}

// CancelReset abandons the pending reset identified by token
func (s *CredentialService) CancelReset(ctx context.Context, token string) error {
	saved, err := s.mutate(ctx, s.byResetToken(token), func(a *models.Account) error {
		if err := a.CancelReset(); err != nil {
			return models.ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		return s.passThrough("failed to cancel reset", err, models.ErrInvalidToken)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventResetCancelled, saved.ID)
	return nil
}

// ChangePassword replaces the credential after checking the current one. A
// pending reset is dropped since it no longer serves a purpose.
func (s *CredentialService) ChangePassword(ctx context.Context, in ChangePasswordInput) (*models.Account, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	acc, err := s.repo.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, s.passThrough("failed to load account", err, models.ErrNotFound)
	}

	if !s.hasher.Verify(ctx, in.CurrentPassword, acc.Credential()) {
		s.audit.LogFailure(ctx, pkglogger.EventPasswordChanged, acc.ID, "current password mismatch")
		return nil, models.ErrInvalidCredentials
	}

	cred, err := s.hasher.Hash(ctx, in.NewPassword)
	if err != nil {
		return nil, s.internal("failed to hash credential", err)
	}

	saved, err := s.mutate(ctx, s.byID(acc.ID), func(a *models.Account) error {
		if a.State() == models.StateEnabledResetPending {
			_ = a.CancelReset()
		}
		a.SetCredential(cred)
		return nil
	})
	if err != nil {
		return nil, s.passThrough("failed to change password", err, models.ErrNotFound)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventPasswordChanged, saved.ID)
	return saved, nil
}

// Authenticate checks identifier and password for an enabled account. Digests
// stored under an outdated scheme are upgraded on success.
func (s *CredentialService) Authenticate(ctx context.Context, identifier, password string) (*models.Account, error) {
	start := time.Now()

	acc, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrUnknownAccount) {
			s.delay.WaitFrom(start, false)
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(ctx, password, acc.Credential()) {
		s.audit.LogFailure(ctx, pkglogger.EventLogin, acc.ID, "invalid credentials")
		s.delay.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if !acc.Enabled {
		s.audit.LogFailure(ctx, pkglogger.EventLogin, acc.ID, "account disabled")
		s.delay.WaitFrom(start, false)
		return nil, models.ErrAccountDisabled
	}

	var upgraded *auth.Credential
	if s.hasher.NeedsRehash(acc.Credential()) {
		cred, err := s.hasher.Hash(ctx, password)
		if err != nil {
			s.logger.Warn("failed to rehash credential", slog.String("account_id", acc.ID), slog.Any("error", err))
		} else {
			upgraded = &cred
		}
	}

	saved, err := s.mutate(ctx, s.byID(acc.ID), func(a *models.Account) error {
		now := s.clock.Now()
		a.LastLoginAt = &now
		if upgraded != nil && a.CredentialDigest == acc.CredentialDigest {
			a.SetCredential(*upgraded)
		}
		return nil
	})
	if err != nil {
		return nil, s.passThrough("failed to record login", err)
	}

	s.audit.LogSuccess(ctx, pkglogger.EventLogin, saved.ID)
	s.delay.WaitFrom(start, true)
	return saved, nil
}

// findByIdentifier tries the username first, then the email
func (s *CredentialService) findByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = models.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, models.ErrUnknownAccount
	}

	acc, err := s.repo.FindByUsername(ctx, identifier)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, s.internal("failed to look up account", err)
	}

	acc, err = s.repo.FindByEmail(ctx, identifier)
	if err == nil {
		return acc, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnknownAccount
	}
	return nil, s.internal("failed to look up account", err)
}

type loader func(ctx context.Context) (*models.Account, error)

func (s *CredentialService) byID(id string) loader {
	return func(ctx context.Context) (*models.Account, error) {
		return s.repo.GetByID(ctx, id)
	}
}

func (s *CredentialService) byConfirmationToken(token string) loader {
	return func(ctx context.Context) (*models.Account, error) {
		acc, err := s.repo.FindByConfirmationToken(ctx, token)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		return acc, err
	}
}

func (s *CredentialService) byResetToken(token string) loader {
	return func(ctx context.Context) (*models.Account, error) {
		acc, err := s.repo.FindByResetToken(ctx, token)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		return acc, err
	}
}

// mutate loads an account, applies fn and saves it, reloading and retrying
// when a concurrent writer bumped the version first.
func (s *CredentialService) mutate(ctx context.Context, load loader, fn func(*models.Account) error) (*models.Account, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		acc, err := load(ctx)
		if err != nil {
			return nil, err
		}

		if err := fn(acc); err != nil {
			return nil, err
		}

		saved, err := s.repo.Save(ctx, acc)
		if errors.Is(err, models.ErrStaleAccount) {
			s.logger.Debug("stale account, retrying", slog.String("account_id", acc.ID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return saved, nil
	}

	return nil, models.ErrStaleAccount
}

func (s *CredentialService) allow(ctx context.Context, purpose, accountID string) error {
	err := s.throttle.Allow(ctx, limiter.Key(purpose, accountID))
	if err == nil || errors.Is(err, models.ErrRateLimited) {
		return err
	}
	return s.internal("throttle check failed", err)
}

// passThrough returns err unchanged when it is one of the expected outcomes
// and collapses everything else to models.ErrInternalServer.
func (s *CredentialService) passThrough(msg string, err error, expected ...error) error {
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}
	if errors.Is(err, models.ErrInternalServer) {
		return err
	}
	return s.internal(msg, err)
}

func (s *CredentialService) internal(msg string, err error) error {
	s.logger.Error(msg, slog.Any("error", err))
	return models.ErrInternalServer
}

// validateInput runs the struct rules and tags failures with models.ErrValidation
func validateInput(in interface{}) error {
	if err := validation.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	return nil
}

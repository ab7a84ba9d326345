// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth composes the credential lifecycle: the strength gate, the
// hasher, the rate limiter, the identity store and the verification token
// service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mdcpepper/authstarter/internal/config"
	"github.com/mdcpepper/authstarter/internal/models"
	"github.com/mdcpepper/authstarter/internal/ratelimit"
	"github.com/mdcpepper/authstarter/internal/repository"
	mailsvc "github.com/mdcpepper/authstarter/internal/services/mail"
	"github.com/mdcpepper/authstarter/internal/services/verification"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email format")
)

// ThrottledError rejects a request before it reaches the hasher or the
// store. RetryAfter tells the caller when a retry is evaluated fresh.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

// loginAction scopes rate limit counters for the login flow.
const loginAction = "login"

type Service struct {
	repo              *repository.Repository
	hasher            *Hasher
	passwordValidator *PasswordValidator
	tokens            *verification.Service
	limiter           *ratelimit.Limiter
	sender            mailsvc.Sender
	baseURL           string
}

func NewService(repo *repository.Repository, cfg *config.AuthConfig, sender mailsvc.Sender, baseURL string) *Service {
	validator := DefaultPasswordValidator()
	if cfg.MinPasswordLength > 0 {
		validator.MinLength = cfg.MinPasswordLength
	}

	limit := cfg.LoginAttemptLimit
	if limit <= 0 {
		limit = 5
	}
	window := cfg.LoginAttemptWindow
	if window <= 0 {
		window = time.Minute
	}

	return &Service{
		repo:              repo,
		hasher:            NewHasher(cfg.BcryptCost),
		passwordValidator: validator,
		tokens:            verification.NewService(repo, cfg.TokenTTL),
		limiter:           ratelimit.New(limit, window),
		sender:            sender,
		baseURL:           baseURL,
	}
}

// PasswordValidator returns the strength gate for use in handlers.
func (s *Service) PasswordValidator() *PasswordValidator {
	return s.passwordValidator
}

// Tokens returns the verification token service.
func (s *Service) Tokens() *verification.Service {
	return s.tokens
}

// Register creates a new user account. The strength gate runs before any
// hashing or persistence, so a weak secret never reaches the hasher and is
// never stored. On success a verification token is durably persisted and
// the verification mail is dispatched without being awaited.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, ErrInvalidEmail
	}
	// Canonicalize to the bare mailbox so a name-addr form like
	// "Alice <alice@example.com>" cannot register a second account for an
	// address that already exists.
	email = addr.Address

	validation := s.passwordValidator.Validate(password, email)
	if !validation.Valid {
		return nil, &PasswordValidationError{Errors: validation.Errors}
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, email, digest)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	token, _, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing verification token: %w", err)
	}

	s.dispatchVerification(ctx, user.Email, token)

	slog.Info("register_success", "user_id", user.ID, "email", user.Email)

	return user, nil
}

// VerifyEmail redeems a verification token and marks the owning account
// verified.
func (s *Service) VerifyEmail(ctx context.Context, tokenValue string) (uuid.UUID, error) {
	userID, err := s.tokens.Redeem(ctx, tokenValue)
	if err != nil {
		return uuid.Nil, err
	}

	slog.Info("email_verified", "user_id", userID)
	return userID, nil
}

// Login authenticates a user. The rate limiter runs first and short
// circuits throttled requests before the store or the hasher is touched.
// Unknown emails and wrong passwords produce the same error and burn the
// same hashing work, so neither timing nor content reveals whether an
// account exists.
func (s *Service) Login(ctx context.Context, email, password, clientKey string) (*models.User, error) {
	key := clientKey + ":" + repository.NormalizeEmail(email)
	if retryAfter, ok := s.limiter.Allow(key, loginAction); !ok {
		slog.Warn("login_throttled", "client_key", clientKey)
		return nil, &ThrottledError{RetryAfter: retryAfter}
	}

	user, err := s.findUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			slog.Warn("login_failed", "email", email, "reason", "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordDigest) {
		slog.Warn("login_failed", "email", email, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	slog.Info("login_success", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// ResendVerification issues a fresh token and re-sends the verification
// mail. Unknown and already-verified emails are ignored quietly so the
// endpoint cannot be used to probe for accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Debug("resend_verification_unknown_email", "email", email)
			return nil
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	if user.Verified() {
		slog.Debug("resend_verification_already_verified", "user_id", user.ID)
		return nil
	}

	token, _, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("issuing verification token: %w", err)
	}

	s.dispatchVerification(ctx, user.Email, token)
	return nil
}

// ChangePassword changes a user's password when they know their current
// one. The new secret passes the strength gate before it is hashed.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	if !s.hasher.Verify(currentPassword, user.PasswordDigest) {
		return ErrInvalidCredentials
	}

	validation := s.passwordValidator.Validate(newPassword, user.Email)
	if !validation.Valid {
		return &PasswordValidationError{Errors: validation.Errors}
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateUserPassword(ctx, userID, digest); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	return nil
}

// Maintain prunes stale rate limit counters and expired tokens. Run it
// periodically from the server.
func (s *Service) Maintain(ctx context.Context) {
	s.limiter.Prune()
	if err := s.tokens.PruneExpired(ctx); err != nil {
		slog.Error("token_prune_failed", "error", err)
	}
}

// findUserByEmail retries the lookup with backoff on transient storage
// failures. Reads are idempotent; writes are never retried.
func (s *Service) findUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user *models.User
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(50*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		u, err := s.repo.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// dispatchVerification sends the verification mail on a detached goroutine.
// Registration succeeds once the user and token rows are durable; a mail
// failure is logged, never propagated.
func (s *Service) dispatchVerification(ctx context.Context, email, token string) {
	verifyURL := fmt.Sprintf("%s/api/v1/auth/confirm-email?token=%s", s.baseURL, token)

	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.sender.SendVerification(ctx, email, verifyURL); err != nil {
			slog.Warn("verification_mail_failed", "email", email, "error", err)
		}
	}()
}

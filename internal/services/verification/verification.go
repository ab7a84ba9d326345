// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package verification issues and redeems single-use email verification
// tokens.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mdcpepper/authstarter/internal/repository"
)

const (
	// TokenLength is the number of random bytes per token. 32 bytes keeps
	// guessing computationally infeasible; treat as a security parameter.
	TokenLength = 32

	// DefaultTTL is how long tokens are valid unless configured otherwise.
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrNotFound means no token matches the presented value.
	ErrNotFound = errors.New("verification token not found")

	// ErrExpired means the token's deadline has passed. The token is not
	// consumed.
	ErrExpired = errors.New("verification token expired")

	// ErrAlreadyConsumed means the token was redeemed before.
	ErrAlreadyConsumed = errors.New("verification token already used")
)

// Service manages the verification token lifecycle against the store.
type Service struct {
	repo *repository.Repository
	ttl  time.Duration

	now func() time.Time
}

// NewService creates a verification token service. A non-positive ttl
// falls back to DefaultTTL.
func NewService(repo *repository.Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, ttl: ttl, now: time.Now}
}

// Issue generates a token for the user and persists its hash. Only one
// token per user is live at a time: issuing invalidates prior tokens.
// Returns the plaintext token for the verification link and its expiry.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}

	plaintext := hex.EncodeToString(bytes)
	expiresAt := s.now().Add(s.ttl)

	if err := s.repo.CreateVerificationToken(ctx, userID, HashToken(plaintext), expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("storing token: %w", err)
	}

	return plaintext, expiresAt, nil
}

// Redeem consumes a token and marks its owner verified, both as one atomic
// unit. A token redeems at most once; redeeming after expiry fails without
// consuming it.
func (s *Service) Redeem(ctx context.Context, tokenValue string) (uuid.UUID, error) {
	userID, err := s.repo.RedeemVerificationToken(ctx, HashToken(tokenValue), s.now())
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, repository.ErrNotFound):
		return uuid.Nil, ErrNotFound
	case errors.Is(err, repository.ErrTokenExpired):
		return uuid.Nil, ErrExpired
	case errors.Is(err, repository.ErrTokenConsumed):
		return uuid.Nil, ErrAlreadyConsumed
	default:
		return uuid.Nil, fmt.Errorf("redeeming token: %w", err)
	}
}

// PruneExpired deletes expired unconsumed tokens.
func (s *Service) PruneExpired(ctx context.Context) error {
	return s.repo.DeleteExpiredVerificationTokens(ctx)
}

// HashToken computes the SHA256 hash of a token value. Only hashes are
// stored, so a leaked tokens table cannot be replayed.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

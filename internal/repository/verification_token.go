// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mdcpepper/authstarter/internal/models"
)

// CreateVerificationToken stores a new token hash for a user. Any prior
// tokens for the same user are invalidated in the same transaction, so at
// most one token per user is live at any time.
func (r *Repository) CreateVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE user_id = ?`, userID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO verification_tokens (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, tokenHash, expiresAt.UTC(), time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// GetVerificationToken retrieves a token by its hash.
func (r *Repository) GetVerificationToken(ctx context.Context, tokenHash string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := r.db.GetContext(ctx, &token, `SELECT * FROM verification_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return nil, wrapError(err)
	}
	return &token, nil
}

// RedeemVerificationToken consumes a token and marks its owner verified as
// one atomic unit. Either both writes commit or neither does. Returns the
// owning user's ID on success, ErrNotFound for unknown hashes,
// ErrTokenConsumed for replays and ErrTokenExpired for late redemptions
// (expiry does not consume the token).
func (r *Repository) RedeemVerificationToken(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var token models.VerificationToken
	err = tx.GetContext(ctx, &token, `SELECT * FROM verification_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}

	if token.Consumed() {
		return uuid.Nil, ErrTokenConsumed
	}
	if token.Expired(now) {
		return uuid.Nil, ErrTokenExpired
	}

	// Conditional update so concurrent redeems of the same token yield
	// exactly one winner.
	res, err := tx.ExecContext(ctx,
		`UPDATE verification_tokens SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		now.UTC(), token.ID)
	if err != nil {
		return uuid.Nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, err
	}
	if n == 0 {
		return uuid.Nil, ErrTokenConsumed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET verified_at = COALESCE(verified_at, ?), updated_at = ? WHERE id = ?`,
		now.UTC(), now.UTC(), token.UserID); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("committing token redemption: %w", err)
	}

	return token.UserID, nil
}

// DeleteExpiredVerificationTokens removes expired unconsumed tokens.
func (r *Repository) DeleteExpiredVerificationTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE expires_at < ? AND consumed_at IS NULL`,
		time.Now().UTC())
	return err
}

// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mdcpepper/authstarter/internal/models"
)

// CreateUser inserts a new user with a server-assigned UUIDv7 and
// timestamps. Returns ErrDuplicateEmail if the normalized email is taken;
// the unique index on users.email is the authority, so two concurrent
// creates for the same address yield exactly one success.
func (r *Repository) CreateUser(ctx context.Context, email, passwordDigest string) (*models.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:             id,
		Email:          NormalizeEmail(email),
		PasswordDigest: passwordDigest,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_digest, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordDigest, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by their normalized email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ?`, NormalizeEmail(email))
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// UpdateUserPassword replaces a user's password digest and bumps
// updated_at. verified_at is left untouched.
func (r *Repository) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordDigest string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_digest = ?, updated_at = ? WHERE id = ?`,
		passwordDigest, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// MarkUserVerified records email verification. Idempotent: a second call
// keeps the original verified_at.
func (r *Repository) MarkUserVerified(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified_at = COALESCE(verified_at, ?), updated_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func requireRowAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

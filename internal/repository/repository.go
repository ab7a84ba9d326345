// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package repository implements the persistence boundary for identity
// records and verification tokens on top of SQLite.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/vinovest/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when a user with the same normalized
	// email address already exists.
	ErrDuplicateEmail = errors.New("email address already registered")

	// ErrTokenConsumed is returned when a verification token has already
	// been redeemed.
	ErrTokenConsumed = errors.New("verification token already consumed")

	// ErrTokenExpired is returned when a verification token's deadline has
	// passed. The token is left untouched.
	ErrTokenExpired = errors.New("verification token expired")
)

// Repository wraps the database handle for all store operations.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// NormalizeEmail lowercases and trims an email address. Create and lookup
// paths must agree on this so the uniqueness constraint holds.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// wrapError converts driver errors to repository errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

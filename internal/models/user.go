// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity record. PasswordDigest holds the bcrypt output and is
// never serialized or logged.
type User struct { //nolint:govet // fieldalignment not critical for models
	ID             uuid.UUID  `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordDigest string     `db:"password_digest" json:"-"`
	VerifiedAt     *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Verified reports whether the user's email address has been confirmed.
func (u *User) Verified() bool {
	return u.VerifiedAt != nil
}

// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationToken proves control of an email address. Only the SHA256 hash
// of the token value is stored; the plaintext exists solely in the
// verification link sent to the user.
type VerificationToken struct { //nolint:govet // fieldalignment: readability over optimization
	ID         int64      `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Consumed reports whether the token has already been redeemed.
func (t *VerificationToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// Expired reports whether the token's deadline has passed at the given time.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

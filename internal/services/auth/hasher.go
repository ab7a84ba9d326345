// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns plaintext secrets into bcrypt digests. The digest is
// self-describing: algorithm version, cost and salt are embedded, so
// verification keeps working after the cost is raised.
type Hasher struct {
	cost int

	// dummyDigest is compared against when no real digest exists, so the
	// login path costs the same whether or not the account is known.
	dummyDigest []byte
}

// NewHasher creates a Hasher with the given bcrypt cost. Costs outside the
// valid bcrypt range fall back to the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	return &Hasher{cost: cost, dummyDigest: dummy}
}

// Hash produces a storable digest of the plaintext. Fails only on entropy
// exhaustion or an unusable cost.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the digest. It never errors: a
// malformed digest is a failed verification. bcrypt's comparison is
// constant time over the hash output.
func (h *Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// VerifyDummy burns a bcrypt comparison against a throwaway digest. Called
// when the account lookup misses, so response timing does not reveal
// whether an email exists.
func (h *Hasher) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyDigest, []byte(plaintext))
}

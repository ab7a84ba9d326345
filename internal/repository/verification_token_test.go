// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdcpepper/authstarter/internal/repository"
	"github.com/mdcpepper/authstarter/internal/testutil"
)

func TestCreateVerificationToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	expiresAt := time.Now().Add(24 * time.Hour)

	err := repo.CreateVerificationToken(ctx, user.ID, "hash-1", expiresAt)
	require.NoError(t, err)

	token, err := repo.GetVerificationToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, token.UserID)
	assert.Nil(t, token.ConsumedAt)
	assert.WithinDuration(t, expiresAt, token.ExpiresAt, time.Second)
}

func TestCreateVerificationToken_SingleActiveToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	expiresAt := time.Now().Add(24 * time.Hour)

	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-1", expiresAt))
	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-2", expiresAt))

	// Issuing a new token invalidates the prior one.
	_, err := repo.GetVerificationToken(ctx, "hash-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetVerificationToken(ctx, "hash-2")
	assert.NoError(t, err)
}

func TestGetVerificationToken_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetVerificationToken(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRedeemVerificationToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-1", time.Now().Add(time.Hour)))

	userID, err := repo.RedeemVerificationToken(ctx, "hash-1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	// Token is consumed and the user is verified, atomically.
	token, err := repo.GetVerificationToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.NotNil(t, token.ConsumedAt)

	verified, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, verified.VerifiedAt)
}

func TestRedeemVerificationToken_Twice(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-1", time.Now().Add(time.Hour)))

	_, err := repo.RedeemVerificationToken(ctx, "hash-1", time.Now())
	require.NoError(t, err)

	_, err = repo.RedeemVerificationToken(ctx, "hash-1", time.Now())
	assert.ErrorIs(t, err, repository.ErrTokenConsumed)
}

func TestRedeemVerificationToken_Concurrent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-1", time.Now().Add(time.Hour)))

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.RedeemVerificationToken(ctx, "hash-1", time.Now())
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, repository.ErrTokenConsumed)
		}
	}

	assert.Equal(t, 1, succeeded)
}

func TestRedeemVerificationToken_Expired(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice@example.com")
	require.NoError(t, repo.CreateVerificationToken(ctx, user.ID, "hash-1", time.Now().Add(time.Hour)))

	_, err := repo.RedeemVerificationToken(ctx, "hash-1", time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, repository.ErrTokenExpired)

	// Expiry does not consume the token and the user stays unverified.
	token, err := repo.GetVerificationToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, token.ConsumedAt)

	unverified, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, unverified.VerifiedAt)
}

func TestRedeemVerificationToken_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.RedeemVerificationToken(context.Background(), "nonexistent", time.Now())

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteExpiredVerificationTokens(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	alice := testutil.NewTestUser(t, repo, "alice@example.com")
	bob := testutil.NewTestUser(t, repo, "bob@example.com")

	require.NoError(t, repo.CreateVerificationToken(ctx, alice.ID, "expired-hash", time.Now().Add(-time.Hour)))
	require.NoError(t, repo.CreateVerificationToken(ctx, bob.ID, "live-hash", time.Now().Add(time.Hour)))

	require.NoError(t, repo.DeleteExpiredVerificationTokens(ctx))

	_, err := repo.GetVerificationToken(ctx, "expired-hash")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetVerificationToken(ctx, "live-hash")
	assert.NoError(t, err)
}

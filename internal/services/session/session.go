// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues signed session cookies after a successful login.
// Session mechanics sit outside the auth core; the orchestrator only hands
// over an authenticated user ID.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/mdcpepper/authstarter/internal/config"
)

// Claims is the payload stored in a session cookie.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	IssuedAt int64     `json:"issued_at"`
}

// Manager creates and validates session cookies.
type Manager struct {
	codec      *securecookie.SecureCookie
	cookieName string
	maxAge     int
	secure     bool
}

// NewManager creates a session manager. An empty hash key generates an
// ephemeral one, which invalidates sessions on restart; fine for
// development, configure a stable key in production.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := keyFromHex(cfg.HashKey, 32)
	if err != nil {
		return nil, fmt.Errorf("session hash key: %w", err)
	}

	var blockKey []byte
	if cfg.BlockKey != "" {
		blockKey, err = keyFromHex(cfg.BlockKey, 32)
		if err != nil {
			return nil, fmt.Errorf("session block key: %w", err)
		}
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(cfg.MaxAge)

	return &Manager{
		codec:      codec,
		cookieName: cfg.CookieName,
		maxAge:     cfg.MaxAge,
		secure:     secure,
	}, nil
}

// Create issues a session cookie for the authenticated user.
func (m *Manager) Create(userID uuid.UUID, email string) (*http.Cookie, error) {
	claims := Claims{
		UserID:   userID,
		Email:    email,
		IssuedAt: time.Now().Unix(),
	}

	encoded, err := m.codec.Encode(m.cookieName, claims)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}

	return &http.Cookie{
		Name:     m.cookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   m.maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Validate decodes and verifies a session cookie.
func (m *Manager) Validate(cookie *http.Cookie) (*Claims, error) {
	var claims Claims
	if err := m.codec.Decode(m.cookieName, cookie.Value, &claims); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &claims, nil
}

// Clear returns an expired cookie that removes the session.
func (m *Manager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func keyFromHex(value string, length int) ([]byte, error) {
	if value == "" {
		key := make([]byte, length)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}

	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(key) != length {
		return nil, fmt.Errorf("expected %d bytes, got %d", length, len(key))
	}
	return key, nil
}

// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mdcpepper/authstarter/internal/services/auth"
	"github.com/mdcpepper/authstarter/internal/services/session"
	"github.com/mdcpepper/authstarter/internal/services/verification"
)

// AuthHandlers contains handlers for registration, login and email
// verification.
type AuthHandlers struct {
	auth     *auth.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(svc *auth.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{
		auth:     svc,
		sessions: sessions,
	}
}

// RegisterRequest is the request body for creating an account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new user account. Duplicate emails are disclosed here
// with a 409; the registrant already knows which address they submitted.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	user, err := h.auth.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		var weak *auth.PasswordValidationError
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid email address"})
		case errors.As(err, &weak):
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  "password does not meet requirements",
				"detail": weak.Messages(),
			})
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": "email address already registered"})
		}
		slog.Error("register_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

// LoginRequest is the request body for authenticating.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user and issues a session cookie. Unknown email
// and wrong password return the identical response.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	user, err := h.auth.Login(c.Request().Context(), req.Email, req.Password, c.RealIP())
	if err != nil {
		var throttled *auth.ThrottledError
		switch {
		case errors.As(err, &throttled):
			retryAfter := int(throttled.RetryAfter.Seconds()) + 1
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "too many attempts",
				"retry_after": retryAfter,
			})
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		}
		slog.Error("login_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	cookie, err := h.sessions.Create(user.ID, user.Email)
	if err != nil {
		slog.Error("session_create_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]any{"user_id": user.ID})
}

// ConfirmEmail redeems a verification token from the mailed link.
func (h *AuthHandlers) ConfirmEmail(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}

	userID, err := h.auth.VerifyEmail(c.Request().Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrExpired):
			return c.JSON(http.StatusGone, map[string]string{"error": "verification link expired"})
		case errors.Is(err, verification.ErrAlreadyConsumed):
			return c.JSON(http.StatusConflict, map[string]string{"error": "verification link already used"})
		case errors.Is(err, verification.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "verification link unknown"})
		}
		slog.Error("confirm_email_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]any{"verified": true, "user_id": userID})
}

// ResendRequest is the request body for re-sending the verification mail.
type ResendRequest struct {
	Email string `json:"email"`
}

// ResendVerification re-issues a verification token. Responds 202 whether
// the email is unknown, pending or already verified, so the endpoint cannot
// probe for accounts.
func (h *AuthHandlers) ResendVerification(c echo.Context) error {
	var req ResendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.auth.ResendVerification(c.Request().Context(), req.Email); err != nil {
		slog.Error("resend_verification_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ChangePasswordRequest is the request body for changing the password of
// the authenticated user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword updates the password of the session's user.
func (h *AuthHandlers) ChangePassword(c echo.Context) error {
	claims, ok := c.Get("session").(*session.Claims)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	err := h.auth.ChangePassword(c.Request().Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var weak *auth.PasswordValidationError
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		case errors.As(err, &weak):
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  "password does not meet requirements",
				"detail": weak.Messages(),
			})
		}
		slog.Error("change_password_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

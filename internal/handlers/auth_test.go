// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mdcpepper/authstarter/internal/config"
	"github.com/mdcpepper/authstarter/internal/handlers"
	"github.com/mdcpepper/authstarter/internal/services/auth"
	"github.com/mdcpepper/authstarter/internal/services/mail"
	"github.com/mdcpepper/authstarter/internal/services/session"
	"github.com/mdcpepper/authstarter/internal/testutil"
)

type fixture struct {
	e        *echo.Echo
	handlers *handlers.AuthHandlers
	auth     *auth.Service
	sessions *session.Manager
	recorder *mail.Recorder
}

func newFixture(t *testing.T, cfg *config.AuthConfig) *fixture {
	t.Helper()

	_, repo := testutil.NewTestDB(t)
	recorder := mail.NewRecorder()
	if cfg == nil {
		cfg = &config.AuthConfig{BcryptCost: bcrypt.MinCost}
	}
	svc := auth.NewService(repo, cfg, recorder, "http://localhost:8080")

	sessions, err := session.NewManager(&config.SessionConfig{
		CookieName: "session",
		MaxAge:     3600,
		HashKey:    strings.Repeat("ab", 32),
	}, false)
	require.NoError(t, err)

	return &fixture{
		e:        echo.New(),
		handlers: handlers.NewAuth(svc, sessions),
		auth:     svc,
		sessions: sessions,
		recorder: recorder,
	}
}

func (f *fixture) register(t *testing.T, email, password string) {
	t.Helper()
	_, err := f.auth.Register(context.Background(), email, password)
	require.NoError(t, err)
}

// latestToken extracts the token from the most recent verification mail.
func (f *fixture) latestToken(t *testing.T) string {
	t.Helper()

	var token string
	require.Eventually(t, func() bool {
		messages := f.recorder.Messages()
		if len(messages) == 0 {
			return false
		}
		_, query, found := strings.Cut(messages[len(messages)-1].VerifyURL, "?token=")
		token = query
		return found
	}, time.Second, 5*time.Millisecond)

	return token
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	return payload
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"email":"alice@example.com","password":"Tr0ub4dor&3"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/users", strings.NewReader(body))

	require.NoError(t, f.handlers.Register(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	payload := decode(t, rec.Body.String())
	assert.Equal(t, "alice@example.com", payload["email"])
	assert.NotEmpty(t, payload["id"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRegisterEndpoint_InvalidEmail(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"email":"nope","password":"Tr0ub4dor&3"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/users", strings.NewReader(body))

	require.NoError(t, f.handlers.Register(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterEndpoint_WeakPassword(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"email":"alice@example.com","password":"password123"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/users", strings.NewReader(body))

	require.NoError(t, f.handlers.Register(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decode(t, rec.Body.String())
	assert.NotEmpty(t, payload["detail"])
}

func TestRegisterEndpoint_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")

	body := `{"email":"alice@example.com","password":"kR8!vmQz#2pl"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/users", strings.NewReader(body))

	require.NoError(t, f.handlers.Register(c))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")

	body := `{"email":"alice@example.com","password":"Tr0ub4dor&3"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))

	require.NoError(t, f.handlers.Login(c))

	assert.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	claims, err := f.sessions.Validate(cookies[0])
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestLoginEndpoint_InvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")

	for _, body := range []string{
		`{"email":"alice@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"wrong"}`,
	} {
		c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		require.NoError(t, f.handlers.Login(c))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestLoginEndpoint_Throttled(t *testing.T) {
	f := newFixture(t, &config.AuthConfig{
		BcryptCost:         bcrypt.MinCost,
		LoginAttemptLimit:  2,
		LoginAttemptWindow: time.Minute,
	})
	f.register(t, "alice@example.com", "Tr0ub4dor&3")

	body := `{"email":"alice@example.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		c, _ := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		require.NoError(t, f.handlers.Login(c))
	}

	c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	require.NoError(t, f.handlers.Login(c))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	payload := decode(t, rec.Body.String())
	assert.Greater(t, payload["retry_after"].(float64), float64(0))
}

func TestConfirmEmailEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")
	token := f.latestToken(t)

	c, rec := testutil.NewEchoContext(f.e, http.MethodGet, "/api/v1/auth/confirm-email?token="+token, nil)
	require.NoError(t, f.handlers.ConfirmEmail(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec.Body.String())
	assert.Equal(t, true, payload["verified"])

	// Reusing the link reports the conflict.
	c, rec = testutil.NewEchoContext(f.e, http.MethodGet, "/api/v1/auth/confirm-email?token="+token, nil)
	require.NoError(t, f.handlers.ConfirmEmail(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmEmailEndpoint_MissingToken(t *testing.T) {
	f := newFixture(t, nil)

	c, rec := testutil.NewEchoContext(f.e, http.MethodGet, "/api/v1/auth/confirm-email", nil)
	require.NoError(t, f.handlers.ConfirmEmail(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmEmailEndpoint_UnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	c, rec := testutil.NewEchoContext(f.e, http.MethodGet, "/api/v1/auth/confirm-email?token=deadbeef", nil)
	require.NoError(t, f.handlers.ConfirmEmail(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResendVerificationEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")
	f.register(t, "bob@example.com", "Tr0ub4dor&3")

	// Verify bob so all three account states are covered below.
	token := f.latestToken(t)
	_, err := f.auth.VerifyEmail(context.Background(), token)
	require.NoError(t, err)

	// Pending, unknown and verified addresses all get the same response.
	for _, body := range []string{
		`{"email":"alice@example.com"}`,
		`{"email":"nobody@example.com"}`,
		`{"email":"bob@example.com"}`,
	} {
		c, rec := testutil.NewEchoContext(f.e, http.MethodPost, "/api/v1/auth/confirm-email/resend", strings.NewReader(body))
		require.NoError(t, f.handlers.ResendVerification(c))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com", "Tr0ub4dor&3")

	user, err := f.auth.Login(context.Background(), "alice@example.com", "Tr0ub4dor&3", "10.0.0.1")
	require.NoError(t, err)

	body := `{"current_password":"Tr0ub4dor&3","new_password":"kR8!vmQz#2pl"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPut, "/api/v1/users/me/password", strings.NewReader(body))
	c.Set("session", &session.Claims{UserID: user.ID, Email: user.Email})

	require.NoError(t, f.handlers.ChangePassword(c))

	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = f.auth.Login(context.Background(), "alice@example.com", "kR8!vmQz#2pl", "10.0.0.2")
	assert.NoError(t, err)
}

func TestChangePasswordEndpoint_NoSession(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"current_password":"a","new_password":"b"}`
	c, rec := testutil.NewEchoContext(f.e, http.MethodPut, "/api/v1/users/me/password", strings.NewReader(body))

	require.NoError(t, f.handlers.ChangePassword(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := handlers.New()
	e := echo.New()

	c, rec := testutil.NewEchoContext(e, http.MethodGet, "/health", nil)
	require.NoError(t, h.Health(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUptimeEndpoint(t *testing.T) {
	h := handlers.New()
	e := echo.New()

	c, rec := testutil.NewEchoContext(e, http.MethodGet, "/api/v1/uptime", nil)
	require.NoError(t, h.Uptime(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec.Body.String())
	assert.GreaterOrEqual(t, payload["uptime_seconds"].(float64), float64(0))
}

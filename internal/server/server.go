// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires the services together and runs the HTTP transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"

	"github.com/mdcpepper/authstarter/internal/config"
	"github.com/mdcpepper/authstarter/internal/database"
	"github.com/mdcpepper/authstarter/internal/handlers"
	"github.com/mdcpepper/authstarter/internal/i18n"
	"github.com/mdcpepper/authstarter/internal/repository"
	"github.com/mdcpepper/authstarter/internal/services/auth"
	"github.com/mdcpepper/authstarter/internal/services/mail"
	"github.com/mdcpepper/authstarter/internal/services/session"
)

const maintenanceInterval = 10 * time.Minute

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(&cfg.Log)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	repo := repository.New(db)

	sender, err := buildSender(&cfg.SMTP)
	if err != nil {
		return fmt.Errorf("failed to set up mail: %w", err)
	}

	authService := auth.NewService(repo, &cfg.Auth, sender, cfg.Server.BaseURL)

	secure := strings.HasPrefix(cfg.Server.BaseURL, "https://")
	sessions, err := session.NewManager(&cfg.Session, secure)
	if err != nil {
		return fmt.Errorf("failed to set up sessions: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e)
	setupRoutes(e, authService, sessions, cfg.Session.CookieName)

	go maintain(ctx, authService)

	return startWithGracefulShutdown(ctx, e, cfg)
}

// buildSender picks the SMTP adapter when configured, otherwise a sender
// that just logs the verification link. Useful for local development.
func buildSender(cfg *config.SMTPConfig) (mail.Sender, error) {
	if cfg.Host == "" {
		slog.Warn("SMTP not configured, verification links are logged instead")
		return mail.LogSender{}, nil
	}
	return mail.NewSMTPSender(cfg)
}

func setupRoutes(e *echo.Echo, authService *auth.Service, sessions *session.Manager, cookieName string) {
	h := handlers.New()
	ah := handlers.NewAuth(authService, sessions)

	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1")
	v1.GET("/uptime", h.Uptime)
	v1.POST("/users", ah.Register)
	v1.POST("/auth/login", ah.Login)
	v1.GET("/auth/confirm-email", ah.ConfirmEmail)
	v1.POST("/auth/confirm-email/resend", ah.ResendVerification)
	v1.PUT("/users/me/password", ah.ChangePassword, requireSession(sessions, cookieName))
}

// maintain periodically prunes rate limit counters and expired tokens.
func maintain(ctx context.Context, authService *auth.Service) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			authService.Maintain(ctx)
		}
	}
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return e.Shutdown(shutdownCtx)
}

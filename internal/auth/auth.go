// Package auth manages console sign-in. Credentials are checked by the
// play-area API; the issued token is kept server-side in a console session
// and the browser only ever holds the session id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSessionTimeout caps a console session when the token carries a later expiry.
const DefaultSessionTimeout = 12 * time.Hour

var (
	// ErrInvalidCredentials is returned when login credentials are rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when the API token cannot be read or verified.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a console session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a console session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Claims are the fields read from the API's access token.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
	jwt.RegisteredClaims
}

// LoginAPI exchanges credentials for an access token.
type LoginAPI interface {
	Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error)
}

// Service handles console sign-in and session lookup.
type Service struct {
	api            LoginAPI
	sessions       storage.ConsoleSessionStore
	jwtSecret      []byte
	sessionTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// NewService creates an authentication service. When jwtSecret is empty the
// token signature is not verified; its claims are still read for expiry and
// role.
func NewService(api LoginAPI, sessions storage.ConsoleSessionStore, jwtSecret string, sessionTimeout time.Duration, logger zerolog.Logger) *Service {
	if sessionTimeout <= 0 {
		sessionTimeout = DefaultSessionTimeout
	}

	return &Service{
		api:            api,
		sessions:       sessions,
		jwtSecret:      []byte(jwtSecret),
		sessionTimeout: sessionTimeout,
		now:            time.Now,
		logger:         logger.With().Str("component", "auth").Logger(),
	}
}

// Login authenticates with the API and opens a console session.
func (s *Service) Login(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		metrics.ConsoleLogins.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) || apiclient.IsStatus(err, http.StatusBadRequest) {
			metrics.ConsoleLogins.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiclient.DetailOf(err, "rejected by server"))
		}
		metrics.ConsoleLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	claims, err := s.ParseToken(resp.AccessToken)
	if err != nil {
		metrics.ConsoleLogins.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.now()
	session := storage.ConsoleSession{
		ID:        uuid.NewString(),
		UserID:    firstNonEmpty(resp.User.UserID, claims.UserID, claims.Subject),
		Email:     firstNonEmpty(resp.User.Email, claims.Email, email),
		Name:      resp.User.Name,
		Role:      strings.ToUpper(firstNonEmpty(resp.User.Role, claims.Role)),
		BranchID:  firstNonEmpty(resp.User.BranchID, claims.BranchID),
		Token:     resp.AccessToken,
		CreatedAt: now,
		ExpiresAt: s.expiry(now, claims, resp.ExpiresAt),
	}

	if err := s.sessions.Put(ctx, session); err != nil {
		metrics.ConsoleLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store session: %w", err)
	}

	metrics.ConsoleLogins.WithLabelValues("ok").Inc()
	s.logger.Info().
		Str("user_id", session.UserID).
		Str("role", session.Role).
		Str("branch", session.BranchID).
		Time("expires_at", session.ExpiresAt).
		Msg("Console session opened")

	return identityFromSession(&session), nil
}

// expiry returns the earliest of the token expiry, the API-reported expiry
// and the configured session timeout.
func (s *Service) expiry(now time.Time, claims *Claims, reported time.Time) time.Time {
	expires := now.Add(s.sessionTimeout)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expires) {
		expires = claims.ExpiresAt.Time
	}
	if !reported.IsZero() && reported.Before(expires) {
		expires = reported
	}
	return expires
}

// ParseToken reads the claims of an API access token. The signature is
// verified when a secret is configured. An expired token is rejected either
// way.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}

	if len(s.jwtSecret) > 0 {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.jwtSecret, nil
		}, jwt.WithTimeFunc(s.now))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrSessionExpired
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !token.Valid {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrSessionExpired
	}

	return claims, nil
}

// Authenticate resolves a console session id into an identity.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (*Identity, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete expired session")
		}
		return nil, ErrSessionExpired
	}

	return identityFromSession(session), nil
}

// Logout closes a console session. Closing an unknown session is not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info().Str("session_id", sessionID).Msg("Console session closed")
	return nil
}

// ActiveSessions returns the number of open console sessions.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.Count(ctx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/storage/memory"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

type fakeLoginAPI struct {
	resp  *apiclient.LoginResponse
	err   error
	calls int
}

func (f *fakeLoginAPI) Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func validClaims(ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		UserID:   "U1",
		Email:    "desk@example.com",
		Role:     "cashier",
		BranchID: "B1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "U1",
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func setupService(t *testing.T, api LoginAPI, secret string) *Service {
	t.Helper()
	store := memory.New(memory.Options{})
	return NewService(api, store.ConsoleSessions(), secret, 12*time.Hour, zerolog.Nop())
}

func TestLogin(t *testing.T) {
	api := &fakeLoginAPI{resp: &apiclient.LoginResponse{
		AccessToken: signToken(t, testSecret, validClaims(time.Hour)),
		User:        apiclient.User{UserID: "U1", Email: "desk@example.com", Name: "Desk One", Role: "CASHIER"},
	}}
	svc := setupService(t, api, testSecret)
	ctx := context.Background()

	id, err := svc.Login(ctx, " desk@example.com ", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if id.SessionID == "" || id.UserID != "U1" || id.Role != "CASHIER" || id.Name != "Desk One" {
		t.Errorf("Unexpected identity %+v", id)
	}
	if id.BranchID != "B1" {
		t.Errorf("Expected branch from token claims, got %q", id.BranchID)
	}
	if id.Token() != api.resp.AccessToken {
		t.Error("Expected API token on identity")
	}
	if until := time.Until(id.ExpiresAt); until > time.Hour || until < 59*time.Minute {
		t.Errorf("Expected expiry from token, got %v", id.ExpiresAt)
	}

	got, err := svc.Authenticate(ctx, id.SessionID)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.UserID != "U1" || got.Token() != id.Token() {
		t.Errorf("Unexpected authenticated identity %+v", got)
	}

	if n, _ := svc.ActiveSessions(ctx); n != 1 {
		t.Errorf("Expected 1 active session, got %d", n)
	}

	if err := svc.Logout(ctx, id.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, id.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestLogin_SessionTimeoutCapsExpiry(t *testing.T) {
	api := &fakeLoginAPI{resp: &apiclient.LoginResponse{
		AccessToken: signToken(t, testSecret, validClaims(48*time.Hour)),
	}}
	svc := setupService(t, api, testSecret)

	id, err := svc.Login(context.Background(), "desk@example.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if time.Until(id.ExpiresAt) > 12*time.Hour {
		t.Errorf("Expected expiry capped at session timeout, got %v", id.ExpiresAt)
	}
	if id.Role != "CASHIER" {
		t.Errorf("Expected role from claims, got %q", id.Role)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name    string
		api     *fakeLoginAPI
		secret  string
		email   string
		wantErr error
		calls   int
	}{
		{
			name:    "empty email",
			api:     &fakeLoginAPI{},
			secret:  testSecret,
			email:   " ",
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "rejected by api",
			api:     &fakeLoginAPI{err: &apiclient.APIError{StatusCode: http.StatusUnauthorized, Detail: "Incorrect email or password"}},
			secret:  testSecret,
			email:   "desk@example.com",
			wantErr: ErrInvalidCredentials,
			calls:   1,
		},
		{
			name: "wrong signature",
			api: &fakeLoginAPI{resp: &apiclient.LoginResponse{
				AccessToken: signToken(t, "other-secret", validClaims(time.Hour)),
			}},
			secret:  testSecret,
			email:   "desk@example.com",
			wantErr: ErrInvalidToken,
			calls:   1,
		},
		{
			name: "expired token",
			api: &fakeLoginAPI{resp: &apiclient.LoginResponse{
				AccessToken: signToken(t, testSecret, validClaims(-time.Minute)),
			}},
			secret:  testSecret,
			email:   "desk@example.com",
			wantErr: ErrSessionExpired,
			calls:   1,
		},
		{
			name: "expired unverified token",
			api: &fakeLoginAPI{resp: &apiclient.LoginResponse{
				AccessToken: signToken(t, "anything", validClaims(-time.Minute)),
			}},
			email:   "desk@example.com",
			wantErr: ErrSessionExpired,
			calls:   1,
		},
		{
			name:    "not a token",
			api:     &fakeLoginAPI{resp: &apiclient.LoginResponse{AccessToken: "opaque"}},
			email:   "desk@example.com",
			wantErr: ErrInvalidToken,
			calls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := setupService(t, tt.api, tt.secret)

			_, err := svc.Login(context.Background(), tt.email, "secret")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.api.calls != tt.calls {
				t.Errorf("Expected %d API calls, got %d", tt.calls, tt.api.calls)
			}
		})
	}
}

func TestLogin_TransportError(t *testing.T) {
	api := &fakeLoginAPI{err: errors.New("connection refused")}
	svc := setupService(t, api, "")

	_, err := svc.Login(context.Background(), "desk@example.com", "secret")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected a transport error, got %v", err)
	}
}

func TestLogin_UnverifiedToken(t *testing.T) {
	api := &fakeLoginAPI{resp: &apiclient.LoginResponse{
		AccessToken: signToken(t, "server-only-secret", validClaims(time.Hour)),
	}}
	svc := setupService(t, api, "")

	id, err := svc.Login(context.Background(), "desk@example.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if id.UserID != "U1" || id.Email != "desk@example.com" {
		t.Errorf("Expected identity from claims, got %+v", id)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	api := &fakeLoginAPI{resp: &apiclient.LoginResponse{
		AccessToken: signToken(t, testSecret, validClaims(time.Hour)),
	}}
	svc := setupService(t, api, testSecret)
	ctx := context.Background()

	id, err := svc.Login(ctx, "desk@example.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Authenticate(ctx, id.SessionID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Authenticate(ctx, id.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected expired session to be removed, got %v", err)
	}

	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for empty id, got %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("Expected no identity on empty context")
	}

	id := &Identity{UserID: "U1", Role: "ADMIN"}
	got, ok := FromContext(WithIdentity(ctx, id))
	if !ok || got != id {
		t.Errorf("Expected identity round trip, got %+v %v", got, ok)
	}
}
